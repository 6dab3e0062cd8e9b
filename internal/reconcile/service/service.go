// Package service implements the consolidation engine: given one observed
// (email, phone) pair it decides whether the observation extends an existing
// identity cluster, bridges several clusters into one, or starts a new one.
package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"weld/internal/audit"
	"weld/internal/domain"
	"weld/internal/reconcile/cluster"
	"weld/internal/reconcile/metrics"
	dErrors "weld/pkg/domain-errors"
)

// Identify outcomes, used for metrics and tracing.
const (
	OutcomeCreatedPrimary   = "created_primary"
	OutcomeCreatedSecondary = "created_secondary"
	OutcomeMerged           = "merged"
	OutcomeNoop             = "noop"
	OutcomeError            = "error"
)

// Store is the persistence contract the engine requires. All mutations issued
// through it within one invocation run inside the invocation's transaction.
type Store interface {
	FindCandidates(ctx context.Context, email, phone string) ([]domain.Contact, error)
	GetByID(ctx context.Context, id int64) (domain.Contact, error)
	FindByLinkedTo(ctx context.Context, primaryID int64) ([]domain.Contact, error)
	Create(ctx context.Context, params domain.CreateParams) (domain.Contact, error)
	DemoteToSecondary(ctx context.Context, contactID, newPrimaryID int64) error
	RelinkChildren(ctx context.Context, oldPrimaryID, newPrimaryID int64) error
}

// LockKeys carries the normalized contact values an invocation touches, for
// strategies that lock per key instead of relying on database isolation.
type LockKeys struct {
	Email string
	Phone string
}

// TxStrategy executes fn so that it is serializable with respect to any other
// invocation whose candidate set intersects this one's. The context passed to
// fn may carry a database transaction; stores must honor it. Invocations with
// disjoint keys proceed in parallel.
type TxStrategy interface {
	RunInTx(ctx context.Context, keys LockKeys, fn func(ctx context.Context, store Store) error) error
}

// Service is the consolidation engine.
type Service struct {
	tx      TxStrategy
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   audit.Publisher
}

// New creates the engine. metrics may be nil (its methods are nil-safe);
// publisher may be nil to disable audit events.
func New(tx TxStrategy, logger *slog.Logger, m *metrics.Metrics, publisher audit.Publisher) *Service {
	if publisher == nil {
		publisher = audit.Nop{}
	}
	return &Service{tx: tx, logger: logger, metrics: m, audit: publisher}
}

type identifyResult struct {
	view    domain.ConsolidatedContact
	outcome string
	events  []audit.Event
}

// Identify reconciles one observation and returns the consolidated view of
// the cluster it landed in. At least one of email/phone must be non-blank;
// values are normalized before matching.
func (s *Service) Identify(ctx context.Context, email, phone string) (domain.ConsolidatedContact, error) {
	start := time.Now()
	email = domain.NormalizeEmail(email)
	phone = domain.NormalizePhone(phone)

	ctx, span := otel.Tracer("weld/reconcile").Start(ctx, "reconcile.identify")
	defer span.End()

	if email == "" && phone == "" {
		s.metrics.IncrementOutcome(OutcomeError)
		return domain.ConsolidatedContact{}, dErrors.New(dErrors.CodeValidation, "at least one of email or phoneNumber is required")
	}

	var res identifyResult
	err := s.tx.RunInTx(ctx, LockKeys{Email: email, Phone: phone}, func(ctx context.Context, store Store) error {
		var err error
		res, err = s.identify(ctx, store, email, phone)
		return err
	})
	if err != nil {
		s.metrics.IncrementOutcome(OutcomeError)
		span.SetAttributes(attribute.String("reconcile.outcome", OutcomeError))
		if !dErrors.Coded(err) {
			// Uncoded failures at this point are store/transport facts, not
			// engine bugs; surface them as transient.
			return domain.ConsolidatedContact{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "identify failed")
		}
		return domain.ConsolidatedContact{}, err
	}

	span.SetAttributes(attribute.String("reconcile.outcome", res.outcome))
	s.metrics.IncrementOutcome(res.outcome)
	s.metrics.ObserveIdentifyLatency(time.Since(start))

	// Events describe committed state only, so they are emitted after the
	// transaction closes.
	for _, event := range res.events {
		s.audit.Emit(ctx, event)
	}

	return res.view, nil
}

func (s *Service) identify(ctx context.Context, store Store, email, phone string) (identifyResult, error) {
	var res identifyResult

	candidates, err := store.FindCandidates(ctx, email, phone)
	if err != nil {
		return res, err
	}

	if len(candidates) == 0 {
		created, err := store.Create(ctx, domain.CreateParams{
			Email:      email,
			Phone:      phone,
			Precedence: domain.PrecedencePrimary,
		})
		if err != nil {
			return res, err
		}
		res.view = BuildView([]domain.Contact{created})
		res.outcome = OutcomeCreatedPrimary
		res.events = append(res.events, audit.ContactCreated(created.ID, created.ID))
		return res, nil
	}

	primaryIDs, err := owningPrimaryIDs(candidates)
	if err != nil {
		return res, err
	}
	if len(primaryIDs) == 0 {
		return res, dErrors.New(dErrors.CodeInvariantViolation, "candidates resolved to no owning primary")
	}

	res.outcome = OutcomeNoop
	primaryID := primaryIDs[0]
	if len(primaryIDs) > 1 {
		survivorID, absorbedIDs, err := s.merge(ctx, store, primaryIDs)
		if err != nil {
			return res, err
		}
		primaryID = survivorID
		res.outcome = OutcomeMerged
		res.events = append(res.events, audit.ClusterMerged(survivorID, absorbedIDs))
		s.metrics.ObserveMergeWidth(len(absorbedIDs))
		s.logger.InfoContext(ctx, "clusters merged",
			"survivor_id", survivorID,
			"absorbed_ids", absorbedIDs,
		)
	}

	members, err := cluster.New(store).Materialize(ctx, primaryID)
	if err != nil {
		return res, err
	}

	if hasNewInformation(members, email, phone) {
		secondary, err := store.Create(ctx, domain.CreateParams{
			Email:      email,
			Phone:      phone,
			LinkedID:   &primaryID,
			Precedence: domain.PrecedenceSecondary,
		})
		if err != nil {
			return res, err
		}
		// The new row is the youngest member with the largest id, so
		// appending preserves (created_at, id) order.
		members = append(members, secondary)
		res.events = append(res.events, audit.ContactCreated(primaryID, secondary.ID))
		// A merge that also records a new value still reports as a merge.
		if res.outcome == OutcomeNoop {
			res.outcome = OutcomeCreatedSecondary
		}
	}

	res.view = BuildView(members)
	return res, nil
}

// merge demotes every absorbed primary under the oldest one and repoints
// their secondaries, keeping the flat star topology.
func (s *Service) merge(ctx context.Context, store Store, primaryIDs []int64) (int64, []int64, error) {
	primaries := make([]domain.Contact, 0, len(primaryIDs))
	for _, id := range primaryIDs {
		p, err := store.GetByID(ctx, id)
		if err != nil {
			return 0, nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "candidate links to missing primary")
		}
		if !p.IsPrimary() {
			return 0, nil, dErrors.New(dErrors.CodeInvariantViolation, "candidate link does not point at a primary")
		}
		primaries = append(primaries, p)
	}

	sortByAge(primaries)
	survivor := primaries[0]

	absorbedIDs := make([]int64, 0, len(primaries)-1)
	for _, absorbed := range primaries[1:] {
		if err := store.RelinkChildren(ctx, absorbed.ID, survivor.ID); err != nil {
			return 0, nil, err
		}
		if err := store.DemoteToSecondary(ctx, absorbed.ID, survivor.ID); err != nil {
			return 0, nil, err
		}
		absorbedIDs = append(absorbedIDs, absorbed.ID)
	}
	return survivor.ID, absorbedIDs, nil
}

// owningPrimaryIDs resolves each candidate to its owning primary and returns
// the distinct ids in candidate order.
func owningPrimaryIDs(candidates []domain.Contact) ([]int64, error) {
	seen := make(map[int64]struct{}, len(candidates))
	ids := make([]int64, 0, len(candidates))
	for _, c := range candidates {
		id, ok := c.OwningPrimaryID()
		if !ok {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "secondary contact has no link")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// hasNewInformation reports whether the observation carries an email or phone
// absent from the cluster.
func hasNewInformation(members []domain.Contact, email, phone string) bool {
	emailKnown, phoneKnown := email == "", phone == ""
	for _, m := range members {
		if !emailKnown && m.EmailValue() == email {
			emailKnown = true
		}
		if !phoneKnown && m.PhoneValue() == phone {
			phoneKnown = true
		}
		if emailKnown && phoneKnown {
			return false
		}
	}
	return !emailKnown || !phoneKnown
}

func sortByAge(contacts []domain.Contact) {
	sort.Slice(contacts, func(i, j int) bool {
		return domain.Less(contacts[i], contacts[j])
	})
}
