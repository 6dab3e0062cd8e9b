// Package pgtx runs identify invocations inside serializable Postgres
// transactions. It lives apart from the store so the store stays free of
// engine types and the engine's tests can use the store as a fake.
package pgtx

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"weld/internal/reconcile/metrics"
	"weld/internal/reconcile/service"
	"weld/internal/reconcile/store"
	dErrors "weld/pkg/domain-errors"
	"weld/pkg/platform/sentinel"
	txcontext "weld/pkg/platform/tx"
)

const defaultIdentifyTxTimeout = 5 * time.Second

// Serializable runs each identify invocation in one serializable transaction
// over the Postgres store. Postgres aborts one of two overlapping invocations
// with a serialization failure; those are retried whole, a bounded number of
// times, before surfacing as a transient error. Lock keys are unused:
// isolation comes from the database, so disjoint invocations parallelize
// freely.
type Serializable struct {
	db      *sql.DB
	store   *store.Postgres
	metrics *metrics.Metrics
	retries int
	timeout time.Duration
}

// NewSerializable builds the Postgres transaction strategy. metrics may be
// nil; retries bounds how often a serialization conflict is retried before
// giving up.
func NewSerializable(db *sql.DB, m *metrics.Metrics, retries int, timeout time.Duration) *Serializable {
	return &Serializable{db: db, store: store.NewPostgres(db), metrics: m, retries: retries, timeout: timeout}
}

func (t *Serializable) RunInTx(ctx context.Context, _ service.LockKeys, fn func(ctx context.Context, store service.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "identify aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultIdentifyTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt <= t.retries; attempt++ {
		err := t.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
		t.metrics.IncrementTxRetry()
	}
	return dErrors.Wrap(lastErr, dErrors.CodeUnavailable, "identify aborted after serialization retries")
}

func (t *Serializable) runOnce(ctx context.Context, fn func(ctx context.Context, store service.Store) error) error {
	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx), t.store); err != nil {
		return err
	}

	return tx.Commit()
}

// isSerializationFailure matches the SQLSTATEs Postgres uses when it aborts a
// transaction to preserve isolation: 40001 serialization_failure and 40P01
// deadlock_detected. Stores may also signal a retryable abort with
// sentinel.ErrSerialization.
func isSerializationFailure(err error) bool {
	if errors.Is(err, sentinel.ErrSerialization) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
