// Package store provides persistence for contacts. The Postgres store is the
// production implementation; the in-memory store backs unit tests and dev
// mode. Neither contains merge logic.
//
// Expected schema (provisioning is handled outside this service):
//
//	CREATE TABLE contacts (
//	    id              BIGSERIAL PRIMARY KEY,
//	    email           TEXT,
//	    phone_number    TEXT,
//	    linked_id       BIGINT REFERENCES contacts (id),
//	    link_precedence TEXT NOT NULL CHECK (link_precedence IN ('primary', 'secondary')),
//	    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    deleted_at      TIMESTAMPTZ
//	);
//	CREATE INDEX contacts_email_idx ON contacts (email) WHERE deleted_at IS NULL;
//	CREATE INDEX contacts_phone_idx ON contacts (phone_number) WHERE deleted_at IS NULL;
//	CREATE INDEX contacts_linked_idx ON contacts (linked_id) WHERE deleted_at IS NULL;
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"weld/internal/domain"
	"weld/pkg/platform/sentinel"
	txcontext "weld/pkg/platform/tx"
)

const contactColumns = "id, email, phone_number, linked_id, link_precedence, created_at, updated_at, deleted_at"

// Postgres implements the contact store on a SQL database. Mutations and
// reads run against the transaction carried in context when present, so one
// identify invocation stays inside one transaction.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed contact store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// FindCandidates returns non-deleted contacts matching the given email or
// phone, ordered by (created_at, id). Empty arguments match nothing.
func (s *Postgres) FindCandidates(ctx context.Context, email, phone string) ([]domain.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL
		  AND (email = $1 OR phone_number = $2)
		ORDER BY created_at, id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, nullable(email), nullable(phone))
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	return scanContacts(rows)
}

// GetByID fetches one non-deleted contact.
func (s *Postgres) GetByID(ctx context.Context, id int64) (domain.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE id = $1 AND deleted_at IS NULL
	`
	row := s.execer(ctx).QueryRowContext(ctx, query, id)
	contact, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Contact{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Contact{}, fmt.Errorf("query contact %d: %w", id, err)
	}
	return contact, nil
}

// FindByLinkedTo returns the non-deleted contacts linked to the given id,
// ordered by (created_at, id).
func (s *Postgres) FindByLinkedTo(ctx context.Context, primaryID int64) ([]domain.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE linked_id = $1 AND deleted_at IS NULL
		ORDER BY created_at, id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, primaryID)
	if err != nil {
		return nil, fmt.Errorf("query linked contacts: %w", err)
	}
	defer rows.Close()

	return scanContacts(rows)
}

// Create inserts a contact and returns it with db-assigned id and timestamps.
func (s *Postgres) Create(ctx context.Context, params domain.CreateParams) (domain.Contact, error) {
	query := `
		INSERT INTO contacts (email, phone_number, linked_id, link_precedence)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + contactColumns
	row := s.execer(ctx).QueryRowContext(ctx, query,
		nullable(params.Email),
		nullable(params.Phone),
		params.LinkedID,
		string(params.Precedence),
	)
	contact, err := scanContact(row)
	if err != nil {
		return domain.Contact{}, fmt.Errorf("insert contact: %w", err)
	}
	return contact, nil
}

// DemoteToSecondary rewrites a primary into a secondary of newPrimaryID.
func (s *Postgres) DemoteToSecondary(ctx context.Context, contactID, newPrimaryID int64) error {
	query := `
		UPDATE contacts
		SET link_precedence = 'secondary', linked_id = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, contactID, newPrimaryID)
	if err != nil {
		return fmt.Errorf("demote contact %d: %w", contactID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("demote contact %d: %w", contactID, err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// RelinkChildren repoints every contact linked to oldPrimaryID at
// newPrimaryID. Zero affected rows is fine: the absorbed primary may have had
// no secondaries.
func (s *Postgres) RelinkChildren(ctx context.Context, oldPrimaryID, newPrimaryID int64) error {
	query := `
		UPDATE contacts
		SET linked_id = $2, updated_at = now()
		WHERE linked_id = $1 AND deleted_at IS NULL
	`
	if _, err := s.execer(ctx).ExecContext(ctx, query, oldPrimaryID, newPrimaryID); err != nil {
		return fmt.Errorf("relink children of %d: %w", oldPrimaryID, err)
	}
	return nil
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (domain.Contact, error) {
	var (
		contact domain.Contact
		email   sql.NullString
		phone   sql.NullString
		linked  sql.NullInt64
		prec    string
		deleted sql.NullTime
	)
	err := row.Scan(&contact.ID, &email, &phone, &linked, &prec, &contact.CreatedAt, &contact.UpdatedAt, &deleted)
	if err != nil {
		return domain.Contact{}, err
	}
	if email.Valid {
		contact.Email = &email.String
	}
	if phone.Valid {
		contact.Phone = &phone.String
	}
	if linked.Valid {
		contact.LinkedID = &linked.Int64
	}
	if deleted.Valid {
		contact.DeletedAt = &deleted.Time
	}
	contact.Precedence = domain.Precedence(prec)
	return contact, nil
}

func scanContacts(rows *sql.Rows) ([]domain.Contact, error) {
	var contacts []domain.Contact
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return contacts, nil
}
