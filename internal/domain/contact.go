// Package domain holds the contact entity and the pure rules that order and
// project clusters. Nothing here touches storage or transport.
package domain

import (
	"strings"
	"time"
)

// Precedence marks a contact as the anchor of its cluster or as a member
// merged into one.
type Precedence string

const (
	PrecedencePrimary   Precedence = "primary"
	PrecedenceSecondary Precedence = "secondary"
)

// Contact is the only persisted entity. A contact belongs to exactly one
// cluster: primaries anchor a cluster, secondaries carry a LinkedID pointing
// at their primary (never at another secondary).
type Contact struct {
	ID         int64
	Email      *string
	Phone      *string
	LinkedID   *int64
	Precedence Precedence
	CreatedAt  time.Time
	UpdatedAt  time.Time
	// DeletedAt is reserved for a future retention policy. Nothing in this
	// service ever sets it; queries filter on it being unset.
	DeletedAt *time.Time
}

// IsPrimary reports whether the contact anchors its cluster.
func (c Contact) IsPrimary() bool {
	return c.Precedence == PrecedencePrimary
}

// OwningPrimaryID resolves the id of the primary that owns this contact:
// itself when primary, its link otherwise. Returns false for a secondary
// with no link, which indicates corrupted data.
func (c Contact) OwningPrimaryID() (int64, bool) {
	if c.IsPrimary() {
		return c.ID, true
	}
	if c.LinkedID == nil {
		return 0, false
	}
	return *c.LinkedID, true
}

// EmailValue returns the email or "" when unset.
func (c Contact) EmailValue() string {
	if c.Email == nil {
		return ""
	}
	return *c.Email
}

// PhoneValue returns the phone number or "" when unset.
func (c Contact) PhoneValue() string {
	if c.Phone == nil {
		return ""
	}
	return *c.Phone
}

// Less orders contacts by (CreatedAt, ID) ascending. The id tie-break keeps
// ordering deterministic when two rows share a creation timestamp.
func Less(a, b Contact) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// CreateParams carries the fields for a new contact. Empty email/phone mean
// absent and are stored as NULL.
type CreateParams struct {
	Email      string
	Phone      string
	LinkedID   *int64
	Precedence Precedence
}

// NormalizeEmail canonicalizes an email for storage, matching, and lock
// keying. Empty means absent.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone canonicalizes a phone number. Empty means absent.
func NormalizePhone(phone string) string {
	return strings.TrimSpace(phone)
}
