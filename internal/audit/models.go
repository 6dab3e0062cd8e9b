// Package audit records identity mutations for downstream consumers. Events
// are emitted after the owning transaction commits; consumers must treat the
// stream as best-effort, not as the source of truth.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Actions emitted by the reconcile engine.
const (
	ActionContactCreated = "contact.created"
	ActionClusterMerged  = "cluster.merged"
)

// Event describes one identity mutation.
type Event struct {
	ID          uuid.UUID `json:"id"`
	Action      string    `json:"action"`
	Timestamp   time.Time `json:"timestamp"`
	PrimaryID   int64     `json:"primaryId"`
	ContactID   int64     `json:"contactId,omitempty"`
	AbsorbedIDs []int64   `json:"absorbedIds,omitempty"`
}

// ContactCreated builds the event for a newly created contact (primary or
// secondary) in the cluster anchored by primaryID.
func ContactCreated(primaryID, contactID int64) Event {
	return Event{
		ID:        uuid.New(),
		Action:    ActionContactCreated,
		Timestamp: time.Now(),
		PrimaryID: primaryID,
		ContactID: contactID,
	}
}

// ClusterMerged builds the event for a merge that absorbed one or more
// primaries into the surviving one.
func ClusterMerged(survivorID int64, absorbedIDs []int64) Event {
	return Event{
		ID:          uuid.New(),
		Action:      ActionClusterMerged,
		Timestamp:   time.Now(),
		PrimaryID:   survivorID,
		AbsorbedIDs: absorbedIDs,
	}
}
