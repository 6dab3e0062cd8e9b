package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and lock providers return
// these (optionally wrapped) so services can translate them into domain
// errors with the right code.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: row does not exist in the store
// - ErrConflict: unique or state conflict that is not retryable
// - ErrSerialization: transaction aborted by the database to preserve
//   isolation; safe to retry the whole invocation
// - ErrLockHeld: advisory lock for a key is held by another invocation
// - ErrUnavailable: backing service unreachable
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrSerialization = errors.New("serialization conflict")
	ErrLockHeld      = errors.New("lock held")
	ErrUnavailable   = errors.New("unavailable")
)
