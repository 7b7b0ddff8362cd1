// Package planstore holds the interfaces and error taxonomy shared by the
// document store, its collections, the event log and the session store.
package planstore

import "errors"

var (
	// ErrNotFound reports a missing document or record id. It is a normal
	// negative result, not a failure.
	ErrNotFound = errors.New("not found")

	// ErrConflict reports a create for an id that already exists.
	ErrConflict = errors.New("already exists")

	// ErrLockUnavailable reports that the cross-process lock could not be
	// acquired within its retry budget.
	ErrLockUnavailable = errors.New("lock unavailable")

	// ErrCorrupt reports a document that cannot be parsed and has no usable
	// backup.
	ErrCorrupt = errors.New("document corrupt")

	// ErrSaveFailed is the generic failure surfaced to callers when a write
	// could not be completed. The underlying cause is wrapped alongside it.
	ErrSaveFailed = errors.New("save failed")
)
