package domain

import "errors"

var (
	// ErrInvalidArgument rejects malformed input before any mutation.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound marks references to unknown users, tasks or reminders.
	ErrNotFound = errors.New("not found")
	// ErrInternal wraps storage failures.
	ErrInternal = errors.New("internal error")
	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// Status classes reported on the wire.
const (
	StatusInvalidInput = "invalid-input"
	StatusNotFound     = "not-found"
	StatusInternal     = "internal"
)

// StatusClass maps an error onto its wire status class.
func StatusClass(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return StatusInvalidInput
	case errors.Is(err, ErrNotFound):
		return StatusNotFound
	default:
		return StatusInternal
	}
}
