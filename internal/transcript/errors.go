package transcript

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a thread id has no record.
	ErrNotFound = errors.New("thread not found")

	// ErrExists is returned by Create for an id that already has a record.
	ErrExists = errors.New("thread already exists")

	// ErrInvalidThreadID is returned for ids that are empty, too long or
	// contain characters outside [A-Za-z0-9_-].
	ErrInvalidThreadID = errors.New("invalid thread id")

	// ErrInvalidTurn is returned for turns whose shape does not match their role.
	ErrInvalidTurn = errors.New("invalid turn")

	// ErrPersistence wraps failures of the storage backend.
	ErrPersistence = errors.New("transcript persistence failure")
)

// ValidationError describes which field of a turn was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid turn: %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidTurn.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidTurn
}

func invalidTurn(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func persistenceErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
