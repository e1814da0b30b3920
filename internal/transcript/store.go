package transcript

import (
	"context"
	"errors"
)

// Store persists threads keyed by id.
//
// Implementations return deep copies, serialize Append per thread id and
// wrap backend failures with ErrPersistence.
type Store interface {
	// Load returns the thread or ErrNotFound.
	Load(ctx context.Context, threadID string) (*Thread, error)

	// Create registers an empty thread with all flags false, or returns
	// ErrExists.
	Create(ctx context.Context, threadID string) (*Thread, error)

	// Append validates turns, assigns their sequence numbers and appends them
	// in order. Returns the updated thread.
	Append(ctx context.Context, threadID string, turns ...Turn) (*Thread, error)

	// SaveFlags replaces the thread's flags.
	SaveFlags(ctx context.Context, threadID string, flags Flags) error
}

// LoadOrCreate returns the thread with threadID, creating it on first
// reference.
func LoadOrCreate(ctx context.Context, store Store, threadID string) (*Thread, error) {
	th, err := store.Load(ctx, threadID)
	if err == nil {
		return th, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	th, err = store.Create(ctx, threadID)
	if errors.Is(err, ErrExists) {
		// Lost a create race; the other writer's record is authoritative.
		return store.Load(ctx, threadID)
	}
	return th, err
}
