package transcript

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps threads in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*Thread
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string]*Thread),
		now:     time.Now,
	}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, threadID string) (*Thread, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	th, ok := s.threads[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	return th.Clone(), nil
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, threadID string) (*Thread, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[threadID]; ok {
		return nil, ErrExists
	}
	now := s.now()
	th := &Thread{ID: threadID, Turns: []Turn{}, CreatedAt: now, UpdatedAt: now}
	s.threads[threadID] = th
	return th.Clone(), nil
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, threadID string, turns ...Turn) (*Thread, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[threadID]
	if !ok {
		return nil, ErrNotFound
	}

	next := th.Clone()
	if err := appendTurns(next, s.now(), turns); err != nil {
		return nil, err
	}
	s.threads[threadID] = next
	return next.Clone(), nil
}

// SaveFlags implements Store.
func (s *MemoryStore) SaveFlags(_ context.Context, threadID string, flags Flags) error {
	if err := ValidateThreadID(threadID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[threadID]
	if !ok {
		return ErrNotFound
	}
	th.Flags = flags
	th.UpdatedAt = s.now()
	return nil
}

// Len returns the number of threads.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}
