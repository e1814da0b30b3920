package transcript

import (
	"context"
	"sync"
)

// KeyedMutex serializes work per key. Different keys never block each other.
// Lock honours context cancellation while waiting.
type KeyedMutex struct {
	slots sync.Map // key -> chan struct{}
}

func (m *KeyedMutex) slot(key string) chan struct{} {
	if v, ok := m.slots.Load(key); ok {
		return v.(chan struct{})
	}
	ch := make(chan struct{}, 1)
	ch <- struct{}{}
	v, _ := m.slots.LoadOrStore(key, ch)
	return v.(chan struct{})
}

// Lock acquires key. It returns ctx.Err() if ctx ends first.
func (m *KeyedMutex) Lock(ctx context.Context, key string) error {
	select {
	case <-m.slot(key):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases key. It must follow a successful Lock.
func (m *KeyedMutex) Unlock(key string) {
	m.slot(key) <- struct{}{}
}
