package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const maxUpdateAttempts = 5

// NATSStore persists each thread as one JSON record in a JetStream
// key-value bucket. Writes use the entry revision for optimistic concurrency,
// so several fleetd processes may share a bucket.
type NATSStore struct {
	kv    nats.KeyValue
	locks KeyedMutex
	now   func() time.Time
}

// record is the persisted layout of a thread.
type record struct {
	Turns     []Turn    `json:"turns"`
	Flags     Flags     `json:"flags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewNATSStore binds to bucket, creating it when missing.
func NewNATSStore(nc *nats.Conn, bucket string) (*NATSStore, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, persistenceErr("jetstream", err)
	}

	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "fleetd conversation threads",
			History:     1,
		})
	}
	if err != nil {
		return nil, persistenceErr("bind bucket "+bucket, err)
	}

	return &NATSStore{kv: kv, now: time.Now}, nil
}

func (s *NATSStore) get(threadID string) (*Thread, uint64, error) {
	entry, err := s.kv.Get(threadID)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, persistenceErr("get", err)
	}

	var rec record
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, 0, persistenceErr("decode", err)
	}
	th := &Thread{
		ID:        threadID,
		Turns:     rec.Turns,
		Flags:     rec.Flags,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if th.Turns == nil {
		th.Turns = []Turn{}
	}
	if err := validateThread(th); err != nil {
		return nil, 0, persistenceErr("corrupt record", err)
	}
	return th, entry.Revision(), nil
}

func encode(th *Thread) ([]byte, error) {
	data, err := json.Marshal(record{
		Turns:     th.Turns,
		Flags:     th.Flags,
		CreatedAt: th.CreatedAt,
		UpdatedAt: th.UpdatedAt,
	})
	if err != nil {
		return nil, persistenceErr("encode", err)
	}
	return data, nil
}

// Load implements Store.
func (s *NATSStore) Load(_ context.Context, threadID string) (*Thread, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}
	th, _, err := s.get(threadID)
	return th, err
}

// Create implements Store.
func (s *NATSStore) Create(_ context.Context, threadID string) (*Thread, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	now := s.now()
	th := &Thread{ID: threadID, Turns: []Turn{}, CreatedAt: now, UpdatedAt: now}
	data, err := encode(th)
	if err != nil {
		return nil, err
	}

	if _, err := s.kv.Create(threadID, data); err != nil {
		if errors.Is(err, nats.ErrKeyExists) {
			return nil, ErrExists
		}
		return nil, persistenceErr("create", err)
	}
	return th, nil
}

// update applies mutate to the latest revision, retrying on write conflicts
// from other processes.
func (s *NATSStore) update(ctx context.Context, threadID string, mutate func(*Thread) error) (*Thread, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}
	if err := s.locks.Lock(ctx, threadID); err != nil {
		return nil, err
	}
	defer s.locks.Unlock(threadID)

	var lastErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		th, rev, err := s.get(threadID)
		if err != nil {
			return nil, err
		}
		if err := mutate(th); err != nil {
			return nil, err
		}
		data, err := encode(th)
		if err != nil {
			return nil, err
		}

		_, err = s.kv.Update(threadID, data, rev)
		if err == nil {
			return th, nil
		}
		if !errors.Is(err, nats.ErrKeyExists) {
			return nil, persistenceErr("update", err)
		}
		lastErr = err
	}
	return nil, persistenceErr(fmt.Sprintf("update conflict after %d attempts", maxUpdateAttempts), lastErr)
}

// Append implements Store.
func (s *NATSStore) Append(ctx context.Context, threadID string, turns ...Turn) (*Thread, error) {
	return s.update(ctx, threadID, func(th *Thread) error {
		return appendTurns(th, s.now(), turns)
	})
}

// SaveFlags implements Store.
func (s *NATSStore) SaveFlags(ctx context.Context, threadID string, flags Flags) error {
	_, err := s.update(ctx, threadID, func(th *Thread) error {
		th.Flags = flags
		th.UpdatedAt = s.now()
		return nil
	})
	return err
}
