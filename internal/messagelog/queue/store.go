package queue

import (
	"context"
	"sync"
)

// PendingStore keeps the IDs of message records waiting for a timestamp in
// FIFO order. Pushing an ID that is already queued is a no-op.
type PendingStore interface {
	Push(ctx context.Context, id int64) error
	// Peek returns up to limit IDs, oldest first. A limit of 0 returns all.
	Peek(ctx context.Context, limit int) ([]int64, error)
	Remove(ctx context.Context, ids []int64) error
	Len(ctx context.Context) (int, error)
}

// MemoryStore is a process-local PendingStore.
type MemoryStore struct {
	mu      sync.Mutex
	ids     []int64
	present map[int64]struct{}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{present: make(map[int64]struct{})}
}

func (s *MemoryStore) Push(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.present[id]; ok {
		return nil
	}
	s.present[id] = struct{}{}
	s.ids = append(s.ids, id)
	return nil
}

func (s *MemoryStore) Peek(_ context.Context, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.ids)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]int64, n)
	copy(out, s.ids[:n])
	return out, nil
}

func (s *MemoryStore) Remove(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.present[id]; ok {
			drop[id] = struct{}{}
			delete(s.present, id)
		}
	}
	if len(drop) == 0 {
		return nil
	}
	kept := s.ids[:0]
	for _, id := range s.ids {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	s.ids = kept
	return nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids), nil
}
