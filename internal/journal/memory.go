package journal

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, build BuildFunc) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tail *Entry
	if n := len(s.entries); n > 0 {
		tail = s.entries[n-1].clone()
	}

	entry, err := build(tail)
	if err != nil {
		return nil, err
	}
	if !extendsTail(tail, entry) {
		return nil, fmt.Errorf("entry %d does not extend tail: %w", entry.SequenceNumber, ErrChainState)
	}

	s.entries = append(s.entries, entry.clone())
	return entry, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, seq int64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if seq < 1 || seq > int64(len(s.entries)) {
		return nil, fmt.Errorf("sequence %d: %w", seq, ErrNotFound)
	}
	return s.entries[seq-1].clone(), nil
}

// Last implements Store.
func (s *MemoryStore) Last(_ context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, ErrNotFound
	}
	return s.entries[len(s.entries)-1].clone(), nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

// Scan implements Store. It iterates over a snapshot taken at call time, so
// fn may call back into the store and concurrent appends are not observed.
func (s *MemoryStore) Scan(ctx context.Context, q Query, fn func(*Entry) error) error {
	s.mu.RLock()
	snapshot := make([]*Entry, len(s.entries))
	copy(snapshot, s.entries)
	s.mu.RUnlock()

	for _, e := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !q.matches(e) {
			continue
		}
		if err := fn(e.clone()); err != nil {
			return err
		}
	}
	return nil
}
