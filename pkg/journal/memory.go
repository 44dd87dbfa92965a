package journal

import (
	"bytes"
	"context"
	"slices"
	"sync"
)

// Compile-time assertion that MemStore satisfies Store.
var _ Store = (*MemStore)(nil)

// defaultCapacity bounds a MemStore created with a non-positive capacity.
const defaultCapacity = 10000

// MemStore keeps the most recent entries in memory. Once full, the oldest
// entry is dropped on every Append.
type MemStore struct {
	mu      sync.RWMutex
	entries []Entry
	cap     int
	nextID  int64
}

// NewMemStore returns a MemStore holding at most capacity entries.
func NewMemStore(capacity int) *MemStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &MemStore{cap: capacity}
}

// Append implements [Store.Append].
func (s *MemStore) Append(ctx context.Context, e Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	e.Payload = bytes.Clone(e.Payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	if len(s.entries) == s.cap {
		s.entries = append(s.entries[:0], s.entries[1:]...)
	}
	s.entries = append(s.entries, e)
	return e, nil
}

// Recent implements [Store.Recent].
func (s *MemStore) Recent(ctx context.Context, q Query) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q = q.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < q.Limit; i-- {
		e := s.entries[i]
		if q.StreamID != "" && e.StreamID != q.StreamID {
			continue
		}
		e.Payload = bytes.Clone(e.Payload)
		out = append(out, e)
	}
	// Collected newest first.
	slices.Reverse(out)
	if out == nil {
		out = []Entry{}
	}
	return out, nil
}

// Len returns the number of entries held.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
