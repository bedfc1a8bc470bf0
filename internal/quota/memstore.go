package quota

import (
	"context"
	"sync"
)

type memEntry struct {
	window string
	count  int
}

// MemStore is a process-local counter store. An entry whose stored window
// no longer matches the current one is reset in place, so stale days never
// need sweeping.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
}

func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]*memEntry)}
}

// IncrBelow increments the counter for key within w unless the count has
// already reached limit. Check and increment happen under one lock; two
// concurrent callers at limit-1 can never both pass.
func (s *MemStore) IncrBelow(ctx context.Context, key string, limit int, w Window) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.window != w.Key() {
		e = &memEntry{window: w.Key()}
		s.entries[key] = e
	}
	if e.count >= limit {
		return e.count, false, nil
	}
	e.count++
	return e.count, true, nil
}
