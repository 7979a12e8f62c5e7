package cache

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a mutex-guarded in-process store. It is suitable for
// tests and small single-process deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]*memoryEntry
	byCat    map[string]map[string]struct{} // category -> key strings
	fetchers *fetcherSet
	stats    *statsTracker
	closed   bool
}

type memoryEntry struct {
	value any
	stale bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]*memoryEntry),
		byCat:    make(map[string]map[string]struct{}),
		fetchers: newFetcherSet(),
		stats:    newStatsTracker(),
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key Key) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, ErrStoreClosed
	}

	entry, ok := s.entries[key.String()]
	if !ok || entry.stale {
		s.stats.miss(key.Category)
		return nil, false, nil
	}
	s.stats.hit(key.Category)
	return entry.value, true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key Key, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	s.entries[key.String()] = &memoryEntry{value: value}
	if s.byCat[key.Category] == nil {
		s.byCat[key.Category] = make(map[string]struct{})
	}
	s.byCat[key.Category][key.String()] = struct{}{}
	return nil
}

// Invalidate implements Store. A category key marks every entry of the
// category stale.
func (s *MemoryStore) Invalidate(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if key.IsCategory() {
		for k := range s.byCat[key.Category] {
			if entry, ok := s.entries[k]; ok {
				entry.stale = true
			}
		}
	} else if entry, ok := s.entries[key.String()]; ok {
		entry.stale = true
	}
	s.stats.invalidation(key.Category)
	return nil
}

// Refetch implements Store.
func (s *MemoryStore) Refetch(ctx context.Context, key Key) (any, error) {
	fetch, ok := s.fetchers.lookup(key.Category)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoFetcher, key.Category)
	}

	value, err := fetch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("refetch %s: %w", key, err)
	}

	if err := s.Set(ctx, key, value); err != nil {
		return nil, err
	}
	s.stats.refetch(key.Category)
	return value, nil
}

// RegisterFetcher implements Store.
func (s *MemoryStore) RegisterFetcher(category string, fn Fetcher) {
	s.fetchers.register(category, fn)
}

// Stats implements Store.
func (s *MemoryStore) Stats() map[string]Statistics {
	snapshot := s.stats.snapshot()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for category, keys := range s.byCat {
		st := snapshot[category]
		st.Entries = len(keys)
		snapshot[category] = st
	}
	return snapshot
}

// Len returns the number of cached entries (stale included).
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close implements Store.
func (s *MemoryStore) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	s.byCat = nil
	return nil
}
