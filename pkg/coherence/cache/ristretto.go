package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	rc "github.com/dgraph-io/ristretto"
)

// RistrettoConfig configures the ristretto-backed store.
type RistrettoConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

// DefaultRistrettoConfig is sized for a client-side entity cache.
var DefaultRistrettoConfig = RistrettoConfig{
	NumCounters: 1e6,
	MaxCost:     64 << 20,
	BufferItems: 64,
}

// RistrettoStore backs the Store interface with a ristretto cache.
//
// Ristretto cannot enumerate its keys, so the store keeps a per-category
// key index to support category-level invalidation; invalidation is a
// delete, which forces the next read to miss and refetch.
type RistrettoStore struct {
	c        *rc.Cache
	mu       sync.Mutex
	byCat    map[string]map[string]struct{}
	fetchers *fetcherSet
	stats    *statsTracker
}

// NewRistrettoStore creates a ristretto-backed store.
func NewRistrettoStore(cfg RistrettoConfig) (*RistrettoStore, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("cache: invalid ristretto config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoStore{
		c:        c,
		byCat:    make(map[string]map[string]struct{}),
		fetchers: newFetcherSet(),
		stats:    newStatsTracker(),
	}, nil
}

// Get implements Store.
func (s *RistrettoStore) Get(_ context.Context, key Key) (any, bool, error) {
	v, ok := s.c.Get(key.String())
	if !ok {
		s.stats.miss(key.Category)
		return nil, false, nil
	}
	s.stats.hit(key.Category)
	return v, true, nil
}

// Set implements Store.
func (s *RistrettoStore) Set(_ context.Context, key Key, value any) error {
	// Unit cost: entity payloads are small; eviction pressure comes
	// from entry count, not byte size
	s.c.Set(key.String(), value, 1)
	s.c.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byCat[key.Category] == nil {
		s.byCat[key.Category] = make(map[string]struct{})
	}
	s.byCat[key.Category][key.String()] = struct{}{}
	return nil
}

// Invalidate implements Store.
func (s *RistrettoStore) Invalidate(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key.IsCategory() {
		for k := range s.byCat[key.Category] {
			s.c.Del(k)
		}
		delete(s.byCat, key.Category)
	} else {
		s.c.Del(key.String())
		if keys, ok := s.byCat[key.Category]; ok {
			delete(keys, key.String())
		}
	}
	s.stats.invalidation(key.Category)
	return nil
}

// Refetch implements Store.
func (s *RistrettoStore) Refetch(ctx context.Context, key Key) (any, error) {
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
func (s *RistrettoStore) RegisterFetcher(category string, fn Fetcher) {
	s.fetchers.register(category, fn)
}

// Stats implements Store.
func (s *RistrettoStore) Stats() map[string]Statistics {
	snapshot := s.stats.snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	for category, keys := range s.byCat {
		st := snapshot[category]
		st.Entries = len(keys)
		snapshot[category] = st
	}
	return snapshot
}

// Close implements Store.
func (s *RistrettoStore) Close(_ context.Context) error {
	s.c.Wait()
	s.c.Close()
	return nil
}
