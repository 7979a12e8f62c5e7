// Package cache defines the key-addressed store surface the coordination
// layer issues commands against, plus reference backends.
//
// The coordination engine never owns business data: it only asks a Store
// to get, set, invalidate, or refetch values. Keys are hierarchical - a
// bare category addresses the cached collection for that entity class,
// category+id addresses a single entity.
//
// Implementations must be safe for concurrent use and must serialize
// same-key writes; the engine relies on that instead of locking.
package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrNoFetcher is returned by Refetch when no fetcher is registered for
// the key's category.
var ErrNoFetcher = errors.New("cache: no fetcher registered for category")

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("cache: store is closed")

// Key addresses a cached value. A zero ID addresses the category-level
// collection.
type Key struct {
	Category string
	ID       string
}

// CategoryKey returns the key for a category's cached collection.
func CategoryKey(category string) Key {
	return Key{Category: category}
}

// EntityKey returns the key for a single cached entity.
func EntityKey(category, id string) Key {
	return Key{Category: category, ID: id}
}

// ParseKey parses "category" or "category:id" notation.
func ParseKey(s string) Key {
	category, id, _ := strings.Cut(s, ":")
	return Key{Category: category, ID: id}
}

// String returns the "category" or "category:id" notation.
func (k Key) String() string {
	if k.ID == "" {
		return k.Category
	}
	return k.Category + ":" + k.ID
}

// IsCategory reports whether the key addresses a whole category.
func (k Key) IsCategory() bool {
	return k.ID == ""
}

// Fetcher loads the authoritative value for a key from the remote data
// source. Fetchers are registered per category.
type Fetcher func(ctx context.Context, key Key) (any, error)

// Statistics is an observational per-category snapshot.
type Statistics struct {
	Hits          int64     `json:"hits"`
	Misses        int64     `json:"misses"`
	Invalidations int64     `json:"invalidations"`
	Refetches     int64     `json:"refetches"`
	Entries       int       `json:"entries"`
	LastAccessed  time.Time `json:"last_accessed,omitempty"`
}

// Store is a key-addressed cache the coordination layer issues commands
// to.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) when the
	// key is missing or stale.
	Get(ctx context.Context, key Key) (any, bool, error)

	// Set stores a value, clearing any stale mark.
	Set(ctx context.Context, key Key, value any) error

	// Invalidate marks a key stale, forcing the next read to miss.
	// A category key invalidates every entry in the category.
	Invalidate(ctx context.Context, key Key) error

	// Refetch loads the authoritative value through the registered
	// fetcher, stores it, and returns it.
	Refetch(ctx context.Context, key Key) (any, error)

	// RegisterFetcher sets the fetcher backing Refetch for a category.
	RegisterFetcher(category string, fn Fetcher)

	// Stats returns per-category statistics.
	Stats() map[string]Statistics

	// Close releases resources.
	Close(ctx context.Context) error
}

// statsTracker accumulates per-category counters shared by the store
// implementations.
type statsTracker struct {
	mu    sync.Mutex
	stats map[string]*Statistics
}

func newStatsTracker() *statsTracker {
	return &statsTracker{stats: make(map[string]*Statistics)}
}

func (t *statsTracker) forCategory(category string) *Statistics {
	s, ok := t.stats[category]
	if !ok {
		s = &Statistics{}
		t.stats[category] = s
	}
	return s
}

func (t *statsTracker) hit(category string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.forCategory(category)
	s.Hits++
	s.LastAccessed = time.Now()
}

func (t *statsTracker) miss(category string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.forCategory(category)
	s.Misses++
	s.LastAccessed = time.Now()
}

func (t *statsTracker) invalidation(category string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.forCategory(category).Invalidations++
}

func (t *statsTracker) refetch(category string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.forCategory(category).Refetches++
}

// snapshot copies the counters; entry counts are filled in by the store.
func (t *statsTracker) snapshot() map[string]Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Statistics, len(t.stats))
	for category, s := range t.stats {
		out[category] = *s
	}
	return out
}

// prune drops counters for categories idle since the cutoff.
func (t *statsTracker) prune(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for category, s := range t.stats {
		if !s.LastAccessed.IsZero() && s.LastAccessed.Before(cutoff) {
			delete(t.stats, category)
			removed++
		}
	}
	return removed
}

// fetcherSet is the shared fetcher registry for store implementations.
type fetcherSet struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

func newFetcherSet() *fetcherSet {
	return &fetcherSet{fetchers: make(map[string]Fetcher)}
}

func (f *fetcherSet) register(category string, fn Fetcher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchers[category] = fn
}

func (f *fetcherSet) lookup(category string) (Fetcher, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	fn, ok := f.fetchers[category]
	return fn, ok
}
