// Package optimistic applies tentative cache state before a remote
// operation resolves, committing the authoritative result on success
// and restoring the captured snapshot on failure.
//
// Snapshots are restored exactly, never recomputed: a caller observing
// a rolled-back key sees the pre-update value (or absence), not a
// partial mutation. Overlapping updates for the same key are the
// caller's responsibility; the coordinator does not queue them.
package optimistic

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/storekeep/coherence/pkg/coherence/cache"
)

// snapshot is the pre-update state captured for rollback, including
// whether the key existed at all.
type snapshot struct {
	value   any
	existed bool
	takenAt time.Time
}

// Coordinator tracks in-flight optimistic updates over one store.
type Coordinator struct {
	store  cache.Store
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]snapshot
}

// New creates a coordinator over the given store.
func New(store cache.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:   store,
		logger:  logger,
		pending: make(map[string]snapshot),
	}
}

// Apply captures the current value under key, writes the tentative
// value immediately, then awaits op.
//
// On success the cache is overwritten with the authoritative result and
// the snapshot discarded. On failure the exact snapshot is restored -
// absence included - and the original error is returned unchanged;
// callers never see a silently corrected value.
func (c *Coordinator) Apply(ctx context.Context, key cache.Key, tentative any, op func(ctx context.Context) (any, error)) (any, error) {
	current, existed, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	snap := snapshot{value: current, existed: existed, takenAt: time.Now()}
	c.mu.Lock()
	c.pending[key.String()] = snap
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, key.String())
		c.mu.Unlock()
	}()

	if err := c.store.Set(ctx, key, tentative); err != nil {
		return nil, err
	}

	result, opErr := op(ctx)
	if opErr != nil {
		c.rollback(ctx, key, snap)
		return nil, opErr
	}

	if err := c.store.Set(ctx, key, result); err != nil {
		// The tentative value is already visible; surface the commit
		// failure rather than rolling back an operation that succeeded
		// remotely
		c.logger.Warn("optimistic commit write failed",
			slog.String("key", key.String()),
			slog.String("error", err.Error()),
		)
		return result, err
	}

	return result, nil
}

// rollback restores the captured snapshot exactly.
func (c *Coordinator) rollback(ctx context.Context, key cache.Key, snap snapshot) {
	var err error
	if snap.existed {
		err = c.store.Set(ctx, key, snap.value)
	} else {
		err = c.store.Invalidate(ctx, key)
	}
	if err != nil {
		c.logger.Warn("optimistic rollback failed",
			slog.String("key", key.String()),
			slog.String("error", err.Error()),
		)
	}
}

// IsPending reports whether an update for key is between apply and
// commit/rollback.
func (c *Coordinator) IsPending(key cache.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key.String()]
	return ok
}

// PendingCount returns the number of in-flight updates.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
