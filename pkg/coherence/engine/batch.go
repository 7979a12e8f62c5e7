// Package engine coalesces bursts of module events into batches and
// resolves dependency rules against them, issuing invalidate, refresh,
// and optimistic-update commands to the cache store.
package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/storekeep/coherence/pkg/coherence/event"
)

// DefaultBatchWindow is the debounce interval during which events are
// coalesced before processing.
const DefaultBatchWindow = 100 * time.Millisecond

// Batch is one processing unit: pending events grouped by their source
// category.
type Batch struct {
	Events map[string][]*event.Event
}

// Size returns the total number of events in the batch.
func (b *Batch) Size() int {
	n := 0
	for _, events := range b.Events {
		n += len(events)
	}
	return n
}

// Categories returns the source categories in sorted order.
func (b *Batch) Categories() []string {
	categories := make([]string, 0, len(b.Events))
	for category := range b.Events {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	return categories
}

// Types returns the distinct event types present in the batch.
func (b *Batch) Types() map[string]struct{} {
	types := make(map[string]struct{})
	for _, events := range b.Events {
		for _, evt := range events {
			types[evt.Type] = struct{}{}
		}
	}
	return types
}

// All returns every event in the batch, category order.
func (b *Batch) All() []*event.Event {
	out := make([]*event.Event, 0, b.Size())
	for _, category := range b.Categories() {
		out = append(out, b.Events[category]...)
	}
	return out
}

// Sink consumes completed batches.
type Sink interface {
	ProcessBatch(ctx context.Context, batch *Batch)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, batch *Batch)

// ProcessBatch implements Sink.
func (f SinkFunc) ProcessBatch(ctx context.Context, batch *Batch) {
	f(ctx, batch)
}

// BatchCoordinator collects events into per-category pending lists and
// drains them to its sinks after a quiet period. The debounce timer is
// reset on every arrival, so a burst (a multi-line sale) collapses into
// a single processing pass.
type BatchCoordinator struct {
	window time.Duration
	logger *slog.Logger
	sinks  []Sink

	mu      sync.Mutex
	pending map[string][]*event.Event
	timer   *time.Timer
	closed  bool
}

// NewBatchCoordinator creates a coordinator draining to the given sinks.
// A non-positive window falls back to DefaultBatchWindow.
func NewBatchCoordinator(window time.Duration, logger *slog.Logger, sinks ...Sink) *BatchCoordinator {
	if window <= 0 {
		window = DefaultBatchWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchCoordinator{
		window:  window,
		logger:  logger,
		sinks:   sinks,
		pending: make(map[string][]*event.Event),
	}
}

// Add appends an event to its category's pending list and resets the
// debounce timer.
func (b *BatchCoordinator) Add(evt *event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.pending[evt.Module] = append(b.pending[evt.Module], evt)

	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.window, b.fire)
}

// fire drains the pending lists when the debounce window elapses.
func (b *BatchCoordinator) fire() {
	b.Flush(context.Background())
}

// Flush drains pending events immediately and hands them to the sinks
// as one batch. It is a no-op when nothing is pending.
func (b *BatchCoordinator) Flush(ctx context.Context) {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := &Batch{Events: b.pending}
	b.pending = make(map[string][]*event.Event)
	b.mu.Unlock()

	for _, sink := range b.sinks {
		sink.ProcessBatch(ctx, batch)
	}
}

// Pending returns the number of events awaiting the next window.
func (b *BatchCoordinator) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, events := range b.pending {
		n += len(events)
	}
	return n
}

// Close cancels the pending timer and drops unflushed events. Callers
// that need the tail processed should Flush first. Idempotent.
func (b *BatchCoordinator) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if n := len(b.pending); n > 0 {
		b.logger.Debug("batch coordinator closed with pending events",
			slog.Int("categories", n),
		)
	}
	b.pending = nil
}
