package coherence

import (
	"context"
	"errors"
	"sync"

	"github.com/storekeep/coherence/pkg/coherence/cache"
	"github.com/storekeep/coherence/pkg/coherence/config"
	cohererr "github.com/storekeep/coherence/pkg/coherence/errors"
	"github.com/storekeep/coherence/pkg/coherence/engine"
	"github.com/storekeep/coherence/pkg/coherence/event"
	"github.com/storekeep/coherence/pkg/coherence/graph"
	"github.com/storekeep/coherence/pkg/coherence/optimistic"
	"github.com/storekeep/coherence/pkg/coherence/retry"
	"github.com/storekeep/coherence/pkg/coherence/txn"
	"github.com/storekeep/coherence/pkg/coherence/warming"
)

// SystemErrorType is the event type emitted when a module event fails
// validation. Handlers can subscribe to it for diagnostics; it never
// feeds back into batching.
const SystemErrorType = "system.error"

// Coordinator is the top-level facade wiring the event bus, batcher,
// consistency engine, warming scheduler, retry executor, optimistic
// update coordinator, and transaction coordinator over a single store.
//
// Construct one per store with New or NewFromConfig and share it;
// all methods are safe for concurrent use.
type Coordinator struct {
	store      cache.Store
	bus        *event.Bus
	graph      *graph.Graph
	batcher    *engine.BatchCoordinator
	engine     *engine.Engine
	warming    *warming.Scheduler
	retries    *retry.Executor
	optimistic *optimistic.Coordinator
	txns       *txn.Coordinator

	retryConfig retry.Config
	closeOnce   sync.Once
	closeErr    error
}

// Status is a read-only snapshot of the coordinator's moving parts.
type Status struct {
	PendingEvents     int              `json:"pending_events"`
	Subscriptions     int              `json:"subscriptions"`
	Edges             int              `json:"edges"`
	PendingRetries    int              `json:"pending_retries"`
	PendingOptimistic int              `json:"pending_optimistic"`
	Warming           []warming.Status `json:"warming,omitempty"`
	Engine            engine.Stats     `json:"engine"`
}

// New creates a coordinator over the given store.
func New(store cache.Store, opts ...Option) *Coordinator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Coordinator{
		store:       store,
		graph:       graph.New(),
		retryConfig: o.retryConfig,
	}

	c.bus = event.NewBus(event.BusConfig{
		Logger:         o.logger,
		DeduplicateTTL: o.dedupeTTL,
		OnError: func(evt *event.Event, subID string, err error) {
			if o.onHandlerError != nil {
				o.onHandlerError(evt.Type, subID, err)
			}
		},
	})

	c.engine = engine.New(store, c.graph, engine.Config{
		Logger:          o.logger,
		Metrics:         o.metrics,
		Spans:           o.spans,
		CleanupInterval: o.cleanupInterval,
	})
	c.warming = warming.NewScheduler(store, warming.Config{
		Logger:       o.logger,
		Metrics:      o.metrics,
		TickInterval: o.warmingTick,
	})
	c.batcher = engine.NewBatchCoordinator(o.batchWindow, o.logger, c.engine, c.warming)

	c.retries = retry.NewExecutor(o.logger, o.metrics)
	c.optimistic = optimistic.New(store, o.logger)
	c.txns = txn.New(o.logger, o.metrics, o.spans)

	return c
}

// NewFromConfig creates a coordinator from a declarative configuration,
// registering its edges and warming strategies. Options are applied on
// top of the configured values.
func NewFromConfig(cfg config.Config, store cache.Store, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := []Option{
		WithBatchWindow(cfg.BatchWindow.Std()),
		WithCleanupInterval(cfg.CleanupInterval.Std()),
		WithDeduplication(cfg.DedupeTTL.Std()),
		WithRetryConfig(retry.Config{
			MaxRetries:    cfg.Retry.MaxRetries,
			BaseDelay:     cfg.Retry.BaseDelay.Std(),
			MaxDelay:      cfg.Retry.MaxDelay.Std(),
			BackoffFactor: cfg.Retry.BackoffFactor,
			Jitter:        cfg.Retry.Jitter,
		}),
	}
	c := New(store, append(base, opts...)...)

	for _, e := range cfg.Edges {
		err := c.RegisterDependency(graph.Edge{
			Source:   e.Source,
			Targets:  e.Targets,
			Strategy: graph.Strategy(e.Strategy),
			Weight:   e.Weight,
		})
		if err != nil {
			c.Close(context.Background())
			return nil, err
		}
	}

	for _, w := range cfg.Warming {
		keys := make([]cache.Key, 0, len(w.Keys))
		for _, k := range w.Keys {
			keys = append(keys, cache.ParseKey(k))
		}
		err := c.RegisterWarming(warming.Strategy{
			Name:     w.Name,
			Priority: w.Priority,
			Triggers: w.Triggers,
			Keys:     keys,
			Cooldown: w.Cooldown.Std(),
			Interval: w.Interval.Std(),
		})
		if err != nil {
			c.Close(context.Background())
			return nil, err
		}
	}

	return c, nil
}

// Emit validates the event, delivers it synchronously to subscribers in
// priority order, and queues it for the next consistency batch.
//
// An invalid event is rejected with a ValidationError; a best-effort
// system.error event is published so diagnostic subscribers see the
// rejection, but the error still propagates to the caller.
func (c *Coordinator) Emit(ctx context.Context, evt *event.Event) error {
	if err := validateEvent(evt); err != nil {
		c.emitSystemError(ctx, evt, err)
		return err
	}

	if err := c.bus.Emit(ctx, evt); err != nil {
		return err
	}

	if evt.Type != SystemErrorType {
		c.batcher.Add(evt)
	}
	return nil
}

func validateEvent(evt *event.Event) error {
	if evt == nil {
		return &cohererr.ValidationError{Field: "event", Message: "event is required"}
	}
	if evt.Type == "" {
		return &cohererr.ValidationError{Field: "type", Message: "event type is required"}
	}
	if evt.Module == "" {
		return &cohererr.ValidationError{Field: "module", Message: "event module is required"}
	}
	if !evt.Operation.Valid() {
		return &cohererr.ValidationError{Field: "operation", Message: "unknown operation"}
	}
	return nil
}

// emitSystemError publishes a diagnostic event for a rejected emit.
// Best effort; a closed bus or failing diagnostic handler is ignored.
func (c *Coordinator) emitSystemError(ctx context.Context, cause *event.Event, err error) {
	module, entityID := "system", ""
	var parent *event.Event
	if cause != nil {
		parent = cause
		entityID = cause.EntityID
	}

	payload := map[string]any{"error": err.Error()}
	if cause != nil {
		payload["event_type"] = cause.Type
		payload["module"] = cause.Module
	}

	var sysEvt *event.Event
	if parent != nil {
		sysEvt = event.NewFromParent(parent, SystemErrorType, module, event.OpCreate, entityID, payload)
	} else {
		sysEvt = event.New(SystemErrorType, module, event.OpCreate, entityID, payload)
	}
	_ = c.bus.Emit(ctx, sysEvt)
}

// Subscribe registers a handler for the given event types. Lower
// priority numbers are delivered first.
func (c *Coordinator) Subscribe(types []string, priority int, handler event.Handler) event.Subscription {
	return c.bus.Subscribe(types, priority, handler)
}

// SubscribeAll registers a handler for every event type.
func (c *Coordinator) SubscribeAll(priority int, handler event.Handler) event.Subscription {
	return c.bus.SubscribeAll(priority, handler)
}

// RegisterDependency adds a propagation edge. Self-loops and cycles are
// rejected.
func (c *Coordinator) RegisterDependency(edge graph.Edge) error {
	return c.graph.Register(edge)
}

// RegisterWarming adds a warming strategy.
func (c *Coordinator) RegisterWarming(strategy warming.Strategy) error {
	return c.warming.Register(strategy)
}

// RegisterFetcher sets the fetcher backing refetches for a category.
func (c *Coordinator) RegisterFetcher(category string, fn cache.Fetcher) {
	c.store.RegisterFetcher(category, fn)
}

// ExecuteWithRetry runs op under the coordinator's retry policy. The
// operation ID must be unique among in-flight operations and is the
// handle for CancelRetry.
func (c *Coordinator) ExecuteWithRetry(ctx context.Context, operationID string, op retry.Operation) (any, error) {
	return c.retries.Execute(ctx, operationID, op, c.retryConfig)
}

// CancelRetry cancels a pending retry by operation ID. Idempotent.
func (c *Coordinator) CancelRetry(operationID string) {
	c.retries.Cancel(operationID)
}

// ApplyUpdate writes tentative cache state under key, awaits op, then
// commits the authoritative result or rolls back to the prior snapshot.
func (c *Coordinator) ApplyUpdate(ctx context.Context, key cache.Key, tentative any, op func(ctx context.Context) (any, error)) (any, error) {
	return c.optimistic.Apply(ctx, key, tentative, op)
}

// IsUpdatePending reports whether an optimistic update for key is in
// flight.
func (c *Coordinator) IsUpdatePending(key cache.Key) bool {
	return c.optimistic.IsPending(key)
}

// ExecuteTransaction runs steps in order with reverse-order compensation
// on failure.
func (c *Coordinator) ExecuteTransaction(ctx context.Context, steps []txn.Step) txn.Result {
	return c.txns.Execute(ctx, steps)
}

// ExecuteParallelTransaction runs steps concurrently, compensating every
// succeeded step if any fails.
func (c *Coordinator) ExecuteParallelTransaction(ctx context.Context, steps []txn.Step) txn.Result {
	return c.txns.ExecuteParallel(ctx, steps)
}

// Flush processes pending events immediately instead of waiting for the
// debounce window.
func (c *Coordinator) Flush(ctx context.Context) {
	c.batcher.Flush(ctx)
}

// Drain waits for in-flight background refetches to settle. Intended for
// tests and shutdown paths.
func (c *Coordinator) Drain() {
	c.engine.Drain()
}

// CacheStats returns engine counters merged with the store's
// per-category statistics.
func (c *Coordinator) CacheStats() engine.Stats {
	return c.engine.Stats()
}

// Status returns a snapshot of every component's bookkeeping.
func (c *Coordinator) Status() Status {
	return Status{
		PendingEvents:     c.batcher.Pending(),
		Subscriptions:     c.bus.SubscriptionCount(),
		Edges:             c.graph.EdgeCount(),
		PendingRetries:    c.retries.PendingCount(),
		PendingOptimistic: c.optimistic.PendingCount(),
		Warming:           c.warming.StatusSnapshot(),
		Engine:            c.engine.Stats(),
	}
}

// Close flushes pending events, stops the background loops, and closes
// the store. Idempotent.
func (c *Coordinator) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.batcher.Flush(ctx)
		c.batcher.Close()
		c.warming.Close()
		c.engine.Close()

		var errs []error
		if err := c.bus.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := c.store.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// compile-time interface checks
var (
	_ engine.Sink = (*engine.Engine)(nil)
	_ engine.Sink = (*warming.Scheduler)(nil)
)
