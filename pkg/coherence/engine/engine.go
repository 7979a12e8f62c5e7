package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/storekeep/coherence/pkg/coherence/cache"
	"github.com/storekeep/coherence/pkg/coherence/event"
	"github.com/storekeep/coherence/pkg/coherence/graph"
	"github.com/storekeep/coherence/pkg/coherence/observability"
)

// Config configures the consistency engine.
type Config struct {
	// Logger receives per-command failure logs. Default: slog.Default().
	Logger *slog.Logger

	// Metrics records batch and command metrics. Default: NoopMetrics.
	Metrics observability.MetricsRecorder

	// Spans traces batch processing passes. Default: NoopSpanManager.
	Spans observability.SpanManager

	// CleanupInterval drives the periodic pruning of idle per-category
	// bookkeeping. Default: 5m. Negative disables cleanup.
	CleanupInterval time.Duration

	// ActivityRetention is how long an idle category's bookkeeping is
	// kept. Default: 30m.
	ActivityRetention time.Duration
}

// Stats is a read-only snapshot of engine activity merged with the
// store's per-category statistics.
type Stats struct {
	BatchesProcessed int64                       `json:"batches_processed"`
	CommandsIssued   int64                       `json:"commands_issued"`
	CommandsSkipped  int64                       `json:"commands_skipped"`
	LastProcessed    time.Time                   `json:"last_processed,omitempty"`
	Categories       map[string]cache.Statistics `json:"categories"`
}

// Engine resolves dependency edges against each batch and issues the
// winning cache commands. Per-target failures are logged individually;
// one failure never aborts the rest of the batch.
type Engine struct {
	store   cache.Store
	graph   *graph.Graph
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	mu            sync.Mutex
	batches       int64
	commands      int64
	skipped       int64
	lastProcessed time.Time
	activity      map[string]time.Time

	retention time.Duration
	refreshWG sync.WaitGroup
	closeCh   chan struct{}
	closeOnce sync.Once
}

// New creates an engine over the given store and dependency graph.
func New(store cache.Store, g *graph.Graph, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	if cfg.Spans == nil {
		cfg.Spans = observability.NoopSpanManager{}
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if cfg.ActivityRetention <= 0 {
		cfg.ActivityRetention = 30 * time.Minute
	}

	e := &Engine{
		store:     store,
		graph:     g,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		spans:     cfg.Spans,
		activity:  make(map[string]time.Time),
		retention: cfg.ActivityRetention,
		closeCh:   make(chan struct{}),
	}

	if cfg.CleanupInterval > 0 {
		go e.cleanupLoop(cfg.CleanupInterval)
	}

	return e
}

// command is one planned store operation. Per target key, only the
// winning command survives planning.
type command struct {
	key      cache.Key
	strategy graph.Strategy
	weight   int
	events   []*event.Event
}

// ProcessBatch implements Sink: it plans one command per target key and
// executes the plan.
func (e *Engine) ProcessBatch(ctx context.Context, batch *Batch) {
	done := observability.TimedOperation()
	start := time.Now()

	correlationID := ""
	if all := batch.All(); len(all) > 0 {
		correlationID = all[0].CorrelationID()
	}
	ctx, span := e.spans.StartBatchSpan(ctx, correlationID, batch.Size())

	observability.LogBatchStart(e.logger, batch.Size(), len(batch.Events))

	commands := e.plan(batch)
	for _, cmd := range commands {
		e.execute(ctx, cmd)
	}

	e.mu.Lock()
	e.batches++
	e.commands += int64(len(commands))
	e.lastProcessed = time.Now()
	for category := range batch.Events {
		e.activity[category] = e.lastProcessed
	}
	e.mu.Unlock()

	e.metrics.RecordBatch(ctx, batch.Size(), time.Since(start))
	e.spans.EndSpanWithError(span, nil)
	observability.LogBatchComplete(e.logger, batch.Size(), len(commands), done())
}

// plan resolves edges for every source category in the batch and keeps
// one command per target key. Conflicts go to the higher weight; at
// equal weight the more conservative strategy wins (invalidate, then
// refresh, then optimistic), then the earlier-registered edge.
func (e *Engine) plan(batch *Batch) []*command {
	claims := make(map[string]*command)
	skipped := 0

	for _, category := range batch.Categories() {
		events := batch.Events[category]

		for _, edge := range e.graph.Resolve(category) {
			matched := matchEvents(events, edge.Condition)
			if len(matched) == 0 {
				continue
			}

			for _, target := range edge.Targets {
				switch edge.Strategy {
				case graph.StrategyInvalidate:
					skipped += claim(claims, &command{
						key:      cache.CategoryKey(target),
						strategy: edge.Strategy,
						weight:   edge.Weight,
					})
					for _, evt := range matched {
						if evt.EntityID == "" {
							continue
						}
						skipped += claim(claims, &command{
							key:      cache.EntityKey(target, evt.EntityID),
							strategy: edge.Strategy,
							weight:   edge.Weight,
						})
					}

				case graph.StrategyRefresh:
					skipped += claim(claims, &command{
						key:      cache.CategoryKey(target),
						strategy: edge.Strategy,
						weight:   edge.Weight,
					})

				case graph.StrategyOptimistic:
					skipped += claim(claims, &command{
						key:      cache.CategoryKey(target),
						strategy: edge.Strategy,
						weight:   edge.Weight,
						events:   matched,
					})
				}
			}
		}
	}

	e.mu.Lock()
	e.skipped += int64(skipped)
	e.mu.Unlock()

	commands := make([]*command, 0, len(claims))
	for _, cmd := range claims {
		commands = append(commands, cmd)
	}
	sort.Slice(commands, func(i, j int) bool {
		if commands[i].weight != commands[j].weight {
			return commands[i].weight > commands[j].weight
		}
		if ri, rj := commands[i].strategy.Rank(), commands[j].strategy.Rank(); ri != rj {
			return ri < rj
		}
		return commands[i].key.String() < commands[j].key.String()
	})
	return commands
}

// claim installs cmd unless a stronger claim already holds the key.
// It returns the number of commands discarded by the conflict.
func claim(claims map[string]*command, cmd *command) int {
	existing, ok := claims[cmd.key.String()]
	if !ok {
		claims[cmd.key.String()] = cmd
		return 0
	}

	if cmd.weight > existing.weight ||
		(cmd.weight == existing.weight && cmd.strategy.Rank() < existing.strategy.Rank()) {
		claims[cmd.key.String()] = cmd
	}
	return 1
}

func matchEvents(events []*event.Event, cond graph.Condition) []*event.Event {
	if cond == nil {
		return events
	}
	matched := make([]*event.Event, 0, len(events))
	for _, evt := range events {
		if cond(evt) {
			matched = append(matched, evt)
		}
	}
	return matched
}

// execute issues one store command, isolating failures.
func (e *Engine) execute(ctx context.Context, cmd *command) {
	switch cmd.strategy {
	case graph.StrategyInvalidate:
		err := e.store.Invalidate(ctx, cmd.key)
		e.metrics.RecordCommand(ctx, string(cmd.strategy), cmd.key.Category, err)
		if err != nil {
			observability.LogCommandError(e.logger, string(cmd.strategy), cmd.key.String(), err)
		}

	case graph.StrategyRefresh:
		// Background refetch: the batch never waits on the network
		e.refreshWG.Add(1)
		go func(key cache.Key) {
			defer e.refreshWG.Done()
			_, err := e.store.Refetch(context.WithoutCancel(ctx), key)
			e.metrics.RecordCommand(ctx, string(graph.StrategyRefresh), key.Category, err)
			if err != nil {
				observability.LogCommandError(e.logger, string(graph.StrategyRefresh), key.String(), err)
			}
		}(cmd.key)

	case graph.StrategyOptimistic:
		err := e.splice(ctx, cmd)
		e.metrics.RecordCommand(ctx, string(cmd.strategy), cmd.key.Category, err)
		if err != nil {
			observability.LogCommandError(e.logger, string(cmd.strategy), cmd.key.String(), err)
		}
	}
}

// splice applies the batch's event payloads to the cached collection
// under the command's key: create appends, update patches by entity ID,
// delete filters out. A cache miss is a no-op - there is nothing to
// keep coherent.
func (e *Engine) splice(ctx context.Context, cmd *command) error {
	value, ok, err := e.store.Get(ctx, cmd.key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	list, ok := asCollection(value)
	if !ok {
		// Not a collection; invalidate rather than guess
		return e.store.Invalidate(ctx, cmd.key)
	}

	for _, evt := range cmd.events {
		switch evt.Operation {
		case event.OpCreate:
			list = append(list, evt.Data)

		case event.OpUpdate:
			for i, element := range list {
				if entityID(element) == evt.EntityID {
					list[i] = patch(element, evt.Data)
					break
				}
			}

		case event.OpDelete:
			kept := list[:0]
			for _, element := range list {
				if entityID(element) != evt.EntityID {
					kept = append(kept, element)
				}
			}
			list = kept
		}
	}

	return e.store.Set(ctx, cmd.key, list)
}

// Identifiable lets typed cached entities expose their entity ID for
// optimistic splicing.
type Identifiable interface {
	EntityID() string
}

func asCollection(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []map[string]any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, true
	}
	return nil, false
}

func entityID(element any) string {
	switch v := element.(type) {
	case Identifiable:
		return v.EntityID()
	case map[string]any:
		if id, ok := v["id"].(string); ok {
			return id
		}
	}
	return ""
}

// patch merges the event payload into the cached element. Map payloads
// overlay field by field; anything else replaces the element wholesale.
func patch(element, data any) any {
	if data == nil {
		return element
	}
	elementMap, ok := element.(map[string]any)
	if !ok {
		return data
	}
	dataMap, ok := data.(map[string]any)
	if !ok {
		return data
	}

	merged := make(map[string]any, len(elementMap)+len(dataMap))
	for k, v := range elementMap {
		merged[k] = v
	}
	for k, v := range dataMap {
		merged[k] = v
	}
	return merged
}

// Stats returns a snapshot of engine counters merged with the store's
// per-category statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	stats := Stats{
		BatchesProcessed: e.batches,
		CommandsIssued:   e.commands,
		CommandsSkipped:  e.skipped,
		LastProcessed:    e.lastProcessed,
	}
	e.mu.Unlock()

	stats.Categories = e.store.Stats()
	return stats
}

// Drain waits for in-flight background refetches to settle.
func (e *Engine) Drain() {
	e.refreshWG.Wait()
}

// cleanupLoop prunes bookkeeping for categories idle past retention.
func (e *Engine) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-e.retention)
			e.mu.Lock()
			removed := 0
			for category, last := range e.activity {
				if last.Before(cutoff) {
					delete(e.activity, category)
					removed++
				}
			}
			e.mu.Unlock()
			if removed > 0 {
				e.logger.Debug("pruned idle category bookkeeping",
					slog.Int("categories", removed),
				)
			}

		case <-e.closeCh:
			return
		}
	}
}

// Close stops the cleanup loop and waits for background refetches.
// Idempotent.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.closeCh)
	})
	e.refreshWG.Wait()
}
