// Package warming proactively populates cache entries before a consumer
// requests them.
//
// Strategies are either event-triggered (fired when a processed batch
// contains one of their trigger types) or interval-driven (fired on a
// ticker for designated hot keys). Both share the same cooldown
// bookkeeping: the last-attempt timestamp is stamped on invocation
// whether the warming function succeeds or fails, so a failing strategy
// cannot hot-loop.
package warming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/storekeep/coherence/pkg/coherence/cache"
	"github.com/storekeep/coherence/pkg/coherence/engine"
	"github.com/storekeep/coherence/pkg/coherence/event"
	"github.com/storekeep/coherence/pkg/coherence/observability"
)

// Strategy is a named warming rule.
type Strategy struct {
	// Name identifies the strategy.
	Name string

	// Priority orders strategies within one pass; lower runs first.
	Priority int

	// Triggers are the event types that fire the strategy. Empty means
	// the strategy is purely interval-driven.
	Triggers []string

	// Condition optionally gates triggering; it must match at least one
	// event in the batch. Nil matches any.
	Condition func(evt *event.Event) bool

	// Keys are refetched by the default warming function.
	Keys []cache.Key

	// Warm overrides the default key refetch when set.
	Warm func(ctx context.Context) error

	// Cooldown is the minimum interval between invocations.
	Cooldown time.Duration

	// Interval additionally runs the strategy on a fixed schedule,
	// independent of events. Zero disables the schedule.
	Interval time.Duration
}

// Validate checks the strategy definition.
func (s *Strategy) Validate() error {
	if s.Name == "" {
		return errors.New("warming strategy name is required")
	}
	if len(s.Triggers) == 0 && s.Interval <= 0 {
		return fmt.Errorf("strategy %s: needs triggers or an interval", s.Name)
	}
	if s.Warm == nil && len(s.Keys) == 0 {
		return fmt.Errorf("strategy %s: needs keys or a warming function", s.Name)
	}
	return nil
}

// Status is a read-only snapshot of one strategy's bookkeeping.
type Status struct {
	Name        string    `json:"name"`
	Priority    int       `json:"priority"`
	Runs        int64     `json:"runs"`
	Failures    int64     `json:"failures"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
}

type strategyState struct {
	def         Strategy
	lastAttempt time.Time
	runs        int64
	failures    int64
}

// Scheduler owns the registered strategies. It consumes processed
// batches as an engine sink and runs interval strategies on a ticker.
type Scheduler struct {
	store   cache.Store
	logger  *slog.Logger
	metrics observability.MetricsRecorder

	mu         sync.Mutex
	strategies []*strategyState

	tick      time.Duration
	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Config configures the scheduler.
type Config struct {
	// Logger receives warming logs. Default: slog.Default().
	Logger *slog.Logger

	// Metrics records warming runs. Default: NoopMetrics.
	Metrics observability.MetricsRecorder

	// TickInterval is how often interval strategies are polled.
	// Default: 1s. Negative disables the interval loop.
	TickInterval time.Duration
}

// NewScheduler creates a scheduler warming the given store.
func NewScheduler(store cache.Store, cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Second
	}

	s := &Scheduler{
		store:   store,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		tick:    cfg.TickInterval,
		closeCh: make(chan struct{}),
	}

	if cfg.TickInterval > 0 {
		s.wg.Add(1)
		go s.intervalLoop()
	}

	return s
}

// Register adds a strategy.
func (s *Scheduler) Register(strategy Strategy) error {
	if err := strategy.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.strategies {
		if existing.def.Name == strategy.Name {
			return fmt.Errorf("warming strategy %q already registered", strategy.Name)
		}
	}

	s.strategies = append(s.strategies, &strategyState{def: strategy})
	sort.SliceStable(s.strategies, func(i, j int) bool {
		return s.strategies[i].def.Priority < s.strategies[j].def.Priority
	})
	return nil
}

// ProcessBatch implements engine.Sink: every strategy whose triggers
// intersect the batch and whose condition matches at least one event is
// invoked, subject to its cooldown.
func (s *Scheduler) ProcessBatch(ctx context.Context, batch *engine.Batch) {
	types := batch.Types()
	now := time.Now()

	for _, st := range s.eligible(now, func(st *strategyState) bool {
		return triggered(&st.def, types) && conditionMatches(&st.def, batch)
	}) {
		s.run(ctx, st)
	}
}

// eligible selects strategies passing the filter whose cooldown has
// elapsed, stamping lastAttempt up front so concurrent passes cannot
// double-fire.
func (s *Scheduler) eligible(now time.Time, filter func(*strategyState) bool) []*strategyState {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*strategyState
	for _, st := range s.strategies {
		if !filter(st) {
			continue
		}
		if st.def.Cooldown > 0 && now.Sub(st.lastAttempt) < st.def.Cooldown {
			continue
		}
		// Success and failure both reset the clock
		st.lastAttempt = now
		out = append(out, st)
	}
	return out
}

func triggered(def *Strategy, types map[string]struct{}) bool {
	for _, trigger := range def.Triggers {
		if _, ok := types[trigger]; ok {
			return true
		}
	}
	return false
}

func conditionMatches(def *Strategy, batch *engine.Batch) bool {
	if def.Condition == nil {
		return true
	}
	for _, evt := range batch.All() {
		if def.Condition(evt) {
			return true
		}
	}
	return false
}

// run invokes one strategy, isolating failures.
func (s *Scheduler) run(ctx context.Context, st *strategyState) {
	warm := st.def.Warm
	if warm == nil {
		keys := st.def.Keys
		warm = func(ctx context.Context) error {
			var firstErr error
			for _, key := range keys {
				if _, err := s.store.Refetch(ctx, key); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		}
	}

	err := warm(ctx)

	s.mu.Lock()
	st.runs++
	if err != nil {
		st.failures++
	}
	s.mu.Unlock()

	s.metrics.RecordWarming(ctx, st.def.Name, err)
	observability.LogWarmingRun(s.logger, st.def.Name, err)
}

// intervalLoop fires interval strategies whose schedule has come due.
func (s *Scheduler) intervalLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			due := s.eligible(now, func(st *strategyState) bool {
				if st.def.Interval <= 0 {
					return false
				}
				return st.lastAttempt.IsZero() || now.Sub(st.lastAttempt) >= st.def.Interval
			})
			for _, st := range due {
				s.run(context.Background(), st)
			}

		case <-s.closeCh:
			return
		}
	}
}

// StatusSnapshot returns per-strategy bookkeeping in priority order.
func (s *Scheduler) StatusSnapshot() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.strategies))
	for _, st := range s.strategies {
		out = append(out, Status{
			Name:        st.def.Name,
			Priority:    st.def.Priority,
			Runs:        st.runs,
			Failures:    st.failures,
			LastAttempt: st.lastAttempt,
		})
	}
	return out
}

// Close stops the interval loop. Idempotent.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
	})
	s.wg.Wait()
}
