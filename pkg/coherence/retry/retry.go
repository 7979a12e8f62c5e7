// Package retry provides a bounded exponential-backoff wrapper for
// arbitrary operations, keyed by operation ID and cancellable.
//
// The executor is an explicit state machine - attempt counter plus a
// scheduled timer continuation - rather than blocking recursion, so a
// long backoff never ties up the caller's scheduler and a cancelled
// operation's continuation never fires.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	cohererr "github.com/storekeep/coherence/pkg/coherence/errors"
	"github.com/storekeep/coherence/pkg/coherence/observability"
)

// ErrCancelled is returned when a pending operation is cancelled.
var ErrCancelled = errors.New("retry: operation cancelled")

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt.
	// MaxRetries=2 means at most 3 invocations.
	MaxRetries int

	// BaseDelay is the starting backoff duration.
	BaseDelay time.Duration

	// MaxDelay caps the backoff duration.
	MaxDelay time.Duration

	// BackoffFactor is the multiplier applied per attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// ShouldRetry optionally overrides the default retryability check.
	ShouldRetry func(error) bool
}

// DefaultConfig is the standard retry configuration.
var DefaultConfig = Config{
	MaxRetries:    3,
	BaseDelay:     100 * time.Millisecond,
	MaxDelay:      5 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        0.1,
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultConfig.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultConfig.MaxDelay
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = DefaultConfig.BackoffFactor
	}
	if c.ShouldRetry == nil {
		c.ShouldRetry = cohererr.IsRetryable
	}
	return c
}

// Operation is the wrapped business operation.
type Operation func(ctx context.Context) (any, error)

type outcome struct {
	value any
	err   error
}

// state is the per-operation retry bookkeeping; ephemeral, cleared on a
// terminal outcome or cancellation.
type state struct {
	id        string
	attempt   int
	timer     *time.Timer
	cancelled bool
	done      chan outcome
}

// Executor runs operations with bounded backoff. Safe for concurrent
// use; operation IDs must be unique among in-flight operations.
type Executor struct {
	logger  *slog.Logger
	metrics observability.MetricsRecorder

	mu      sync.Mutex
	pending map[string]*state
}

// NewExecutor creates an executor.
func NewExecutor(logger *slog.Logger, metrics observability.MetricsRecorder) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Executor{
		logger:  logger,
		metrics: metrics,
		pending: make(map[string]*state),
	}
}

// Execute invokes op, retrying on retryable failure with exponential
// backoff, and returns the terminal outcome.
//
// A non-retryable failure returns the original error unchanged; an
// exhausted operation returns a RetryExhaustedError unwrapping to the
// original. Cancelling the context cancels the operation.
func (e *Executor) Execute(ctx context.Context, operationID string, op Operation, cfg Config) (any, error) {
	cfg = cfg.withDefaults()

	st := &state{id: operationID, done: make(chan outcome, 1)}

	e.mu.Lock()
	if _, exists := e.pending[operationID]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("retry: operation %q already in flight", operationID)
	}
	e.pending[operationID] = st
	e.mu.Unlock()

	e.attempt(ctx, st, op, cfg)

	select {
	case out := <-st.done:
		return out.value, out.err
	case <-ctx.Done():
		e.Cancel(operationID)
		return nil, ctx.Err()
	}
}

// attempt runs one invocation and either finishes or schedules the next
// attempt as a timer continuation.
func (e *Executor) attempt(ctx context.Context, st *state, op Operation, cfg Config) {
	value, err := op(ctx)
	e.metrics.RecordRetryAttempt(ctx, st.id, st.attempt+1)

	if err == nil {
		e.finish(st, outcome{value: value})
		return
	}

	if !cfg.ShouldRetry(err) {
		e.finish(st, outcome{err: err})
		return
	}
	if st.attempt >= cfg.MaxRetries {
		e.finish(st, outcome{err: &cohererr.RetryExhaustedError{
			OperationID: st.id,
			Attempts:    st.attempt + 1,
			Err:         err,
		}})
		return
	}

	e.mu.Lock()
	if st.cancelled {
		e.mu.Unlock()
		return
	}
	st.attempt++
	delay := backoff(cfg, st.attempt)
	st.timer = time.AfterFunc(delay, func() {
		e.mu.Lock()
		cancelled := st.cancelled
		e.mu.Unlock()
		if cancelled {
			return
		}
		e.attempt(ctx, st, op, cfg)
	})
	e.mu.Unlock()

	observability.LogRetryScheduled(e.logger, st.id, st.attempt, delay)
}

// finish delivers the terminal outcome and clears the state, unless the
// operation was already cancelled.
func (e *Executor) finish(st *state, out outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st.cancelled {
		return
	}
	delete(e.pending, st.id)
	st.done <- out
}

// Cancel clears an operation's pending timer and state immediately.
// A cancelled continuation never fires. Idempotent.
func (e *Executor) Cancel(operationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.pending[operationID]
	if !ok {
		return
	}
	st.cancelled = true
	if st.timer != nil {
		st.timer.Stop()
	}
	delete(e.pending, operationID)

	select {
	case st.done <- outcome{err: ErrCancelled}:
	default:
	}
}

// PendingCount returns the number of in-flight operations.
func (e *Executor) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// backoff computes min(BaseDelay * BackoffFactor^attempt, MaxDelay)
// with jitter applied.
func backoff(cfg Config, attempt int) time.Duration {
	d := float64(cfg.BaseDelay) * math.Pow(cfg.BackoffFactor, float64(attempt))
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	if cfg.Jitter > 0 {
		d += d * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}

// Do runs a typed operation through the executor.
func Do[T any](ctx context.Context, e *Executor, operationID string, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	value, err := e.Execute(ctx, operationID, func(ctx context.Context) (any, error) {
		return op(ctx)
	}, cfg)
	if err != nil {
		var zero T
		return zero, err
	}
	typed, _ := value.(T)
	return typed, nil
}
