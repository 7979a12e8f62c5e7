package coherence

import (
	"log/slog"
	"time"

	"github.com/storekeep/coherence/pkg/coherence/observability"
	"github.com/storekeep/coherence/pkg/coherence/retry"
)

type options struct {
	logger          *slog.Logger
	metrics         observability.MetricsRecorder
	spans           observability.SpanManager
	batchWindow     time.Duration
	cleanupInterval time.Duration
	dedupeTTL       time.Duration
	warmingTick     time.Duration
	retryConfig     retry.Config
	onHandlerError  func(eventType, subscriptionID string, err error)
}

func defaultOptions() options {
	return options{
		logger:      slog.Default(),
		metrics:     observability.NoopMetrics{},
		spans:       observability.NoopSpanManager{},
		retryConfig: retry.DefaultConfig,
	}
}

// Option configures a Coordinator.
type Option func(*options)

// WithLogger sets the logger used across the coordination layer.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics enables OpenTelemetry metrics via the given recorder. Use
// observability.NewMetricsRecorder to build one from a meter provider.
func WithMetrics(metrics observability.MetricsRecorder) Option {
	return func(o *options) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithTracing enables span creation for batch passes and transactions.
func WithTracing(spans observability.SpanManager) Option {
	return func(o *options) {
		if spans != nil {
			o.spans = spans
		}
	}
}

// WithBatchWindow overrides the event debounce window.
func WithBatchWindow(window time.Duration) Option {
	return func(o *options) {
		o.batchWindow = window
	}
}

// WithCleanupInterval overrides how often idle bookkeeping is pruned.
// Negative disables the cleanup loop.
func WithCleanupInterval(interval time.Duration) Option {
	return func(o *options) {
		o.cleanupInterval = interval
	}
}

// WithDeduplication drops re-emitted events sharing an event ID within
// the TTL.
func WithDeduplication(ttl time.Duration) Option {
	return func(o *options) {
		o.dedupeTTL = ttl
	}
}

// WithWarmingTick overrides the poll interval for interval-driven
// warming strategies. Negative disables the loop.
func WithWarmingTick(tick time.Duration) Option {
	return func(o *options) {
		o.warmingTick = tick
	}
}

// WithRetryConfig overrides the default retry policy used by
// ExecuteWithRetry.
func WithRetryConfig(cfg retry.Config) Option {
	return func(o *options) {
		o.retryConfig = cfg
	}
}

// WithHandlerErrorHook installs a callback invoked whenever a subscribed
// handler fails. Failures are already logged; the hook is for callers
// that surface them elsewhere.
func WithHandlerErrorHook(hook func(eventType, subscriptionID string, err error)) Option {
	return func(o *options) {
		o.onHandlerError = hook
	}
}
