package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records cache coordination metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordBatch records one processed batch with its size and duration.
	RecordBatch(ctx context.Context, size int, duration time.Duration)

	// RecordCommand records a cache command issued for a category.
	RecordCommand(ctx context.Context, strategy, category string, err error)

	// RecordWarming records a warming strategy invocation.
	RecordWarming(ctx context.Context, strategy string, err error)

	// RecordRetryAttempt records one retry attempt for an operation.
	RecordRetryAttempt(ctx context.Context, operationID string, attempt int)

	// RecordCompensation records a transaction step rollback.
	RecordCompensation(ctx context.Context, step string, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	batches       metric.Int64Counter
	batchSize     metric.Int64Histogram
	batchLatency  metric.Float64Histogram
	commands      metric.Int64Counter
	commandErrors metric.Int64Counter
	warmingRuns   metric.Int64Counter
	retryAttempts metric.Int64Counter
	compensations metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("coherence")

	batches, err := meter.Int64Counter("coherence.batch.count",
		metric.WithDescription("Number of processed batches"),
	)
	if err != nil {
		return nil, err
	}

	batchSize, err := meter.Int64Histogram("coherence.batch.size",
		metric.WithDescription("Events per processed batch"),
	)
	if err != nil {
		return nil, err
	}

	batchLatency, err := meter.Float64Histogram("coherence.batch.latency_ms",
		metric.WithDescription("Batch processing latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	commands, err := meter.Int64Counter("coherence.cache.commands",
		metric.WithDescription("Cache commands issued"),
	)
	if err != nil {
		return nil, err
	}

	commandErrors, err := meter.Int64Counter("coherence.cache.command_errors",
		metric.WithDescription("Cache commands that failed"),
	)
	if err != nil {
		return nil, err
	}

	warmingRuns, err := meter.Int64Counter("coherence.warming.runs",
		metric.WithDescription("Warming strategy invocations"),
	)
	if err != nil {
		return nil, err
	}

	retryAttempts, err := meter.Int64Counter("coherence.retry.attempts",
		metric.WithDescription("Retry attempts"),
	)
	if err != nil {
		return nil, err
	}

	compensations, err := meter.Int64Counter("coherence.txn.compensations",
		metric.WithDescription("Transaction step rollbacks"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		batches:       batches,
		batchSize:     batchSize,
		batchLatency:  batchLatency,
		commands:      commands,
		commandErrors: commandErrors,
		warmingRuns:   warmingRuns,
		retryAttempts: retryAttempts,
		compensations: compensations,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordBatch records one processed batch.
func (m *otelMetrics) RecordBatch(ctx context.Context, size int, duration time.Duration) {
	m.batches.Add(ctx, 1)
	m.batchSize.Record(ctx, int64(size))
	m.batchLatency.Record(ctx, float64(duration.Milliseconds()))
}

// RecordCommand records a cache command.
func (m *otelMetrics) RecordCommand(ctx context.Context, strategy, category string, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("strategy", strategy),
		attribute.String("category", category),
	}
	m.commands.Add(ctx, 1, metric.WithAttributes(attrs...))
	if err != nil {
		m.commandErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordWarming records a warming strategy invocation.
func (m *otelMetrics) RecordWarming(ctx context.Context, strategy string, err error) {
	m.warmingRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.Bool("success", err == nil),
	))
}

// RecordRetryAttempt records one retry attempt.
func (m *otelMetrics) RecordRetryAttempt(ctx context.Context, operationID string, attempt int) {
	m.retryAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation_id", operationID),
		attribute.Int("attempt", attempt),
	))
}

// RecordCompensation records a transaction step rollback.
func (m *otelMetrics) RecordCompensation(ctx context.Context, step string, err error) {
	m.compensations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step),
		attribute.Bool("success", err == nil),
	))
}
