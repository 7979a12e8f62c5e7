package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordBatch does nothing.
func (NoopMetrics) RecordBatch(_ context.Context, _ int, _ time.Duration) {}

// RecordCommand does nothing.
func (NoopMetrics) RecordCommand(_ context.Context, _, _ string, _ error) {}

// RecordWarming does nothing.
func (NoopMetrics) RecordWarming(_ context.Context, _ string, _ error) {}

// RecordRetryAttempt does nothing.
func (NoopMetrics) RecordRetryAttempt(_ context.Context, _ string, _ int) {}

// RecordCompensation does nothing.
func (NoopMetrics) RecordCompensation(_ context.Context, _ string, _ error) {}

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

// noopSpan is a span that does nothing.
// We use the OTel noop package for a proper no-op span implementation.
var noopSpan = noop.Span{}

// StartBatchSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartBatchSpan(ctx context.Context, _ string, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartTransactionSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartTransactionSpan(ctx context.Context, _ string, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
