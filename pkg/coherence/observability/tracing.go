package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the coherence tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("coherence")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartBatchSpan starts a span for a batch processing pass.
	StartBatchSpan(ctx context.Context, correlationID string, size int) (context.Context, trace.Span)

	// StartTransactionSpan starts a span for a multi-step transaction.
	StartTransactionSpan(ctx context.Context, txnID string, steps int) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartBatchSpan starts a span for a batch processing pass.
func (m *otelSpanManager) StartBatchSpan(ctx context.Context, correlationID string, size int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "coherence.batch",
		trace.WithAttributes(
			attribute.String("correlation.id", correlationID),
			attribute.Int("batch.size", size),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartTransactionSpan starts a span for a multi-step transaction.
func (m *otelSpanManager) StartTransactionSpan(ctx context.Context, txnID string, steps int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "coherence.txn",
		trace.WithAttributes(
			attribute.String("txn.id", txnID),
			attribute.Int("txn.steps", steps),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
