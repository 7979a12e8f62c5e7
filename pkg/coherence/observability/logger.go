// Package observability provides structured logging, metrics, and
// tracing for the cache coordination layer.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds coordination context to a logger.
// Returns a new logger with correlation_id and category fields.
func EnrichLogger(logger *slog.Logger, correlationID, category string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("correlation_id", correlationID),
		slog.String("category", category),
	)
}

// LogBatchStart logs the start of a batch processing pass.
func LogBatchStart(logger *slog.Logger, size int, categories int) {
	if logger == nil {
		return
	}
	logger.Debug("batch processing starting",
		slog.Int("events", size),
		slog.Int("categories", categories),
	)
}

// LogBatchComplete logs batch processing completion.
func LogBatchComplete(logger *slog.Logger, size int, commands int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("batch processed",
		slog.Int("events", size),
		slog.Int("commands", commands),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogCommandError logs a per-target store command failure (non-fatal).
func LogCommandError(logger *slog.Logger, strategy, key string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("cache command failed",
		slog.String("strategy", strategy),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

// LogWarmingRun logs a warming strategy invocation.
func LogWarmingRun(logger *slog.Logger, strategy string, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Warn("warming strategy failed",
			slog.String("strategy", strategy),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("warming strategy completed",
		slog.String("strategy", strategy),
	)
}

// LogRetryScheduled logs a scheduled retry attempt.
func LogRetryScheduled(logger *slog.Logger, operationID string, attempt int, delay time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("retry scheduled",
		slog.String("operation_id", operationID),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
	)
}

// LogRollbackError logs a compensator failure (never escalated).
func LogRollbackError(logger *slog.Logger, step string, err error) {
	if logger == nil {
		return
	}
	logger.Error("rollback failed",
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
