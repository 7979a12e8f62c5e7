// Package txn runs multi-step operations with ordered compensation on
// failure.
//
// Each step has a forward action and an optional rollback receiving the
// forward result. If any step fails, every previously succeeded step is
// compensated in reverse order; a failing compensator is logged and
// never blocks the others.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	cohererr "github.com/storekeep/coherence/pkg/coherence/errors"
	"github.com/storekeep/coherence/pkg/coherence/observability"
)

// Step is a single unit of a transaction.
type Step struct {
	// Name identifies the step.
	Name string

	// Execute runs the forward action.
	Execute func(ctx context.Context) (any, error)

	// Rollback compensates a succeeded step; it receives the forward
	// result. Nil means the step needs no compensation.
	Rollback func(ctx context.Context, result any) error
}

// Result is the outcome of a transaction. Results is indexed like the
// input steps; entries for failed or unreached steps are nil.
type Result struct {
	Success    bool
	RolledBack bool
	Results    []any
	Errors     []error
}

// Coordinator executes transactions. Stateless apart from its
// observability hooks; safe for concurrent use.
type Coordinator struct {
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// New creates a coordinator.
func New(logger *slog.Logger, metrics observability.MetricsRecorder, spans observability.SpanManager) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	if spans == nil {
		spans = observability.NoopSpanManager{}
	}
	return &Coordinator{logger: logger, metrics: metrics, spans: spans}
}

func validate(steps []Step) error {
	if len(steps) == 0 {
		return errors.New("transaction must have at least one step")
	}
	for i, step := range steps {
		if step.Name == "" {
			return fmt.Errorf("step %d: name is required", i)
		}
		if step.Execute == nil {
			return fmt.Errorf("step %d (%s): execute is required", i, step.Name)
		}
	}
	return nil
}

// Execute runs the steps strictly in order. On the first failure it
// compensates every previously succeeded step in reverse order and
// returns {Success:false, RolledBack:true} with the step's error.
func (c *Coordinator) Execute(ctx context.Context, steps []Step) Result {
	if err := validate(steps); err != nil {
		return Result{Errors: []error{err}}
	}

	txnID := fmt.Sprintf("txn-%s", uuid.New().String()[:8])
	ctx, span := c.spans.StartTransactionSpan(ctx, txnID, len(steps))

	results := make([]any, len(steps))
	for i, step := range steps {
		value, err := step.Execute(ctx)
		if err != nil {
			stepErr := &cohererr.OperationError{Op: step.Name, Err: err}
			c.logger.Error("transaction step failed",
				slog.String("txn_id", txnID),
				slog.String("step", step.Name),
				slog.String("error", err.Error()),
			)
			c.compensate(ctx, txnID, steps, results, i-1)
			c.spans.EndSpanWithError(span, stepErr)
			return Result{
				RolledBack: true,
				Results:    results,
				Errors:     []error{err},
			}
		}
		results[i] = value
	}

	c.spans.EndSpanWithError(span, nil)
	return Result{Success: true, Results: results}
}

// ExecuteParallel runs all steps concurrently and settles. If any step
// fails, every step that did succeed is compensated before returning
// failure. The result shape matches Execute.
func (c *Coordinator) ExecuteParallel(ctx context.Context, steps []Step) Result {
	if err := validate(steps); err != nil {
		return Result{Errors: []error{err}}
	}

	txnID := fmt.Sprintf("txn-%s", uuid.New().String()[:8])
	ctx, span := c.spans.StartTransactionSpan(ctx, txnID, len(steps))

	results := make([]any, len(steps))
	errs := make([]error, len(steps))

	var wg sync.WaitGroup
	for i := range steps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = steps[i].Execute(ctx)
		}(i)
	}
	wg.Wait()

	var failed []error
	for i, err := range errs {
		if err != nil {
			failed = append(failed, err)
			c.logger.Error("transaction step failed",
				slog.String("txn_id", txnID),
				slog.String("step", steps[i].Name),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(failed) == 0 {
		c.spans.EndSpanWithError(span, nil)
		return Result{Success: true, Results: results}
	}

	// Compensate every succeeded step, reverse order
	for i := len(steps) - 1; i >= 0; i-- {
		if errs[i] != nil {
			results[i] = nil
			continue
		}
		c.rollbackStep(ctx, txnID, steps[i], results[i])
	}

	c.spans.EndSpanWithError(span, failed[0])
	return Result{
		RolledBack: true,
		Results:    results,
		Errors:     failed,
	}
}

// compensate rolls back steps [0..from] in reverse order, swallowing
// individual rollback errors so one failing compensator does not block
// the others.
func (c *Coordinator) compensate(ctx context.Context, txnID string, steps []Step, results []any, from int) {
	for i := from; i >= 0; i-- {
		c.rollbackStep(ctx, txnID, steps[i], results[i])
	}
}

func (c *Coordinator) rollbackStep(ctx context.Context, txnID string, step Step, result any) {
	if step.Rollback == nil {
		return
	}

	err := step.Rollback(ctx, result)
	c.metrics.RecordCompensation(ctx, step.Name, err)
	if err != nil {
		rbErr := &cohererr.RollbackError{Step: step.Name, Err: err}
		observability.LogRollbackError(c.logger, step.Name, rbErr)
		return
	}
	c.logger.Debug("transaction step compensated",
		slog.String("txn_id", txnID),
		slog.String("step", step.Name),
	)
}
