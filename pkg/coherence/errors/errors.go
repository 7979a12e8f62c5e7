// Package errors provides the error taxonomy and categorization used
// across the cache coordination layer.
//
// The layered approach:
//   - Typed errors: classify what failed (handler, validation, operation,
//     rollback, retry exhaustion)
//   - Categorization: classify how a failure should be handled
//   - Retry: the retry package uses IsRetryable as its default policy
//
// Nothing here is process-fatal. The layer always rethrows to its caller;
// the worst case is a stale cache awaiting the next successful sync.
package errors

import (
	"errors"
	"fmt"
)

// HandlerError indicates a subscriber threw during event delivery.
// It is isolated and logged, never fatal to the emit.
type HandlerError struct {
	EventType      string
	SubscriptionID string
	Err            error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed on %s: %v", e.SubscriptionID, e.EventType, e.Err)
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error { return e.Err }

// ValidationError indicates a pre-operation validator rejected input.
// It is propagated synchronously to the caller and also surfaced as a
// system-error event.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// OperationError indicates a wrapped business operation failed. It
// triggers rollback or compensation and is rethrown unchanged.
type OperationError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *OperationError) Unwrap() error { return e.Err }

// RollbackError indicates a compensator itself failed. It is always
// logged and never escalated.
type RollbackError struct {
	Step string
	Err  error
}

// Error implements the error interface.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback of %s failed: %v", e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error { return e.Err }

// RetryExhaustedError surfaces an operation failure after the configured
// attempts. It unwraps to the original error.
type RetryExhaustedError struct {
	OperationID string
	Attempts    int
	Err         error
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("operation %s failed after %d attempts: %v", e.OperationID, e.Attempts, e.Err)
}

// Unwrap returns the underlying error.
func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: timeouts, temporary network issues on refetch.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	// Examples: validation failures, invalid configuration.
	CategoryPermanent
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	Err      error
	Category Category
	Context  string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s)", e.Context, e.Err, e.Category)
	}
	return fmt.Sprintf("%s (category: %s)", e.Err, e.Category)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error { return e.Err }

// Transient creates a transient error.
func Transient(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryTransient, Context: context}
}

// Permanent creates a permanent error.
func Permanent(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryPermanent, Context: context}
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return CategoryPermanent
	}

	var exhausted *RetryExhaustedError
	if errors.As(err, &exhausted) {
		return CategoryPermanent // already retried
	}

	// Unknown errors are transient: the server round-trip is the
	// recovery path for this layer
	return CategoryTransient
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
