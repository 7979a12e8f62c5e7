package retry_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cohererr "github.com/storekeep/coherence/pkg/coherence/errors"
	"github.com/storekeep/coherence/pkg/coherence/retry"
)

func fastConfig(maxRetries int) retry.Config {
	return retry.Config{
		MaxRetries:    maxRetries,
		BaseDelay:     5 * time.Millisecond,
		MaxDelay:      20 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestExecutor_SucceedsFirstAttempt(t *testing.T) {
	e := retry.NewExecutor(nil, nil)

	var calls atomic.Int32
	value, err := e.Execute(context.Background(), "op-1", func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "done", nil
	}, fastConfig(3))

	require.NoError(t, err)
	assert.Equal(t, "done", value)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, e.PendingCount())
}

func TestExecutor_RetriesThenSucceeds(t *testing.T) {
	e := retry.NewExecutor(nil, nil)

	var calls atomic.Int32
	value, err := e.Execute(context.Background(), "op-1", func(ctx context.Context) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return "recovered", nil
	}, fastConfig(5))

	require.NoError(t, err)
	assert.Equal(t, "recovered", value)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecutor_ExhaustionAttemptCount(t *testing.T) {
	e := retry.NewExecutor(nil, nil)

	original := errors.New("still down")
	var calls atomic.Int32

	// MaxRetries 2 means 3 invocations total
	_, err := e.Execute(context.Background(), "op-1", func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, original
	}, fastConfig(2))

	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	var exhausted *cohererr.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, original, "exhaustion must unwrap to the original error")
}

func TestExecutor_NonRetryableFailsFast(t *testing.T) {
	e := retry.NewExecutor(nil, nil)

	valErr := &cohererr.ValidationError{Field: "sku", Message: "required"}
	var calls atomic.Int32

	_, err := e.Execute(context.Background(), "op-1", func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, valErr
	}, fastConfig(5))

	assert.Equal(t, int32(1), calls.Load(), "permanent failures must not be retried")
	assert.Equal(t, valErr, err, "the original error must come back unchanged")
}

func TestExecutor_CustomShouldRetry(t *testing.T) {
	e := retry.NewExecutor(nil, nil)

	cfg := fastConfig(5)
	cfg.ShouldRetry = func(err error) bool { return false }

	var calls atomic.Int32
	_, err := e.Execute(context.Background(), "op-1", func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, errors.New("would normally retry")
	}, cfg)

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecutor_Cancel(t *testing.T) {
	e := retry.NewExecutor(nil, nil)

	var calls atomic.Int32
	started := make(chan struct{}, 1)

	cfg := retry.Config{
		MaxRetries:    5,
		BaseDelay:     200 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
	}

	resultCh := make(chan error, 1)
	go func() {
		_, err := e.Execute(context.Background(), "op-1", func(ctx context.Context) (any, error) {
			calls.Add(1)
			select {
			case started <- struct{}{}:
			default:
			}
			return nil, errors.New("transient")
		}, cfg)
		resultCh <- err
	}()

	<-started
	// The first attempt failed; a 200ms continuation is now pending
	time.Sleep(20 * time.Millisecond)
	e.Cancel("op-1")
	e.Cancel("op-1") // idempotent

	err := <-resultCh
	assert.ErrorIs(t, err, retry.ErrCancelled)

	// The cancelled continuation must never fire
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, e.PendingCount())
}

func TestExecutor_ContextCancellation(t *testing.T) {
	e := retry.NewExecutor(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())

	cfg := retry.Config{
		MaxRetries:    5,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
	}

	resultCh := make(chan error, 1)
	go func() {
		_, err := e.Execute(ctx, "op-1", func(ctx context.Context) (any, error) {
			return nil, errors.New("transient")
		}, cfg)
		resultCh <- err
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	err := <-resultCh
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecutor_DuplicateInFlightID(t *testing.T) {
	e := retry.NewExecutor(nil, nil)

	release := make(chan struct{})
	go e.Execute(context.Background(), "op-1", func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	}, fastConfig(0))

	assert.Eventually(t, func() bool {
		return e.PendingCount() == 1
	}, time.Second, 5*time.Millisecond)

	_, err := e.Execute(context.Background(), "op-1", func(ctx context.Context) (any, error) {
		return nil, nil
	}, fastConfig(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in flight")

	close(release)
}

func TestDo_TypedResult(t *testing.T) {
	e := retry.NewExecutor(nil, nil)

	n, err := retry.Do(context.Background(), e, "op-1", fastConfig(1), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}
