package txn_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storekeep/coherence/pkg/coherence/txn"
)

func TestExecute_AllStepsSucceed(t *testing.T) {
	c := txn.New(nil, nil, nil)

	result := c.Execute(context.Background(), []txn.Step{
		{
			Name:    "reserve",
			Execute: func(ctx context.Context) (any, error) { return "r-1", nil },
		},
		{
			Name:    "charge",
			Execute: func(ctx context.Context) (any, error) { return "c-1", nil },
		},
	})

	assert.True(t, result.Success)
	assert.False(t, result.RolledBack)
	assert.Equal(t, []any{"r-1", "c-1"}, result.Results)
	assert.Empty(t, result.Errors)
}

func TestExecute_FailureCompensatesReverse(t *testing.T) {
	c := txn.New(nil, nil, nil)

	var mu sync.Mutex
	var rollbacks []string
	var rollbackResults []any

	stepErr := errors.New("charge declined")

	result := c.Execute(context.Background(), []txn.Step{
		{
			Name:    "reserve",
			Execute: func(ctx context.Context) (any, error) { return "r-1", nil },
			Rollback: func(ctx context.Context, res any) error {
				mu.Lock()
				rollbacks = append(rollbacks, "reserve")
				rollbackResults = append(rollbackResults, res)
				mu.Unlock()
				return nil
			},
		},
		{
			Name:    "adjust",
			Execute: func(ctx context.Context) (any, error) { return "a-1", nil },
			Rollback: func(ctx context.Context, res any) error {
				mu.Lock()
				rollbacks = append(rollbacks, "adjust")
				mu.Unlock()
				return nil
			},
		},
		{
			Name:    "charge",
			Execute: func(ctx context.Context) (any, error) { return nil, stepErr },
			Rollback: func(ctx context.Context, res any) error {
				t.Error("failed step must not be compensated")
				return nil
			},
		},
	})

	assert.False(t, result.Success)
	assert.True(t, result.RolledBack)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, stepErr, result.Errors[0], "the step's error must come back unchanged")

	// Reverse order, each succeeded step exactly once, with its result
	assert.Equal(t, []string{"adjust", "reserve"}, rollbacks)
	assert.Equal(t, []any{"r-1"}, rollbackResults)
}

func TestExecute_FirstStepFailsNothingToCompensate(t *testing.T) {
	c := txn.New(nil, nil, nil)

	stepErr := errors.New("reserve failed")
	result := c.Execute(context.Background(), []txn.Step{
		{
			Name:    "reserve",
			Execute: func(ctx context.Context) (any, error) { return nil, stepErr },
			Rollback: func(ctx context.Context, res any) error {
				t.Error("failed step must not be compensated")
				return nil
			},
		},
	})

	assert.False(t, result.Success)
	assert.True(t, result.RolledBack)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, stepErr, result.Errors[0])
}

func TestExecute_RollbackFailureIsSwallowed(t *testing.T) {
	c := txn.New(nil, nil, nil)

	var laterRolledBack atomic.Bool

	result := c.Execute(context.Background(), []txn.Step{
		{
			Name:    "first",
			Execute: func(ctx context.Context) (any, error) { return "ok", nil },
			Rollback: func(ctx context.Context, res any) error {
				laterRolledBack.Store(true)
				return nil
			},
		},
		{
			Name:    "second",
			Execute: func(ctx context.Context) (any, error) { return "ok", nil },
			Rollback: func(ctx context.Context, res any) error {
				return errors.New("compensation failed")
			},
		},
		{
			Name:    "third",
			Execute: func(ctx context.Context) (any, error) { return nil, errors.New("boom") },
		},
	})

	assert.True(t, result.RolledBack)
	assert.True(t, laterRolledBack.Load(), "a failing compensator must not block earlier steps")
	require.Len(t, result.Errors, 1, "rollback errors are logged, not returned")
}

func TestExecute_NilRollbackSkipped(t *testing.T) {
	c := txn.New(nil, nil, nil)

	result := c.Execute(context.Background(), []txn.Step{
		{
			Name:    "log",
			Execute: func(ctx context.Context) (any, error) { return "noted", nil },
		},
		{
			Name:    "fail",
			Execute: func(ctx context.Context) (any, error) { return nil, errors.New("boom") },
		},
	})

	assert.True(t, result.RolledBack)
}

func TestExecute_Validation(t *testing.T) {
	c := txn.New(nil, nil, nil)

	t.Run("no steps", func(t *testing.T) {
		result := c.Execute(context.Background(), nil)
		assert.False(t, result.Success)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0].Error(), "at least one step")
	})

	t.Run("missing name", func(t *testing.T) {
		result := c.Execute(context.Background(), []txn.Step{
			{Execute: func(ctx context.Context) (any, error) { return nil, nil }},
		})
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0].Error(), "name is required")
	})

	t.Run("missing execute", func(t *testing.T) {
		result := c.Execute(context.Background(), []txn.Step{{Name: "x"}})
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0].Error(), "execute is required")
	})
}

func TestExecuteParallel_AllSucceed(t *testing.T) {
	c := txn.New(nil, nil, nil)

	result := c.ExecuteParallel(context.Background(), []txn.Step{
		{Name: "a", Execute: func(ctx context.Context) (any, error) { return 1, nil }},
		{Name: "b", Execute: func(ctx context.Context) (any, error) { return 2, nil }},
		{Name: "c", Execute: func(ctx context.Context) (any, error) { return 3, nil }},
	})

	assert.True(t, result.Success)
	assert.Equal(t, []any{1, 2, 3}, result.Results, "results must stay index-aligned with steps")
}

func TestExecuteParallel_PartialFailureCompensatesSucceeded(t *testing.T) {
	c := txn.New(nil, nil, nil)

	var compensated sync.Map
	stepErr := errors.New("b failed")

	result := c.ExecuteParallel(context.Background(), []txn.Step{
		{
			Name:    "a",
			Execute: func(ctx context.Context) (any, error) { return "a-done", nil },
			Rollback: func(ctx context.Context, res any) error {
				compensated.Store("a", res)
				return nil
			},
		},
		{
			Name:    "b",
			Execute: func(ctx context.Context) (any, error) { return nil, stepErr },
			Rollback: func(ctx context.Context, res any) error {
				t.Error("failed step must not be compensated")
				return nil
			},
		},
		{
			Name:    "c",
			Execute: func(ctx context.Context) (any, error) { return "c-done", nil },
			Rollback: func(ctx context.Context, res any) error {
				compensated.Store("c", res)
				return nil
			},
		},
	})

	assert.False(t, result.Success)
	assert.True(t, result.RolledBack)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, stepErr, result.Errors[0])

	aRes, ok := compensated.Load("a")
	assert.True(t, ok)
	assert.Equal(t, "a-done", aRes)
	_, ok = compensated.Load("c")
	assert.True(t, ok)
}
