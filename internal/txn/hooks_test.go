package txn

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookRegistryRunsInDescendingPriorityWithinPhase(t *testing.T) {
	r := NewHookRegistry()
	var order []string

	r.Register(Hook{ID: "low", Phases: []Phase{PhaseBeforeCommit}, Priority: 1, Handler: func(ctx context.Context, tc *Context, p Phase) error {
		order = append(order, "low")
		return nil
	}})
	r.Register(Hook{ID: "high", Phases: []Phase{PhaseBeforeCommit}, Priority: 10, Handler: func(ctx context.Context, tc *Context, p Phase) error {
		order = append(order, "high")
		return nil
	}})
	r.Register(Hook{ID: "mid", Phases: []Phase{PhaseBeforeCommit}, Priority: 5, Handler: func(ctx context.Context, tc *Context, p Phase) error {
		order = append(order, "mid")
		return nil
	}})

	require.NoError(t, r.Run(context.Background(), NewContext(), PhaseBeforeCommit))
	assert.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestHookRegistryOnlyDispatchesInterestedPhase(t *testing.T) {
	r := NewHookRegistry()
	called := false
	r.Register(Hook{ID: "h", Phases: []Phase{PhaseAfterCommit}, Handler: func(ctx context.Context, tc *Context, p Phase) error {
		called = true
		return nil
	}})

	require.NoError(t, r.Run(context.Background(), NewContext(), PhaseBeforeBegin))
	assert.False(t, called)
}

func TestHookRegistryPreCommitFailureAbortsAndWrapsHookFailed(t *testing.T) {
	r := NewHookRegistry()
	r.Register(Hook{ID: "boom", Phases: []Phase{PhaseBeforeCommit}, Handler: func(ctx context.Context, tc *Context, p Phase) error {
		return fmt.Errorf("validation failed")
	}})

	err := r.Run(context.Background(), NewContext(), PhaseBeforeCommit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "BEFORE_COMMIT")
}

func TestHookRegistrySuppressesAfterCommitFailure(t *testing.T) {
	r := NewHookRegistry()
	var secondRan bool
	r.Register(Hook{ID: "boom", Phases: []Phase{PhaseAfterCommit}, Priority: 10, Handler: func(ctx context.Context, tc *Context, p Phase) error {
		return fmt.Errorf("notify failed")
	}})
	r.Register(Hook{ID: "second", Phases: []Phase{PhaseAfterCommit}, Priority: 1, Handler: func(ctx context.Context, tc *Context, p Phase) error {
		secondRan = true
		return nil
	}})

	err := r.Run(context.Background(), NewContext(), PhaseAfterCommit)
	assert.NoError(t, err)
	assert.True(t, secondRan, "hooks after a suppressed failure still run")
}

func TestHookRegistrySuppressesAfterRollbackFailure(t *testing.T) {
	r := NewHookRegistry()
	r.Register(Hook{ID: "boom", Phases: []Phase{PhaseAfterRollback}, Handler: func(ctx context.Context, tc *Context, p Phase) error {
		return fmt.Errorf("cleanup failed")
	}})

	assert.NoError(t, r.Run(context.Background(), NewContext(), PhaseAfterRollback))
}
