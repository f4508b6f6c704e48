package txn

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "katalyst/internal/errors"
	"katalyst/internal/resilience"
)

// fakeAdapter records begin/commit/rollback/onPhase calls in order for
// assertion.
type fakeAdapter struct {
	mu         sync.Mutex
	events     []string
	failBegin  bool
	failPhase  Phase
	failCommit bool
}

func (a *fakeAdapter) record(s string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, s)
}

func (a *fakeAdapter) Begin(ctx context.Context, isolation Isolation) error {
	a.record("begin")
	if a.failBegin {
		return fmt.Errorf("begin failed")
	}
	return nil
}

func (a *fakeAdapter) Commit(ctx context.Context) error {
	a.record("commit")
	if a.failCommit {
		return fmt.Errorf("commit failed")
	}
	return nil
}

func (a *fakeAdapter) Rollback(ctx context.Context) error {
	a.record("rollback")
	return nil
}

func (a *fakeAdapter) OnPhase(ctx context.Context, phase Phase, tc *Context) error {
	a.record(string(phase))
	if a.failPhase == phase {
		return fmt.Errorf("phase %s failed", phase)
	}
	return nil
}

func noRetryConfig() Config {
	return Config{Timeout: time.Second, Retry: resilience.Policy{MaxAttempts: 1, Strategy: resilience.StrategyImmediate}, Isolation: IsolationDefault}
}

func TestExecuteSuccessPathRunsAllSixPhasesOnce(t *testing.T) {
	hooks := NewHookRegistry()
	var seen []Phase
	record := func(ctx context.Context, tc *Context, p Phase) error {
		seen = append(seen, p)
		return nil
	}
	for _, p := range []Phase{PhaseBeforeBegin, PhaseAfterBegin, PhaseBeforeCommitValidation, PhaseBeforeCommit, PhaseAfterCommit} {
		hooks.Register(Hook{ID: string(p), Phases: []Phase{p}, Handler: record})
	}

	m := NewManager(hooks, nil)
	err := m.Execute(context.Background(), noRetryConfig(), func(ctx context.Context, tc *Context) error { return nil })
	require.NoError(t, err)

	assert.Equal(t, []Phase{PhaseBeforeBegin, PhaseAfterBegin, PhaseBeforeCommitValidation, PhaseBeforeCommit, PhaseAfterCommit}, seen)
}

func TestExecuteRollbackPathNeverFiresAfterCommit(t *testing.T) {
	hooks := NewHookRegistry()
	var seen []Phase
	record := func(ctx context.Context, tc *Context, p Phase) error {
		seen = append(seen, p)
		return nil
	}
	for _, p := range []Phase{PhaseBeforeBegin, PhaseAfterBegin, PhaseAfterCommit, PhaseOnRollback, PhaseAfterRollback} {
		hooks.Register(Hook{ID: string(p), Phases: []Phase{p}, Handler: record})
	}

	m := NewManager(hooks, nil)
	boom := fmt.Errorf("boom")
	err := m.Execute(context.Background(), noRetryConfig(), func(ctx context.Context, tc *Context) error { return boom })
	require.Error(t, err)

	assert.Contains(t, seen, PhaseOnRollback)
	assert.Contains(t, seen, PhaseAfterRollback)
	assert.NotContains(t, seen, PhaseAfterCommit)
	assert.Equal(t, 1, countPhase(seen, PhaseOnRollback))
	assert.Equal(t, 1, countPhase(seen, PhaseAfterRollback))
}

func countPhase(seen []Phase, p Phase) int {
	n := 0
	for _, s := range seen {
		if s == p {
			n++
		}
	}
	return n
}

func TestExecuteAllAdaptersBeginAndCommit(t *testing.T) {
	a1 := &fakeAdapter{}
	a2 := &fakeAdapter{}
	m := NewManager(NewHookRegistry(), nil, a1, a2)

	err := m.Execute(context.Background(), noRetryConfig(), func(ctx context.Context, tc *Context) error { return nil })
	require.NoError(t, err)

	assert.Contains(t, a1.events, "begin")
	assert.Contains(t, a1.events, "commit")
	assert.Contains(t, a2.events, "begin")
	assert.Contains(t, a2.events, "commit")
}

func TestExecutePreCommitAdapterFailureTriggersRollbackAcrossAll(t *testing.T) {
	a1 := &fakeAdapter{}
	a2 := &fakeAdapter{failPhase: PhaseBeforeCommit}
	m := NewManager(NewHookRegistry(), nil, a1, a2)

	err := m.Execute(context.Background(), noRetryConfig(), func(ctx context.Context, tc *Context) error { return nil })
	require.Error(t, err)
	assert.Contains(t, a1.events, "rollback")
	assert.Contains(t, a2.events, "rollback")
	assert.NotContains(t, a1.events, "commit")
}

func TestExecuteNestedCallParticipatesInOuterContext(t *testing.T) {
	m := NewManager(NewHookRegistry(), nil)
	var outerID, innerID string

	err := m.Execute(context.Background(), DefaultConfig(), func(ctx context.Context, tc *Context) error {
		outerID = tc.ID()
		return m.Execute(ctx, DefaultConfig(), func(ctx context.Context, inner *Context) error {
			innerID = inner.ID()
			assert.Equal(t, 2, inner.Depth())
			return nil
		})
	})

	require.NoError(t, err)
	assert.Equal(t, outerID, innerID)
}

func TestExecuteNestedFailureMarksOuterRollbackOnly(t *testing.T) {
	m := NewManager(NewHookRegistry(), nil)
	err := m.Execute(context.Background(), noRetryConfig(), func(ctx context.Context, tc *Context) error {
		innerErr := m.Execute(ctx, DefaultConfig(), func(ctx context.Context, inner *Context) error {
			return fmt.Errorf("inner failed")
		})
		assert.Error(t, innerErr)
		assert.True(t, tc.IsRollbackOnly())
		return nil
	})
	require.Error(t, err, "outer commit becomes a rollback because the inner participant marked rollback-only")
}

func TestExecuteTimeoutProducesTransactionTimeout(t *testing.T) {
	m := NewManager(NewHookRegistry(), nil)
	cfg := Config{Timeout: 10 * time.Millisecond, Retry: resilience.Policy{MaxAttempts: 1, Strategy: resilience.StrategyImmediate}}

	err := m.Execute(context.Background(), cfg, func(ctx context.Context, tc *Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRANSACTION_TIMEOUT")
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	m := NewManager(NewHookRegistry(), nil)
	cfg := Config{Timeout: time.Second, Retry: resilience.Policy{MaxAttempts: 3, Strategy: resilience.StrategyImmediate}}

	attempts := 0
	err := m.Execute(context.Background(), cfg, func(ctx context.Context, tc *Context) error {
		attempts++
		if attempts < 2 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestExecuteRetriesExhaustedWrapsCause(t *testing.T) {
	m := NewManager(NewHookRegistry(), nil)
	cfg := Config{Timeout: time.Second, Retry: resilience.Policy{MaxAttempts: 2, Strategy: resilience.StrategyImmediate}}

	attempts := 0
	err := m.Execute(context.Background(), cfg, func(ctx context.Context, tc *Context) error {
		attempts++
		return fmt.Errorf("persistent")
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.Contains(t, err.Error(), "RETRIES_EXHAUSTED")
	assert.Contains(t, err.Error(), "persistent")
}

func TestExecuteRollbackOnlyMarkWithoutErrorReturnsRollbackInitiated(t *testing.T) {
	hooks := NewHookRegistry()
	var seen []Phase
	record := func(ctx context.Context, tc *Context, p Phase) error {
		seen = append(seen, p)
		return nil
	}
	for _, p := range []Phase{PhaseAfterCommit, PhaseOnRollback, PhaseAfterRollback} {
		hooks.Register(Hook{ID: string(p), Phases: []Phase{p}, Handler: record})
	}

	m := NewManager(hooks, nil)
	err := m.Execute(context.Background(), noRetryConfig(), func(ctx context.Context, tc *Context) error {
		tc.MarkRollbackOnly(nil)
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ROLLBACK_INITIATED")
	assert.Contains(t, seen, PhaseOnRollback)
	assert.NotContains(t, seen, PhaseAfterCommit)
}

func TestExecuteDeadlockRetriesEvenWhenClassifierSaysNo(t *testing.T) {
	m := NewManager(NewHookRegistry(), nil)
	cfg := Config{Timeout: time.Second, Retry: resilience.Policy{
		MaxAttempts: 3,
		Strategy:    resilience.StrategyImmediate,
		Retryable:   func(err error) bool { return false },
	}}

	attempts := 0
	err := m.Execute(context.Background(), cfg, func(ctx context.Context, tc *Context) error {
		attempts++
		if attempts < 2 {
			return kerrors.NewDeadlock(nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestExecuteRunsReleaseActionsOnCommitPath(t *testing.T) {
	m := NewManager(NewHookRegistry(), nil)
	var released []string

	err := m.Execute(context.Background(), noRetryConfig(), func(ctx context.Context, tc *Context) error {
		tc.OnRelease(func(committed bool) error {
			released = append(released, fmt.Sprintf("first committed=%v", committed))
			return nil
		})
		tc.OnRelease(func(committed bool) error {
			released = append(released, fmt.Sprintf("second committed=%v", committed))
			return nil
		})
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"second committed=true", "first committed=true"}, released,
		"releases run in reverse acquisition order")
}

func TestExecuteRunsReleaseActionsOnRollbackPath(t *testing.T) {
	m := NewManager(NewHookRegistry(), nil)
	var released []bool

	err := m.Execute(context.Background(), noRetryConfig(), func(ctx context.Context, tc *Context) error {
		tc.OnRelease(func(committed bool) error {
			released = append(released, committed)
			return nil
		})
		return fmt.Errorf("boom")
	})

	require.Error(t, err)
	assert.Equal(t, []bool{false}, released)
}

func TestExecuteReleaseFailureDoesNotChangeOutcome(t *testing.T) {
	m := NewManager(NewHookRegistry(), nil)

	err := m.Execute(context.Background(), noRetryConfig(), func(ctx context.Context, tc *Context) error {
		tc.OnRelease(func(committed bool) error { return fmt.Errorf("release failed") })
		return nil
	})
	require.NoError(t, err, "a release failure is logged, not propagated")
}

func TestExecuteNonRetryableFailurePropagatesImmediately(t *testing.T) {
	m := NewManager(NewHookRegistry(), nil)
	cfg := Config{Timeout: time.Second, Retry: resilience.Policy{
		MaxAttempts: 5,
		Strategy:    resilience.StrategyImmediate,
		Retryable:   func(err error) bool { return false },
	}}

	attempts := 0
	err := m.Execute(context.Background(), cfg, func(ctx context.Context, tc *Context) error {
		attempts++
		return fmt.Errorf("fatal")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.NotContains(t, err.Error(), "RETRIES_EXHAUSTED")
}
