package txn

import (
	"context"
	"errors"
	"time"

	kerrors "katalyst/internal/errors"
	"katalyst/internal/logging"
	"katalyst/internal/metrics"
	"katalyst/internal/resilience"
)

// Block is the user-supplied scoped work unit passed to Manager.Execute.
type Block func(ctx context.Context, tc *Context) error

type contextKey struct{}

var activeContextKey = contextKey{}

// FromContext returns the live TransactionContext carried on ctx, if the
// calling worker is already inside a transaction.
func FromContext(ctx context.Context) (*Context, bool) {
	tc, ok := ctx.Value(activeContextKey).(*Context)
	return tc, ok
}

func withActiveContext(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, activeContextKey, tc)
}

// Manager owns the scoped execution contract:
//
//	result = txm.Execute(ctx, cfg, block)
type Manager struct {
	hooks    *HookRegistry
	adapters []Adapter
	metrics  *metrics.TransactionMetrics
}

// NewManager builds a Manager around hooks and the adapters that will
// participate in every transaction's BEGIN/COMMIT/ROLLBACK, in
// registration order.
func NewManager(hooks *HookRegistry, m *metrics.TransactionMetrics, adapters ...Adapter) *Manager {
	return &Manager{hooks: hooks, adapters: adapters, metrics: m}
}

// Hooks exposes the manager's HookRegistry so callers (e.g. the
// TxAwareBus constructor) can register the built-in priority-100
// publishing hook on BEFORE_COMMIT.
func (m *Manager) Hooks() *HookRegistry { return m.hooks }

// Execute runs block under cfg's timeout/retry/isolation policy. If the
// calling worker already holds a live TransactionContext (nested call),
// Execute participates in it instead of starting a new driver
// transaction.
func (m *Manager) Execute(ctx context.Context, cfg Config, block Block) error {
	if outer, ok := FromContext(ctx); ok {
		return m.participate(ctx, outer, block)
	}
	return m.executeOutermost(ctx, cfg, block)
}

func (m *Manager) participate(ctx context.Context, tc *Context, block Block) error {
	tc.enter()
	defer tc.exit()
	err := block(ctx, tc)
	if err != nil {
		tc.MarkRollbackOnly(err)
		return err
	}
	if tc.IsRollbackOnly() {
		return rollbackCause(tc)
	}
	return nil
}

// rollbackCause returns the error a rollback-only context should surface:
// the first recorded failure, or RollbackInitiated when the caller marked
// the context without one.
func rollbackCause(tc *Context) error {
	if err := tc.Err(); err != nil {
		return err
	}
	return kerrors.NewRollbackInitiated("transaction marked rollback-only")
}

func (m *Manager) executeOutermost(ctx context.Context, cfg Config, block Block) error {
	maxAttempts := cfg.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		tc := NewContext()
		txCtx := withActiveContext(ctx, tc)
		txCtx = logging.WithTransactionID(txCtx, tc.ID())

		err := m.runOnce(txCtx, cfg, tc, block)
		m.recordOutcome(err, time.Since(start), attempt)
		if err == nil {
			return nil
		}
		if !retryable(cfg, err) {
			return err
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		delay := cfg.Retry.DelayForAttempt(attempt)
		if m.metrics != nil {
			m.metrics.RecordRetry(resilience.ClassifyError(err), string(cfg.Retry.Strategy), delay.Seconds())
		}
		if !resilience.Wait(ctx, delay) {
			return ctx.Err()
		}
	}

	return kerrors.NewRetriesExhausted(maxAttempts, lastErr)
}

// retryable classifies one attempt's failure. Deadlock always retries;
// a blown transaction budget and a user-requested rollback never do,
// since re-running the scope cannot change either outcome; everything
// else follows the config's classifier.
func retryable(cfg Config, err error) bool {
	if errors.As(err, new(*kerrors.DeadlockError)) {
		return true
	}
	if errors.As(err, new(*kerrors.TransactionTimeoutError)) {
		return false
	}
	if errors.As(err, new(*kerrors.RollbackInitiatedError)) {
		return false
	}
	return cfg.Retry.IsRetryable(err)
}

func (m *Manager) recordOutcome(err error, elapsed time.Duration, attempt int) {
	if m.metrics == nil {
		return
	}
	outcome := "committed"
	if err != nil {
		outcome = "rolled_back"
		if errors.As(err, new(*kerrors.TransactionTimeoutError)) {
			outcome = "timed_out"
		}
	}
	m.metrics.RecordOutcome(outcome, elapsed.Seconds())
}

// runOnce drives exactly one attempt's phase sequence:
//
//	BEFORE_BEGIN -> begin -> AFTER_BEGIN -> block ->
//	BEFORE_COMMIT_VALIDATION -> BEFORE_COMMIT -> commit -> AFTER_COMMIT
//
// or, on any failure before commit:
//
//	ON_ROLLBACK -> rollback -> AFTER_ROLLBACK
func (m *Manager) runOnce(ctx context.Context, cfg Config, tc *Context, block Block) error {
	tc.enter()
	defer tc.exit()

	if err := m.runPhase(ctx, tc, PhaseBeforeBegin, nil); err != nil {
		return err
	}

	begun := make([]Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		if err := a.Begin(ctx, cfg.Isolation); err != nil {
			m.rollbackAdapters(ctx, begun)
			return err
		}
		begun = append(begun, a)
	}

	if err := m.runPhase(ctx, tc, PhaseAfterBegin, begun); err != nil {
		return m.abort(ctx, tc, begun, err)
	}

	if blockErr := m.runBlock(ctx, cfg, tc, block); blockErr != nil {
		return m.abort(ctx, tc, begun, blockErr)
	}
	if tc.IsRollbackOnly() {
		return m.abort(ctx, tc, begun, rollbackCause(tc))
	}

	if err := m.runPhase(ctx, tc, PhaseBeforeCommitValidation, begun); err != nil {
		return m.abort(ctx, tc, begun, err)
	}
	if err := m.runPhase(ctx, tc, PhaseBeforeCommit, begun); err != nil {
		return m.abort(ctx, tc, begun, err)
	}

	for _, a := range begun {
		if err := a.Commit(ctx); err != nil {
			return m.abort(ctx, tc, begun, err)
		}
	}

	_ = m.runPhase(ctx, tc, PhaseAfterCommit, begun) // failures suppressed by HookRegistry.Run
	m.runReleases(ctx, tc, true)
	return nil
}

// runReleases executes the context's scoped-acquisition release actions
// after the exit phases, on both paths. A release failure cannot change
// the already-decided outcome, so it is logged and suppressed.
func (m *Manager) runReleases(ctx context.Context, tc *Context, committed bool) {
	for _, release := range tc.drainReleases() {
		if err := release(committed); err != nil {
			logging.FromContext(ctx, nil).Warn("transaction resource release failed",
				"transaction_id", tc.ID(), "committed", committed, "error", err)
		}
	}
}

// runBlock runs block under cfg.Timeout as a cooperative cancellation
// budget. The block itself must observe ctx.Done() at its own
// suspension points; the manager does not forcibly abandon
// the goroutine, since TransactionContext is not safe for concurrent
// access once another worker's goroutine might still be touching it.
func (m *Manager) runBlock(ctx context.Context, cfg Config, tc *Context, block Block) error {
	if cfg.Timeout <= 0 {
		return block(ctx, tc)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	err := block(timeoutCtx, tc)
	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		return kerrors.NewTransactionTimeout(timeoutCtx.Err())
	}
	return err
}

func (m *Manager) abort(ctx context.Context, tc *Context, begun []Adapter, cause error) error {
	tc.MarkRollbackOnly(cause)

	if err := m.hooks.Run(ctx, tc, PhaseOnRollback); err != nil {
		logging.FromContext(ctx, nil).Warn("on_rollback hook failed",
			"transaction_id", tc.ID(), "error", err)
	}
	m.notifyAdaptersBestEffort(ctx, begun, PhaseOnRollback, tc)

	m.rollbackAdapters(ctx, begun)

	_ = m.hooks.Run(ctx, tc, PhaseAfterRollback) // suppressed by HookRegistry.Run
	m.notifyAdaptersBestEffort(ctx, begun, PhaseAfterRollback, tc)
	m.runReleases(ctx, tc, false)

	tc.ClearPending()
	return cause
}

// runPhase dispatches hooks then notifies adapters for phase, stopping
// at the first failure (used for every pre-commit phase).
func (m *Manager) runPhase(ctx context.Context, tc *Context, phase Phase, adapters []Adapter) error {
	if m.metrics != nil {
		m.metrics.RecordPhase(string(phase))
	}
	if err := m.hooks.Run(ctx, tc, phase); err != nil {
		return err
	}
	for _, a := range adapters {
		if err := a.OnPhase(ctx, phase, tc); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) notifyAdaptersBestEffort(ctx context.Context, adapters []Adapter, phase Phase, tc *Context) {
	for _, a := range adapters {
		if err := a.OnPhase(ctx, phase, tc); err != nil {
			logging.FromContext(ctx, nil).Warn("adapter phase notification failed",
				"phase", string(phase), "transaction_id", tc.ID(), "error", err)
		}
	}
}

func (m *Manager) rollbackAdapters(ctx context.Context, adapters []Adapter) {
	for i := len(adapters) - 1; i >= 0; i-- {
		if err := adapters[i].Rollback(ctx); err != nil {
			logging.FromContext(ctx, nil).Warn("adapter rollback failed", "error", err)
		}
	}
}
