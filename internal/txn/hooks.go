package txn

import (
	"context"
	"sort"
	"sync"

	kerrors "katalyst/internal/errors"
	"katalyst/internal/logging"
)

// HookFunc is a hook's handler body. It must be a pure function over
// the transaction context: it must not start a new outermost
// transaction against the same worker.
type HookFunc func(ctx context.Context, tc *Context, phase Phase) error

// Hook is one registered lifecycle participant.
type Hook struct {
	ID       string
	Phases   []Phase
	Priority int
	Handler  HookFunc
}

func (h Hook) wantsPhase(p Phase) bool {
	for _, want := range h.Phases {
		if want == p {
			return true
		}
	}
	return false
}

// HookRegistry is a priority-ordered list of lifecycle hooks per
// phase. Higher priority runs first within a phase; ties preserve
// registration order.
type HookRegistry struct {
	mu    sync.RWMutex
	hooks []Hook
}

// NewHookRegistry returns an empty registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{}
}

// Register adds h to the registry. Safe to call concurrently with Run,
// though in practice all hooks are registered during bootstrap P1/P2
// before any transaction executes.
func (r *HookRegistry) Register(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

// forPhase returns the hooks interested in phase, sorted by descending
// priority with registration order preserved for ties.
func (r *HookRegistry) forPhase(phase Phase) []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []Hook
	for _, h := range r.hooks {
		if h.wantsPhase(phase) {
			matched = append(matched, h)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Priority > matched[j].Priority })
	return matched
}

// suppressedPhases are the phases where a hook failure is logged and
// swallowed rather than aborting the transaction.
func suppressedPhases(p Phase) bool {
	return p == PhaseAfterCommit || p == PhaseAfterRollback
}

// Run dispatches every hook registered for phase, sequentially, in
// priority order. A failure from a pre-commit phase hook returns
// immediately (the caller aborts to the rollback path); a failure from
// AFTER_COMMIT/AFTER_ROLLBACK is logged and suppressed so the already-
// decided transaction outcome is preserved.
func (r *HookRegistry) Run(ctx context.Context, tc *Context, phase Phase) error {
	for _, h := range r.forPhase(phase) {
		err := h.Handler(ctx, tc, phase)
		if err == nil {
			continue
		}
		if suppressedPhases(phase) {
			logging.FromContext(ctx, nil).Warn("transaction hook failed, suppressed",
				"hook_id", h.ID, "phase", string(phase), "transaction_id", tc.ID(), "error", err)
			continue
		}
		return kerrors.NewHookFailed(h.ID, string(phase), err)
	}
	return nil
}
