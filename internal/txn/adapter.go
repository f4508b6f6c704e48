package txn

import "context"

// Adapter is the external persistence driver contract the manager
// drives around the BEGIN/COMMIT/ROLLBACK points. Multiple
// adapters may be registered with a Manager; all participate in every
// phase. Begin, Commit and phase notifications run in registration
// order, Rollback in reverse order, and any adapter failure during a
// pre-commit phase triggers rollback across every adapter that has begun.
type Adapter interface {
	// Begin starts a driver-level transaction under isolation.
	Begin(ctx context.Context, isolation Isolation) error
	// Commit finalizes the driver-level transaction.
	Commit(ctx context.Context) error
	// Rollback reverts the driver-level transaction.
	Rollback(ctx context.Context) error
	// OnPhase is notified of every hook phase the owning Context passes
	// through, in addition to Begin/Commit/Rollback; adapters that have
	// nothing to do at a given phase return nil.
	OnPhase(ctx context.Context, phase Phase, tc *Context) error
}
