package events

import (
	"context"

	"katalyst/internal/txn"
)

// publishHookPriority is the fixed priority of the built-in
// pending-event publishing hook.
const publishHookPriority = 100

const publishHookID = "katalyst.events.publish-pending"

// TxAwareBus decorates a base Bus so that Publish called inside a live
// TransactionContext defers dispatch until the owning transaction
// commits.
type TxAwareBus struct {
	base *Bus
}

// NewTxAwareBus wraps base and registers the built-in BEFORE_COMMIT
// publishing hook on hooks. Validation hooks registered on
// BEFORE_COMMIT_VALIDATION run before this hook and may check
// txn.Context.PendingCount; calling txn.Context.DrainPending there
// removes the events from the queue, so this hook does not publish them.
func NewTxAwareBus(base *Bus, hooks *txn.HookRegistry) *TxAwareBus {
	b := &TxAwareBus{base: base}
	hooks.Register(txn.Hook{
		ID:       publishHookID,
		Phases:   []txn.Phase{txn.PhaseBeforeCommit},
		Priority: publishHookPriority,
		Handler:  b.drainPending,
	})
	return b
}

func (b *TxAwareBus) drainPending(ctx context.Context, tc *txn.Context, phase txn.Phase) error {
	for _, raw := range tc.DrainPending() {
		e, ok := raw.(Event)
		if !ok {
			continue
		}
		b.base.Publish(ctx, e)
	}
	return nil
}

// Publish queues e on the active TransactionContext if the calling
// worker is inside one; otherwise it dispatches directly through the
// base bus.
func (b *TxAwareBus) Publish(ctx context.Context, e Event) {
	if tc, ok := txn.FromContext(ctx); ok {
		tc.Queue(e)
		return
	}
	b.base.Publish(ctx, e)
}

// Subscribe proxies to the base bus so callers can use TxAwareBus as
// their sole entry point.
func (b *TxAwareBus) Subscribe(eventType, id string, fn Handler) {
	b.base.Subscribe(eventType, id, fn)
}
