package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"katalyst/internal/txn"
)

// TxAdapter implements katalyst/internal/txn.Adapter over a Pool: it
// opens one pgx transaction per TransactionContext on Begin and commits
// or rolls it back at the matching driver call. Deadlock-class driver
// failures are reported as the core's DeadlockError so the transaction
// manager retries the whole scope.
type TxAdapter struct {
	pool *Pool
	mu   sync.Mutex
	txs  map[string]pgx.Tx
}

// NewTxAdapter wraps pool in the transaction-manager adapter contract.
func NewTxAdapter(pool *Pool) *TxAdapter {
	return &TxAdapter{pool: pool, txs: make(map[string]pgx.Tx)}
}

func (a *TxAdapter) Begin(ctx context.Context, isolation txn.Isolation) error {
	tc, ok := txn.FromContext(ctx)
	if !ok {
		return fmt.Errorf("postgres adapter: begin called outside a transaction context")
	}
	db := a.pool.Raw()
	if db == nil {
		return ErrNotConnected
	}
	tx, err := db.BeginTx(ctx, pgx.TxOptions{IsoLevel: mapIsolation(isolation)})
	if err != nil {
		return classifyTxError("begin", err)
	}
	a.pool.metrics.RecordDriverCall("begin")
	a.mu.Lock()
	a.txs[tc.ID()] = tx
	a.mu.Unlock()
	return nil
}

func (a *TxAdapter) Commit(ctx context.Context) error {
	tx, id, err := a.lookup(ctx)
	if err != nil {
		return err
	}
	defer a.forget(id)
	a.pool.metrics.RecordDriverCall("commit")
	if err := tx.Commit(ctx); err != nil {
		return classifyTxError("commit", err)
	}
	return nil
}

func (a *TxAdapter) Rollback(ctx context.Context) error {
	tx, id, err := a.lookup(ctx)
	if err != nil {
		// Nothing begun for this context (e.g. Begin itself failed) -
		// nothing to roll back.
		return nil
	}
	defer a.forget(id)
	a.pool.metrics.RecordDriverCall("rollback")
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return classifyTxError("rollback", err)
	}
	return nil
}

// OnPhase has no per-phase work: the adapter only participates at the
// begin/commit/rollback boundary.
func (a *TxAdapter) OnPhase(ctx context.Context, phase txn.Phase, tc *txn.Context) error {
	return nil
}

// Tx returns the live pgx transaction for the calling worker, for a
// repository to issue statements against inside a Manager.Execute block.
func (a *TxAdapter) Tx(ctx context.Context) (pgx.Tx, bool) {
	tx, _, err := a.lookup(ctx)
	return tx, err == nil
}

func (a *TxAdapter) lookup(ctx context.Context) (pgx.Tx, string, error) {
	tc, ok := txn.FromContext(ctx)
	if !ok {
		return nil, "", fmt.Errorf("postgres adapter: no active transaction context")
	}
	a.mu.Lock()
	tx, ok := a.txs[tc.ID()]
	a.mu.Unlock()
	if !ok {
		return nil, tc.ID(), fmt.Errorf("postgres adapter: no transaction begun for %s", tc.ID())
	}
	return tx, tc.ID(), nil
}

func (a *TxAdapter) forget(id string) {
	a.mu.Lock()
	delete(a.txs, id)
	a.mu.Unlock()
}

func mapIsolation(i txn.Isolation) pgx.TxIsoLevel {
	switch i {
	case txn.IsolationReadUncommitted:
		return pgx.ReadUncommitted
	case txn.IsolationReadCommitted:
		return pgx.ReadCommitted
	case txn.IsolationRepeatableRead:
		return pgx.RepeatableRead
	case txn.IsolationSerializable:
		return pgx.Serializable
	default:
		return pgx.ReadCommitted
	}
}
