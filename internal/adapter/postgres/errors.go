package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	kerrors "katalyst/internal/errors"
)

var (
	ErrNotConnected     = errors.New("postgres pool is not open")
	ErrConnectionFailed = errors.New("postgres connection failed")
)

// deadlockStates are the SQLSTATE codes mapped onto the core's
// always-retry Deadlock taxonomy: a serialization failure re-runs the
// whole transaction scope the same way a detected deadlock does.
var deadlockStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
}

// classifyTxError translates a driver failure into the core taxonomy.
// Deadlock-class SQLSTATEs become DeadlockError so the transaction
// manager retries the scope; everything else is wrapped as-is.
func classifyTxError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && deadlockStates[pgErr.Code] {
		return kerrors.NewDeadlock(fmt.Errorf("postgres %s: %w", op, err))
	}
	return fmt.Errorf("postgres %s: %w", op, err)
}
