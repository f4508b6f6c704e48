// Package postgres is the persistence adapter for the runtime core: a
// pgx/v5 pool whose lifecycle is owned by the host, driven by TxAdapter
// at the transaction manager's begin/commit/rollback points, migrated
// by the goose Migrator during schema bootstrap, probed through the
// core scheduler, and reported through the core metrics registry.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"katalyst/internal/metrics"
	"katalyst/internal/scheduler"
)

// healthProbeTimeout bounds one HealthTask round trip.
const healthProbeTimeout = 5 * time.Second

// Pool owns the pgx connection pool for the life of the process. It
// satisfies the bootstrap Stopper contract, so teardown releases the
// driver together with every other component.
type Pool struct {
	cfg     *Config
	logger  *slog.Logger
	metrics *metrics.AdapterMetrics
	db      atomic.Pointer[pgxpool.Pool]
}

// Open validates cfg, connects, and verifies the connection with a
// ping. The returned Pool is ready for TxAdapter and Migrator use.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger, m *metrics.AdapterMetrics) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{cfg: cfg, logger: logger, metrics: m}
	if err := p.connect(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pool) connect(ctx context.Context) error {
	pc, err := pgxpool.ParseConfig(p.cfg.DSN())
	if err != nil {
		p.metrics.RecordConnect(false)
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	p.cfg.apply(pc)

	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	db, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err == nil {
		if err = db.Ping(dialCtx); err != nil {
			db.Close()
		}
	}
	if err != nil {
		p.metrics.RecordConnect(false)
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	p.db.Store(db)
	p.metrics.RecordConnect(true)
	p.metrics.SetOpenConns(int(db.Stat().TotalConns()))
	p.metrics.SetHealthy(true)
	p.logger.Info("postgres pool open",
		"host", p.cfg.Host, "database", p.cfg.Database, "max_conns", p.cfg.MaxConns)
	return nil
}

// Raw exposes the pgx pool for BeginTx and migration calls. It returns
// nil once Stop has run.
func (p *Pool) Raw() *pgxpool.Pool { return p.db.Load() }

// Config returns the settings the pool was opened with.
func (p *Pool) Config() *Config { return p.cfg }

// Ping verifies the pool can serve a round trip and records the result
// on the adapter health gauge.
func (p *Pool) Ping(ctx context.Context) error {
	db := p.db.Load()
	if db == nil {
		return ErrNotConnected
	}
	err := db.Ping(ctx)
	p.metrics.SetHealthy(err == nil)
	if err == nil {
		p.metrics.SetOpenConns(int(db.Stat().TotalConns()))
	}
	return err
}

// HealthTask adapts Ping into a unit the core scheduler can drive, so
// database liveness runs through the same dispatch loop, overlap guard,
// and failure callbacks as every other background task.
func (p *Pool) HealthTask() scheduler.Task {
	return func(ctx context.Context) error {
		probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		defer cancel()
		return p.Ping(probeCtx)
	}
}

// Stop closes the pool. Idempotent; satisfies bootstrap.Stopper.
func (p *Pool) Stop(ctx context.Context) error {
	db := p.db.Swap(nil)
	if db == nil {
		return nil
	}
	db.Close()
	p.metrics.SetOpenConns(0)
	p.metrics.SetHealthy(false)
	p.logger.Info("postgres pool closed")
	return nil
}
