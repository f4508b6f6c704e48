package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for goose

	"katalyst/internal/registry"
)

// Migrator is a SchemaBootstrapper that materializes schema via goose
// migrations during bootstrap phase P4, before adapters and
// initializers register.
type Migrator struct {
	cfg           *Config
	migrationsDir string
	logger        *slog.Logger
}

// NewMigrator builds a Migrator reading *.sql migrations from dir.
func NewMigrator(cfg *Config, dir string, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		dir = "migrations"
	}
	return &Migrator{cfg: cfg, migrationsDir: dir, logger: logger}
}

// Bootstrap runs pending goose migrations. The discovered Table
// descriptors are logged for observability; schema statements
// themselves live in the migrations directory, not in Go code.
func (m *Migrator) Bootstrap(ctx context.Context, tables []registry.ComponentDescriptor) error {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.QualifiedName
	}
	m.logger.Info("bootstrapping schema", "tables", names, "migrations_dir", m.migrationsDir)

	db, err := m.sqlDB()
	if err != nil {
		return fmt.Errorf("schema bootstrap: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("schema bootstrap: set dialect: %w", err)
	}
	if err := goose.Up(db, m.migrationsDir); err != nil {
		return fmt.Errorf("schema bootstrap: migrate: %w", err)
	}
	m.logger.Info("schema bootstrap complete")
	return nil
}

// sqlDB opens a database/sql handle over the same DSN as the pool, since
// goose drives migrations through database/sql rather than pgxpool.
func (m *Migrator) sqlDB() (*sql.DB, error) {
	db, err := sql.Open("pgx", m.cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open sql.DB: %w", err)
	}
	db.SetMaxOpenConns(int(m.cfg.MaxConns))
	db.SetMaxIdleConns(int(m.cfg.MinConns))
	db.SetConnMaxLifetime(m.cfg.MaxConnLifetime)
	db.SetConnMaxIdleTime(m.cfg.MaxConnIdleTime)
	return db, nil
}
