package postgres

import (
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"katalyst/internal/config"
	kerrors "katalyst/internal/errors"
)

// Config carries the katalyst.db.* settings the adapter's pool is
// opened with.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// Load resolves the adapter's settings from the runtime configuration
// surface, so database options live under the same katalyst.* tree,
// profile overlays, and ${VAR:default} placeholders as every other core
// option.
func Load(p config.Provider) *Config {
	return &Config{
		Host:            p.GetStringWithDefault("katalyst.db.host", "localhost"),
		Port:            p.GetIntWithDefault("katalyst.db.port", 5432),
		Database:        p.GetStringWithDefault("katalyst.db.name", "katalyst"),
		User:            p.GetStringWithDefault("katalyst.db.user", "katalyst"),
		Password:        p.GetString("katalyst.db.password"),
		SSLMode:         p.GetStringWithDefault("katalyst.db.sslmode", "disable"),
		MaxConns:        int32(p.GetIntWithDefault("katalyst.db.pool.maxConns", 20)),
		MinConns:        int32(p.GetIntWithDefault("katalyst.db.pool.minConns", 2)),
		MaxConnLifetime: time.Duration(p.GetInt64WithDefault("katalyst.db.pool.maxConnLifetimeMs", 3600000)) * time.Millisecond,
		MaxConnIdleTime: time.Duration(p.GetInt64WithDefault("katalyst.db.pool.maxConnIdleMs", 300000)) * time.Millisecond,
		ConnectTimeout:  time.Duration(p.GetInt64WithDefault("katalyst.db.pool.connectTimeoutMs", 30000)) * time.Millisecond,
	}
}

var sslModes = map[string]bool{
	"disable":     true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate rejects settings the pool cannot be opened with. Failures
// surface as the core's Configuration error kind, keyed by the config
// option that caused them.
func (c *Config) Validate() error {
	checks := []struct {
		bad bool
		msg string
	}{
		{c.Host == "", "katalyst.db.host must not be empty"},
		{c.Port < 1 || c.Port > 65535, fmt.Sprintf("katalyst.db.port: %d outside [1, 65535]", c.Port)},
		{c.Database == "", "katalyst.db.name must not be empty"},
		{c.User == "", "katalyst.db.user must not be empty"},
		{c.MaxConns < 1, "katalyst.db.pool.maxConns must be >= 1"},
		{c.MinConns < 0 || c.MinConns > c.MaxConns, "katalyst.db.pool.minConns must be in [0, maxConns]"},
		{!sslModes[c.SSLMode], fmt.Sprintf("katalyst.db.sslmode: unknown mode %q", c.SSLMode)},
	}
	for _, check := range checks {
		if check.bad {
			return kerrors.NewConfigurationError(check.msg, nil)
		}
	}
	return nil
}

// DSN renders the pool's connection URL.
func (c *Config) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// apply copies the pool tuning knobs onto a parsed pgxpool config.
func (c *Config) apply(pc *pgxpool.Config) {
	pc.MaxConns = c.MaxConns
	pc.MinConns = c.MinConns
	pc.MaxConnLifetime = c.MaxConnLifetime
	pc.MaxConnIdleTime = c.MaxConnIdleTime
}
