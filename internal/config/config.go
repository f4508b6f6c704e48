// Package config implements the runtime's configuration surface: a
// hierarchical, typed-get Provider backed by viper, the recognized
// katalyst.* keys, and ${VAR:default} placeholder resolution on
// string-typed values.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"katalyst/internal/resilience"
	"katalyst/internal/txn"
)

// Provider is the hierarchical, typed-get configuration surface
// consumed by the core: string/int/long/bool/list<string>
// with a default-valued variant and a presence check.
type Provider interface {
	GetString(key string) string
	GetStringWithDefault(key, def string) string
	GetInt(key string) int
	GetIntWithDefault(key string, def int) int
	GetInt64(key string) int64
	GetInt64WithDefault(key string, def int64) int64
	GetBool(key string) bool
	GetBoolWithDefault(key string, def bool) bool
	GetStringSlice(key string) []string
	GetStringSliceWithDefault(key string, def []string) []string
	IsSet(key string) bool
}

// ViperProvider adapts a *viper.Viper instance to Provider, applying
// ${VAR:default} substitution to every string-typed read.
type ViperProvider struct {
	v *viper.Viper
}

// NewViperProvider loads configPath (if non-empty and present) over
// katalyst.* defaults, with KATALYST_* environment variables bound
// automatically (dots replaced by underscores).
func NewViperProvider(configPath string) (*ViperProvider, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	if err := applyProfileOverlay(v); err != nil {
		return nil, err
	}

	return &ViperProvider{v: v}, nil
}

// applyProfileOverlay merges the keys under profiles.<katalyst.profile>
// over the base configuration, so a profile is an additive overlay: keys
// it sets win, everything else falls through to the base.
func applyProfileOverlay(v *viper.Viper) error {
	profile := Substitute(v.GetString("katalyst.profile"))
	if profile == "" || profile == "default" {
		return nil
	}
	overlay := v.Sub("profiles." + profile)
	if overlay == nil {
		return nil
	}
	if err := v.MergeConfigMap(overlay.AllSettings()); err != nil {
		return fmt.Errorf("apply profile %q overlay: %w", profile, err)
	}
	return nil
}

// NewViperProviderFromViper wraps a pre-configured viper instance, for
// callers (such as tests) that need direct control over defaults/sets.
func NewViperProviderFromViper(v *viper.Viper) *ViperProvider {
	return &ViperProvider{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("katalyst.profile", "default")
	v.SetDefault("katalyst.di.verbose", false)
	v.SetDefault("katalyst.tx.timeout.ms", int64(30000))
	v.SetDefault("katalyst.tx.retry.maxAttempts", 3)
	v.SetDefault("katalyst.tx.retry.backoff", string(resilience.StrategyExponential))
	v.SetDefault("katalyst.scheduler.gracePeriodMs", int64(5000))
	v.SetDefault("katalyst.db.enabled", false)
}

func (p *ViperProvider) GetString(key string) string {
	return Substitute(p.v.GetString(key))
}

func (p *ViperProvider) GetStringWithDefault(key, def string) string {
	if !p.v.IsSet(key) {
		return def
	}
	return Substitute(p.v.GetString(key))
}

func (p *ViperProvider) GetInt(key string) int { return p.v.GetInt(key) }

func (p *ViperProvider) GetIntWithDefault(key string, def int) int {
	if !p.v.IsSet(key) {
		return def
	}
	return p.v.GetInt(key)
}

func (p *ViperProvider) GetInt64(key string) int64 { return p.v.GetInt64(key) }

func (p *ViperProvider) GetInt64WithDefault(key string, def int64) int64 {
	if !p.v.IsSet(key) {
		return def
	}
	return p.v.GetInt64(key)
}

func (p *ViperProvider) GetBool(key string) bool { return p.v.GetBool(key) }

func (p *ViperProvider) GetBoolWithDefault(key string, def bool) bool {
	if !p.v.IsSet(key) {
		return def
	}
	return p.v.GetBool(key)
}

func (p *ViperProvider) GetStringSlice(key string) []string { return p.v.GetStringSlice(key) }

func (p *ViperProvider) GetStringSliceWithDefault(key string, def []string) []string {
	if !p.v.IsSet(key) {
		return def
	}
	return p.v.GetStringSlice(key)
}

func (p *ViperProvider) IsSet(key string) bool { return p.v.IsSet(key) }

// RuntimeConfig is the typed snapshot of the katalyst.* keys the core
// recognizes.
type RuntimeConfig struct {
	Profile              string
	DIVerbose            bool
	TxTimeout            time.Duration
	TxRetryMaxAttempts   int
	TxRetryBackoff       resilience.Strategy
	SchedulerGracePeriod time.Duration
	DBEnabled            bool
}

// LoadRuntimeConfig reads and validates the katalyst.* keys from p.
func LoadRuntimeConfig(p Provider) (*RuntimeConfig, error) {
	backoff := resilience.Strategy(p.GetStringWithDefault("katalyst.tx.retry.backoff", string(resilience.StrategyExponential)))
	switch backoff {
	case resilience.StrategyExponential, resilience.StrategyLinear, resilience.StrategyImmediate:
	default:
		return nil, fmt.Errorf("katalyst.tx.retry.backoff: invalid strategy %q", backoff)
	}

	maxAttempts := p.GetIntWithDefault("katalyst.tx.retry.maxAttempts", 3)
	if maxAttempts < 1 {
		return nil, fmt.Errorf("katalyst.tx.retry.maxAttempts: must be >= 1, got %d", maxAttempts)
	}

	txTimeoutMs := p.GetInt64WithDefault("katalyst.tx.timeout.ms", 30000)
	if txTimeoutMs < 0 {
		return nil, fmt.Errorf("katalyst.tx.timeout.ms: must be >= 0, got %d", txTimeoutMs)
	}

	graceMs := p.GetInt64WithDefault("katalyst.scheduler.gracePeriodMs", 5000)
	if graceMs < 0 {
		return nil, fmt.Errorf("katalyst.scheduler.gracePeriodMs: must be >= 0, got %d", graceMs)
	}

	return &RuntimeConfig{
		Profile:              p.GetStringWithDefault("katalyst.profile", "default"),
		DIVerbose:            p.GetBoolWithDefault("katalyst.di.verbose", false),
		TxTimeout:            time.Duration(txTimeoutMs) * time.Millisecond,
		TxRetryMaxAttempts:   maxAttempts,
		TxRetryBackoff:       backoff,
		SchedulerGracePeriod: time.Duration(graceMs) * time.Millisecond,
		DBEnabled:            p.GetBoolWithDefault("katalyst.db.enabled", false),
	}, nil
}

// TxnConfig builds a txn.Config from the runtime snapshot, substituting
// the resolved retry policy for resilience.DefaultPolicy's strategy.
func (r *RuntimeConfig) TxnConfig() txn.Config {
	cfg := txn.DefaultConfig()
	cfg.Timeout = r.TxTimeout
	cfg.Retry.MaxAttempts = r.TxRetryMaxAttempts
	cfg.Retry.Strategy = r.TxRetryBackoff
	return cfg
}
