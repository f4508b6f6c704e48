package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"katalyst/internal/resilience"
)

func newTestProvider(t *testing.T) (*ViperProvider, func()) {
	t.Helper()
	v := viper.New()
	setDefaults(v)
	return &ViperProvider{v: v}, func() {}
}

func TestLoadRuntimeConfig_Defaults(t *testing.T) {
	p, cleanup := newTestProvider(t)
	defer cleanup()

	rc, err := LoadRuntimeConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "default", rc.Profile)
	assert.False(t, rc.DIVerbose)
	assert.Equal(t, 30*time.Second, rc.TxTimeout)
	assert.Equal(t, 3, rc.TxRetryMaxAttempts)
	assert.Equal(t, resilience.StrategyExponential, rc.TxRetryBackoff)
	assert.Equal(t, 5*time.Second, rc.SchedulerGracePeriod)
}

func TestLoadRuntimeConfig_Overrides(t *testing.T) {
	p, cleanup := newTestProvider(t)
	defer cleanup()
	p.v.Set("katalyst.profile", "standard")
	p.v.Set("katalyst.di.verbose", true)
	p.v.Set("katalyst.tx.timeout.ms", 5000)
	p.v.Set("katalyst.tx.retry.maxAttempts", 5)
	p.v.Set("katalyst.tx.retry.backoff", "linear")
	p.v.Set("katalyst.scheduler.gracePeriodMs", 2000)

	rc, err := LoadRuntimeConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "standard", rc.Profile)
	assert.True(t, rc.DIVerbose)
	assert.Equal(t, 5*time.Second, rc.TxTimeout)
	assert.Equal(t, 5, rc.TxRetryMaxAttempts)
	assert.Equal(t, resilience.StrategyLinear, rc.TxRetryBackoff)
	assert.Equal(t, 2*time.Second, rc.SchedulerGracePeriod)
}

func TestLoadRuntimeConfig_RejectsUnknownBackoff(t *testing.T) {
	p, cleanup := newTestProvider(t)
	defer cleanup()
	p.v.Set("katalyst.tx.retry.backoff", "fibonacci")

	_, err := LoadRuntimeConfig(p)
	assert.Error(t, err)
}

func TestLoadRuntimeConfig_RejectsZeroMaxAttempts(t *testing.T) {
	p, cleanup := newTestProvider(t)
	defer cleanup()
	p.v.Set("katalyst.tx.retry.maxAttempts", 0)

	_, err := LoadRuntimeConfig(p)
	assert.Error(t, err)
}

func TestApplyProfileOverlay_ProfileKeysWinOverBase(t *testing.T) {
	// Base and profile values go through the config layer, the same layer
	// a read config file lands in; Set would sit above the overlay.
	v := viper.New()
	setDefaults(v)
	require.NoError(t, v.MergeConfigMap(map[string]any{
		"katalyst": map[string]any{
			"profile": "standard",
			"tx":      map[string]any{"timeout": map[string]any{"ms": 30000}},
		},
		"profiles": map[string]any{
			"standard": map[string]any{
				"katalyst": map[string]any{
					"tx":        map[string]any{"timeout": map[string]any{"ms": 5000}},
					"scheduler": map[string]any{"gracePeriodMs": 1000},
				},
			},
		},
	}))

	require.NoError(t, applyProfileOverlay(v))
	p := &ViperProvider{v: v}

	rc, err := LoadRuntimeConfig(p)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, rc.TxTimeout, "profile overlay overrides base")
	assert.Equal(t, time.Second, rc.SchedulerGracePeriod, "profile overlay adds keys")
	assert.Equal(t, 3, rc.TxRetryMaxAttempts, "untouched keys fall through to base")
}

func TestApplyProfileOverlay_DefaultProfileIsNoOp(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	require.NoError(t, v.MergeConfigMap(map[string]any{
		"profiles": map[string]any{
			"default": map[string]any{
				"katalyst": map[string]any{"tx": map[string]any{"timeout": map[string]any{"ms": 1}}},
			},
		},
	}))

	require.NoError(t, applyProfileOverlay(v))
	assert.Equal(t, int64(30000), v.GetInt64("katalyst.tx.timeout.ms"))
}

func TestViperProvider_EnvBinding(t *testing.T) {
	t.Setenv("KATALYST_PROFILE", "from-env")
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	p := &ViperProvider{v: v}

	assert.Equal(t, "from-env", p.GetString("katalyst.profile"))
}

func TestViperProvider_WithDefaultHonorsUnset(t *testing.T) {
	p, cleanup := newTestProvider(t)
	defer cleanup()
	assert.Equal(t, "fallback", p.GetStringWithDefault("katalyst.does.not.exist", "fallback"))
}
