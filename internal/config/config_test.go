package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRADEWIND_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.InDelta(t, 0.6, cfg.Dispatch.MinConfidence, 1e-9)
	assert.Equal(t, 80, cfg.Dispatch.PriorityCutoff)
	assert.Equal(t, 5, cfg.Dispatch.BatchSize)
	assert.Equal(t, 300*time.Second, cfg.Dispatch.FreshnessWindow)
	assert.Equal(t, 120*time.Second, cfg.Confirmation.PreviewTTL)
	assert.InDelta(t, 50.0, cfg.Confirmation.AutoConfirmThreshold, 1e-9)
	assert.InDelta(t, 1000.0, cfg.Confirmation.MaxAutoPositionValue, 1e-9)
	assert.InDelta(t, 0.5, cfg.Confirmation.MaxAutoSlippage, 1e-9)
	assert.Equal(t, 2500*time.Millisecond, cfg.Execution.PollInterval)
	assert.Equal(t, 120, cfg.Execution.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Positions.CheckInterval)
	assert.InDelta(t, 0.5, cfg.Positions.MaterialityThreshold, 1e-9)
	assert.Equal(t, 5*time.Second, cfg.Positions.QuoteTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TRADEWIND_DATA_DIR", t.TempDir())
	t.Setenv("DISPATCH_BATCH_SIZE", "10")
	t.Setenv("EXEC_POLL_INTERVAL", "3s")
	t.Setenv("POSITIONS_MATERIALITY", "1.25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Dispatch.BatchSize)
	assert.Equal(t, 3*time.Second, cfg.Execution.PollInterval)
	assert.InDelta(t, 1.25, cfg.Positions.MaterialityThreshold, 1e-9)
}

func TestValidateRejectsBadValues(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"confidence above 1", func(c *Config) { c.Dispatch.MinConfidence = 1.5 }},
		{"negative cutoff", func(c *Config) { c.Dispatch.PriorityCutoff = -1 }},
		{"zero batch", func(c *Config) { c.Dispatch.BatchSize = 0 }},
		{"zero poll attempts", func(c *Config) { c.Execution.MaxAttempts = 0 }},
		{"negative materiality", func(c *Config) { c.Positions.MaterialityThreshold = -0.1 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("TRADEWIND_DATA_DIR", t.TempDir())
			cfg, err := Load()
			require.NoError(t, err)

			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadExitRulesDefaultsWhenMissing(t *testing.T) {
	rules, err := LoadExitRules("")
	require.NoError(t, err)
	assert.Len(t, rules.Levels, 5)

	rules, err = LoadExitRules(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.InDelta(t, 5.0, rules.ForLevel(3).StopLossPercent, 1e-9)
}

func TestLoadExitRulesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := []byte(`
levels:
  1: {stop_loss_percent: 1.5, take_profit_percent: 3}
  3: {stop_loss_percent: 4, take_profit_percent: 9}
  5: {stop_loss_percent: 15, take_profit_percent: 30}
`)
	require.NoError(t, os.WriteFile(path, content, 0644))

	rules, err := LoadExitRules(path)
	require.NoError(t, err)

	assert.InDelta(t, 4.0, rules.ForLevel(3).StopLossPercent, 1e-9)
	assert.InDelta(t, 30.0, rules.ForLevel(5).TakeProfitPercent, 1e-9)

	// Levels outside the table clamp to the nearest defined level
	assert.InDelta(t, 1.5, rules.ForLevel(0).StopLossPercent, 1e-9)
	assert.InDelta(t, 15.0, rules.ForLevel(9).StopLossPercent, 1e-9)
}

func TestLoadExitRulesRejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("levels:\n  7: {stop_loss_percent: 1, take_profit_percent: 2}\n"), 0644))

	_, err := LoadExitRules(path)
	assert.Error(t, err)
}
