package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "", cfg.LSP.Command)
	assert.Equal(t, 60*time.Second, cfg.LSP.InitializeTimeout())
	assert.Equal(t, 30*time.Second, cfg.LSP.RequestTimeout())
	assert.Equal(t, 120*time.Second, cfg.LSP.HeavyTimeout())
	assert.Equal(t, 15*time.Second, cfg.LSP.QuickTimeout())
	assert.Equal(t, 3, cfg.LSP.ConsecutiveTimeoutLimit)
	assert.Equal(t, 5*time.Minute, cfg.LSP.IdleTimeout())

	assert.Equal(t, 0, cfg.Batch.Workers)
	assert.Equal(t, 30, cfg.Typecheck.TimeoutSeconds)
	assert.Equal(t, int64(1<<20), cfg.Typecheck.MaxFileBytes)
	assert.Equal(t, 60, cfg.Index.TimeoutSeconds)
	assert.Equal(t, "dashboard_logs.db", cfg.Telemetry.DatabasePath)
	assert.Equal(t, 10000, cfg.Telemetry.QueueCapacity)
	assert.Equal(t, 30, cfg.Telemetry.RetentionDays)
	assert.Equal(t, 8765, cfg.Dashboard.Port)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("SWIFTLENS_LSP_REQUEST_TIMEOUT_SECONDS", "7")
	t.Setenv("SWIFTLENS_LSP_COMMAND", "/opt/custom/sourcekit-lsp --log-level debug")
	t.Setenv("SWIFTLENS_BATCH_WORKERS", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7*time.Second, cfg.LSP.RequestTimeout())
	assert.Equal(t, "/opt/custom/sourcekit-lsp --log-level debug", cfg.LSP.Command)
	assert.Equal(t, 4, cfg.Batch.Workers)
}
