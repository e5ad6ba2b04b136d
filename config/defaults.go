package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Language server defaults
	v.SetDefault("lsp.command", "")
	v.SetDefault("lsp.initialize_timeout_seconds", 60) // first launch warms the index
	v.SetDefault("lsp.request_timeout_seconds", 30)
	v.SetDefault("lsp.heavy_timeout_seconds", 120)
	v.SetDefault("lsp.quick_timeout_seconds", 15)
	v.SetDefault("lsp.consecutive_timeout_limit", 3)
	v.SetDefault("lsp.idle_timeout_minutes", 5)

	// Batch defaults
	v.SetDefault("batch.workers", 0) // 0 = min(8, number of paths)

	// Typecheck defaults
	v.SetDefault("typecheck.timeout_seconds", 30)
	v.SetDefault("typecheck.max_file_bytes", 1<<20)

	// Index build defaults
	v.SetDefault("index.timeout_seconds", 60)

	// Telemetry defaults
	v.SetDefault("telemetry.database_path", "dashboard_logs.db")
	v.SetDefault("telemetry.queue_capacity", 10000)
	v.SetDefault("telemetry.retention_days", 30)

	// Dashboard defaults
	v.SetDefault("dashboard.port", 8765)
}
