// Package config loads SwiftLens configuration with Viper.
//
// Precedence: defaults, then an optional config file, then SWIFTLENS_*
// environment variables.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/swiftlens/swiftlens/errors"
)

// Config is the resolved SwiftLens configuration.
type Config struct {
	LSP       LSPConfig       `mapstructure:"lsp"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Typecheck TypecheckConfig `mapstructure:"typecheck"`
	Index     IndexConfig     `mapstructure:"index"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// LSPConfig configures the language-server supervisor and client.
type LSPConfig struct {
	// Command overrides the sourcekit-lsp invocation. Parsed with shell
	// quoting rules, e.g. "sourcekit-lsp --log-level debug".
	Command string `mapstructure:"command"`
	// InitializeTimeout bounds the first initialize round trip. Indexing
	// warms up on first launch, so this is generous.
	InitializeTimeoutSeconds int `mapstructure:"initialize_timeout_seconds"`
	RequestTimeoutSeconds    int `mapstructure:"request_timeout_seconds"`
	HeavyTimeoutSeconds      int `mapstructure:"heavy_timeout_seconds"`
	QuickTimeoutSeconds      int `mapstructure:"quick_timeout_seconds"`
	// ConsecutiveTimeoutLimit is how many timeouts in a row trip a session
	// restart.
	ConsecutiveTimeoutLimit int `mapstructure:"consecutive_timeout_limit"`
	IdleTimeoutMinutes      int `mapstructure:"idle_timeout_minutes"`
}

// BatchConfig configures multi-file fan-out.
type BatchConfig struct {
	// Workers caps concurrent per-file operations within one project group.
	// Zero means min(8, number of paths).
	Workers int `mapstructure:"workers"`
}

// TypecheckConfig configures the compiler driver.
type TypecheckConfig struct {
	TimeoutSeconds int   `mapstructure:"timeout_seconds"`
	MaxFileBytes   int64 `mapstructure:"max_file_bytes"`
}

// IndexConfig configures index builds.
type IndexConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// TelemetryConfig configures the invocation log.
type TelemetryConfig struct {
	DatabasePath  string `mapstructure:"database_path"`
	QueueCapacity int    `mapstructure:"queue_capacity"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// DashboardConfig belongs to the external dashboard collaborator; only the
// port is plumbed through here.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// Load reads configuration from defaults, an optional swiftlens.toml in the
// working directory, and SWIFTLENS_* environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SWIFTLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	v.SetConfigName("swiftlens")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	return LoadWithViper(v)
}

// LoadWithViper unmarshals configuration from a prepared Viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return &cfg, nil
}

// InitializeTimeout returns the initialize deadline as a duration.
func (c LSPConfig) InitializeTimeout() time.Duration {
	return time.Duration(c.InitializeTimeoutSeconds) * time.Second
}

// RequestTimeout returns the default request deadline.
func (c LSPConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// HeavyTimeout returns the deadline for heavy operations such as
// cross-index reference queries.
func (c LSPConfig) HeavyTimeout() time.Duration {
	return time.Duration(c.HeavyTimeoutSeconds) * time.Second
}

// QuickTimeout returns the deadline for quick operations such as hover.
func (c LSPConfig) QuickTimeout() time.Duration {
	return time.Duration(c.QuickTimeoutSeconds) * time.Second
}

// IdleTimeout returns how long an unused session survives.
func (c LSPConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMinutes) * time.Minute
}
