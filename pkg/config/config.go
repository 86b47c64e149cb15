package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete shadowfs configuration.
//
// This structure captures every configurable aspect of a shadowfs process:
//   - Logging configuration
//   - Backend selection and configuration (backend-specific)
//   - Cache layer settings and shadow table selection
//   - The deferred-retry queue
//   - The directory mirror driven by the CLI
//   - Metrics exposition
//
// Configuration sources (in order of precedence):
//  1. Environment variables (SHADOWFS_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// Backend Configuration Pattern:
// Each backend defines its own configuration type. The Config struct holds a
// map per backend type (backend.filesystem, backend.s3) and only the section
// matching the selected type is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Backend specifies the durable backend type and its configuration
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`

	// Cache configures the write-back cache layer
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Retry configures the queue that replays operations deferred after
	// resource exhaustion
	Retry RetryConfig `mapstructure:"retry" yaml:"retry"`

	// Directory configures the record directory mirrored by the CLI
	Directory DirectoryConfig `mapstructure:"directory" yaml:"directory"`

	// Metrics configures Prometheus exposition
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`

	// MaxSizeMB rotates a log file once it reaches this size
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"gte=0"`

	// MaxBackups is the number of rotated files to keep (0 keeps all)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`

	// Compress gzips rotated files
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout bounds the final flush and retry drain on shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`
}

// BackendConfig specifies the durable backend.
//
// The Type field determines which backend implementation is used.
// Only the corresponding type-specific section is used.
type BackendConfig struct {
	// Type specifies which backend implementation to use
	// Valid values: filesystem, memory, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=filesystem memory s3"`

	// Filesystem contains local disk configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem,omitempty"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// CacheConfig configures the cache layer.
type CacheConfig struct {
	// Table selects the shadow table implementation
	Table TableConfig `mapstructure:"table" yaml:"table"`

	// ContentKeys indexes file entries by a hash of their payload
	ContentKeys bool `mapstructure:"content_keys" yaml:"content_keys"`

	// Codec encodes structured payloads
	// Valid values: json, yaml, cbor
	Codec string `mapstructure:"codec" yaml:"codec" validate:"required,oneof=json yaml cbor"`

	// SyncInterval flushes dirty entries periodically (0 disables the timer)
	SyncInterval time.Duration `mapstructure:"sync_interval" yaml:"sync_interval" validate:"gte=0"`

	// Access is the permission an existence check requires
	// Valid values: exist, read, write, readwrite
	Access string `mapstructure:"access" yaml:"access" validate:"required,oneof=exist read write readwrite"`

	// FlushConcurrency bounds parallel writes of one flush pass
	FlushConcurrency int `mapstructure:"flush_concurrency" yaml:"flush_concurrency" validate:"gte=0"`
}

// TableConfig specifies the shadow table implementation.
type TableConfig struct {
	// Type specifies which table implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`
}

// RetryConfig configures the deferred-retry queue.
type RetryConfig struct {
	// Enabled hands operations that exhausted the backend to the queue.
	// When false they fail without retry.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// RatePerSecond paces retries (0 disables pacing)
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second" validate:"gte=0"`

	// Burst is how many retries may run back to back
	Burst int `mapstructure:"burst" yaml:"burst" validate:"gte=0"`

	// QueueSize bounds the number of waiting operations
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size" validate:"gte=0"`
}

// DirectoryConfig configures the record directory used by the CLI.
type DirectoryConfig struct {
	// DefaultDirectory is the base directory records live under
	DefaultDirectory string `mapstructure:"default_directory" yaml:"default_directory" validate:"required"`

	// RecordsDir is the subdirectory loaded by "shadowfs start"
	RecordsDir string `mapstructure:"records_dir" yaml:"records_dir"`

	// BackupInterval writes the loaded records back periodically
	// (0 disables periodic backups)
	BackupInterval time.Duration `mapstructure:"backup_interval" yaml:"backup_interval" validate:"gte=0"`

	// Concurrency bounds parallel record writes (0 = no bound)
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency" validate:"gte=0"`
}

// MetricsConfig configures Prometheus exposition.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the HTTP endpoint
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port serving /metrics
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SHADOWFS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// SHADOWFS_LOGGING_LEVEL=DEBUG overrides logging.level
	v.SetEnvPrefix("SHADOWFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	// $XDG_CONFIG_HOME/shadowfs/config.yaml
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// envKeys are the scalar settings that can be overridden from the
// environment without appearing in the config file.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.shutdown_timeout",
	"backend.type",
	"cache.codec",
	"cache.sync_interval",
	"cache.access",
	"cache.table.type",
	"retry.enabled",
	"directory.default_directory",
	"directory.records_dir",
	"directory.backup_interval",
	"metrics.enabled",
	"metrics.port",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// No config file: defaults and environment only.
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "shadowfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "shadowfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
