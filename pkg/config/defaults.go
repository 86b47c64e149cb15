package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Booleans keep their zero value: retry and metrics stay off unless enabled
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyBackendDefaults(&cfg.Backend)
	applyCacheDefaults(&cfg.Cache)
	applyRetryDefaults(&cfg.Retry)
	applyDirectoryDefaults(&cfg.Directory)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 100
	}
}

// applyServerDefaults sets process-wide defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyBackendDefaults sets backend defaults.
func applyBackendDefaults(cfg *BackendConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}
	cfg.Type = strings.ToLower(cfg.Type)

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = "/tmp/shadowfs"
	}
}

// applyCacheDefaults sets cache layer defaults.
func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.Table.Type == "" {
		cfg.Table.Type = "memory"
	}
	cfg.Table.Type = strings.ToLower(cfg.Table.Type)

	if cfg.Table.Type == "badger" {
		if cfg.Table.Badger == nil {
			cfg.Table.Badger = make(map[string]any)
		}
		if _, ok := cfg.Table.Badger["db_path"]; !ok {
			cfg.Table.Badger["db_path"] = "/tmp/shadowfs-table"
		}
	}

	if cfg.Codec == "" {
		cfg.Codec = "json"
	}
	cfg.Codec = strings.ToLower(cfg.Codec)

	if cfg.Access == "" {
		cfg.Access = "readwrite"
	}
	cfg.Access = strings.ToLower(cfg.Access)

	if cfg.FlushConcurrency == 0 {
		cfg.FlushConcurrency = 4
	}
	// SyncInterval defaults to 0: write-back entries are flushed on Close only.
}

// applyRetryDefaults sets retry queue defaults.
func applyRetryDefaults(cfg *RetryConfig) {
	if cfg.RatePerSecond == 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.Burst == 0 {
		cfg.Burst = 1
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1024
	}
}

// applyDirectoryDefaults sets directory mirror defaults.
func applyDirectoryDefaults(cfg *DirectoryConfig) {
	if cfg.DefaultDirectory == "" {
		cfg.DefaultDirectory = "shadowfs"
	}
	if cfg.RecordsDir == "" {
		cfg.RecordsDir = "records"
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
func GetDefaultConfig() *Config {
	cfg := &Config{
		Cache: CacheConfig{
			SyncInterval: 30 * time.Second,
		},
		Retry: RetryConfig{
			Enabled: true,
		},
		Directory: DirectoryConfig{
			BackupInterval: 5 * time.Minute,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
