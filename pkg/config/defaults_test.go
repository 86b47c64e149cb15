package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Logging.MaxSizeMB != 100 {
		t.Errorf("Expected default max_size_mb 100, got %d", cfg.Logging.MaxSizeMB)
	}
}

func TestApplyDefaults_Backend(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Backend.Type != "filesystem" {
		t.Errorf("Expected default backend 'filesystem', got %q", cfg.Backend.Type)
	}
	if cfg.Backend.Filesystem["path"] != "/tmp/shadowfs" {
		t.Errorf("Expected default path '/tmp/shadowfs', got %v", cfg.Backend.Filesystem["path"])
	}
}

func TestApplyDefaults_Cache(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Cache.Table.Type != "memory" {
		t.Errorf("Expected default table 'memory', got %q", cfg.Cache.Table.Type)
	}
	if cfg.Cache.Table.Badger != nil {
		t.Error("Expected no badger section for the memory table")
	}
	if cfg.Cache.Access != "readwrite" {
		t.Errorf("Expected default access 'readwrite', got %q", cfg.Cache.Access)
	}
	if cfg.Cache.FlushConcurrency != 4 {
		t.Errorf("Expected default flush_concurrency 4, got %d", cfg.Cache.FlushConcurrency)
	}
	if cfg.Cache.SyncInterval != 0 {
		t.Errorf("Expected sync_interval to stay 0, got %v", cfg.Cache.SyncInterval)
	}
}

func TestApplyDefaults_BadgerTable(t *testing.T) {
	cfg := &Config{Cache: CacheConfig{Table: TableConfig{Type: "BADGER"}}}
	ApplyDefaults(cfg)

	if cfg.Cache.Table.Type != "badger" {
		t.Errorf("Expected normalized type 'badger', got %q", cfg.Cache.Table.Type)
	}
	if cfg.Cache.Table.Badger["db_path"] != "/tmp/shadowfs-table" {
		t.Errorf("Expected default db_path, got %v", cfg.Cache.Table.Badger["db_path"])
	}
}

func TestApplyDefaults_Retry(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Retry.Enabled {
		t.Error("Expected retry to stay disabled")
	}
	if cfg.Retry.RatePerSecond != 10 || cfg.Retry.Burst != 1 || cfg.Retry.QueueSize != 1024 {
		t.Errorf("Unexpected retry defaults: %+v", cfg.Retry)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "debug", Format: "json", Output: "stderr"},
		Server:  ServerConfig{ShutdownTimeout: time.Minute},
		Backend: BackendConfig{
			Type:       "filesystem",
			Filesystem: map[string]any{"path": "/data"},
		},
		Cache: CacheConfig{
			Codec:            "cbor",
			Access:           "exist",
			FlushConcurrency: 16,
			SyncInterval:     time.Second,
		},
		Directory: DirectoryConfig{DefaultDirectory: "app", RecordsDir: "users"},
		Metrics:   MetricsConfig{Port: 9200},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
		t.Errorf("Logging values were overwritten: %+v", cfg.Logging)
	}
	if cfg.Server.ShutdownTimeout != time.Minute {
		t.Errorf("Expected shutdown_timeout 1m, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Backend.Filesystem["path"] != "/data" {
		t.Errorf("Expected path '/data', got %v", cfg.Backend.Filesystem["path"])
	}
	if cfg.Cache.Codec != "cbor" || cfg.Cache.Access != "exist" || cfg.Cache.FlushConcurrency != 16 {
		t.Errorf("Cache values were overwritten: %+v", cfg.Cache)
	}
	if cfg.Directory.DefaultDirectory != "app" || cfg.Directory.RecordsDir != "users" {
		t.Errorf("Directory values were overwritten: %+v", cfg.Directory)
	}
	if cfg.Metrics.Port != 9200 {
		t.Errorf("Expected metrics port 9200, got %d", cfg.Metrics.Port)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Fatalf("Default config is invalid: %v", err)
	}
	if !cfg.Retry.Enabled {
		t.Error("Expected the sample config to enable retries")
	}
	if cfg.Cache.SyncInterval != 30*time.Second {
		t.Errorf("Expected sample sync_interval 30s, got %v", cfg.Cache.SyncInterval)
	}
}
