package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "info"

backend:
  type: "memory"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Cache.Table.Type != "memory" {
		t.Errorf("Expected default table 'memory', got %q", cfg.Cache.Table.Type)
	}
	if cfg.Cache.Codec != "json" {
		t.Errorf("Expected default codec 'json', got %q", cfg.Cache.Codec)
	}
	if cfg.Retry.Enabled {
		t.Error("Expected retry to stay disabled unless configured")
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Point the default location at an empty directory.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load without a config file failed: %v", err)
	}

	if cfg.Backend.Type != "filesystem" {
		t.Errorf("Expected default backend 'filesystem', got %q", cfg.Backend.Type)
	}
	if cfg.Directory.DefaultDirectory != "shadowfs" {
		t.Errorf("Expected default directory 'shadowfs', got %q", cfg.Directory.DefaultDirectory)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	if err := os.WriteFile(configPath, []byte("logging: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	configContent := `
cache:
  codec: "xml"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for unknown codec")
	}
}

func TestLoad_Durations(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	configContent := `
cache:
  sync_interval: "45s"
directory:
  backup_interval: "2m"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Cache.SyncInterval != 45*time.Second {
		t.Errorf("Expected sync_interval 45s, got %v", cfg.Cache.SyncInterval)
	}
	if cfg.Directory.BackupInterval != 2*time.Minute {
		t.Errorf("Expected backup_interval 2m, got %v", cfg.Directory.BackupInterval)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("SHADOWFS_LOGGING_LEVEL", "ERROR")
	t.Setenv("SHADOWFS_CACHE_SYNC_INTERVAL", "10s")
	t.Setenv("SHADOWFS_METRICS_PORT", "9191")

	configPath := filepath.Join(t.TempDir(), "config.yaml")

	configContent := `
logging:
  level: "INFO"

backend:
  type: "memory"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Cache.SyncInterval != 10*time.Second {
		t.Errorf("Expected sync_interval 10s from env var, got %v", cfg.Cache.SyncInterval)
	}
	if cfg.Metrics.Port != 9191 {
		t.Errorf("Expected metrics port 9191 from env var, got %d", cfg.Metrics.Port)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	want := filepath.Join(dir, "shadowfs", "config.yaml")
	if got := GetDefaultConfigPath(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if ConfigExists() {
		t.Error("Expected no config file in a fresh directory")
	}
}

func TestGetConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")

	dir := GetConfigDir()
	if filepath.Base(dir) != "shadowfs" {
		t.Errorf("Expected directory name 'shadowfs', got %q", filepath.Base(dir))
	}
}
