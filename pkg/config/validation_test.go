package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config, got error: %v", err)
	}
}

func TestValidate_TagRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.Logging.Level = "TRACE" }, "Level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "Format"},
		{"backend type", func(c *Config) { c.Backend.Type = "ftp" }, "Type"},
		{"table type", func(c *Config) { c.Cache.Table.Type = "redis" }, "Type"},
		{"codec", func(c *Config) { c.Cache.Codec = "toml" }, "Codec"},
		{"access", func(c *Config) { c.Cache.Access = "execute" }, "Access"},
		{"negative sync interval", func(c *Config) { c.Cache.SyncInterval = -time.Second }, "SyncInterval"},
		{"zero shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "ShutdownTimeout"},
		{"metrics port", func(c *Config) { c.Metrics.Port = 70000 }, "Port"},
		{"empty directory", func(c *Config) { c.Directory.DefaultDirectory = "" }, "DefaultDirectory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_FilesystemPathRequired(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Backend.Filesystem["path"] = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected error for empty filesystem path")
	}
	if !strings.Contains(err.Error(), "path") {
		t.Errorf("Expected error to mention path, got: %v", err)
	}
}

func TestValidate_S3RequiresBucketAndRegion(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Backend.Type = "s3"
	cfg.Backend.S3 = map[string]any{"region": "eu-west-1"}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected error for missing bucket")
	}
	if !strings.Contains(err.Error(), "bucket") {
		t.Errorf("Expected error to mention bucket, got: %v", err)
	}

	cfg.Backend.S3["bucket"] = "records"
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid s3 config, got: %v", err)
	}
}

func TestValidate_BadgerTable(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Cache.Table.Type = "badger"
	cfg.Cache.Table.Badger = map[string]any{}

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected error for badger table without db_path")
	}

	cfg.Cache.Table.Badger["in_memory"] = true
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected in-memory badger table to be valid, got: %v", err)
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "warn"}}
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		t.Fatalf("Expected valid config, got: %v", err)
	}
	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected 'WARN', got %q", cfg.Logging.Level)
	}
}
