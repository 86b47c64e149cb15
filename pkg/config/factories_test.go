package config

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/shadowfs/pkg/backend"
	"github.com/marmos91/shadowfs/pkg/codec"
)

func TestCreateBackend_Filesystem(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "data")

	cfg := &BackendConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{"path": root},
	}

	b, err := CreateBackend(ctx, cfg)
	if err != nil {
		t.Fatalf("CreateBackend failed: %v", err)
	}
	defer func() { _ = b.Close() }()

	if err := b.WriteBytes(ctx, "probe.txt", []byte("x"), backend.WriteOptions{}); err != nil {
		t.Fatalf("Write through created backend failed: %v", err)
	}
	if !b.Exists(ctx, "probe.txt", backend.AccessExist) {
		t.Error("Expected probe.txt to exist")
	}
}

func TestCreateBackend_FilesystemMissingPath(t *testing.T) {
	cfg := &BackendConfig{Type: "filesystem", Filesystem: map[string]any{}}

	_, err := CreateBackend(context.Background(), cfg)
	if err == nil {
		t.Fatal("Expected error for missing path")
	}
	if !strings.Contains(err.Error(), "path is required") {
		t.Errorf("Expected 'path is required' error, got: %v", err)
	}
}

func TestCreateBackend_Memory(t *testing.T) {
	b, err := CreateBackend(context.Background(), &BackendConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("CreateBackend failed: %v", err)
	}
	_ = b.Close()
}

func TestCreateBackend_S3Invalid(t *testing.T) {
	cfg := &BackendConfig{Type: "s3", S3: map[string]any{"region": "us-east-1"}}

	_, err := CreateBackend(context.Background(), cfg)
	if err == nil {
		t.Fatal("Expected error for S3 config without bucket")
	}
	if !strings.Contains(err.Error(), "Bucket") {
		t.Errorf("Expected error to mention Bucket, got: %v", err)
	}
}

func TestCreateBackend_UnknownType(t *testing.T) {
	_, err := CreateBackend(context.Background(), &BackendConfig{Type: "tape"})
	if err == nil {
		t.Fatal("Expected error for unknown backend type")
	}
}

func TestCreateBackend_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := CreateBackend(ctx, &BackendConfig{Type: "memory"}); err == nil {
		t.Fatal("Expected error for cancelled context")
	}
}

func TestCreateTable_Memory(t *testing.T) {
	table, err := CreateTable(context.Background(), &CacheConfig{
		Table:       TableConfig{Type: "memory"},
		ContentKeys: true,
	})
	if err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	defer func() { _ = table.Close() }()

	table.AddFile("a.txt")
	table.SetPayload("a.txt", []byte("k"), backend.WriteOptions{}, false)

	key, ok := table.ContainsFile("a.txt")
	if !ok || key == "a.txt" {
		t.Errorf("Expected a content key, got %q (found=%v)", key, ok)
	}
}

func TestCreateTable_Badger(t *testing.T) {
	table, err := CreateTable(context.Background(), &CacheConfig{
		Table: TableConfig{
			Type:   "badger",
			Badger: map[string]any{"db_path": filepath.Join(t.TempDir(), "table")},
		},
	})
	if err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	defer func() { _ = table.Close() }()

	table.AddDirectory("records")
	if !table.Contains("records") {
		t.Error("Expected records directory in badger table")
	}
}

func TestCreateTable_UnknownType(t *testing.T) {
	_, err := CreateTable(context.Background(), &CacheConfig{Table: TableConfig{Type: "etcd"}})
	if err == nil {
		t.Fatal("Expected error for unknown table type")
	}
}

func TestCreateDeferrer(t *testing.T) {
	if q := CreateDeferrer(&RetryConfig{}); q != nil {
		t.Error("Expected nil queue when retries are disabled")
	}

	q := CreateDeferrer(&RetryConfig{Enabled: true, RatePerSecond: 100, Burst: 1, QueueSize: 8})
	if q == nil {
		t.Fatal("Expected a queue when retries are enabled")
	}
	if err := q.Close(context.Background()); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestCreateFileCache(t *testing.T) {
	ctx := context.Background()

	root := t.TempDir()

	cfg := GetDefaultConfig()
	cfg.Backend.Filesystem["path"] = root
	cfg.Cache.Codec = "yaml"
	cfg.Cache.SyncInterval = time.Hour

	comps, err := CreateFileCache(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("CreateFileCache failed: %v", err)
	}

	if comps.Cache.Codec().Name() != codec.YAML.Name() {
		t.Errorf("Expected yaml codec, got %s", comps.Cache.Codec().Name())
	}
	if comps.Retry == nil {
		t.Error("Expected retry queue from the default config")
	}
	if !comps.Cache.Syncing() {
		t.Error("Expected periodic flush to be running")
	}

	if !comps.Cache.SetPayload("staged.txt", []byte("pending"), backend.WriteOptions{}, false) {
		t.Fatal("SetPayload failed")
	}

	if err := comps.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if comps.Cache.Syncing() {
		t.Error("Expected periodic flush to be stopped")
	}

	reopened, err := CreateBackend(ctx, &cfg.Backend)
	if err != nil {
		t.Fatalf("Reopening backend failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	data, err := reopened.ReadBytes(ctx, "staged.txt")
	if err != nil {
		t.Fatalf("Expected staged.txt to be flushed on Close: %v", err)
	}
	if string(data) != "pending" {
		t.Errorf("Expected 'pending', got %q", data)
	}
}

func TestParseAccess(t *testing.T) {
	tests := map[string]backend.Access{
		"exist":     backend.AccessExist,
		"read":      backend.AccessRead,
		"write":     backend.AccessWrite,
		"readwrite": backend.AccessReadWrite,
		"":          backend.AccessReadWrite,
	}
	for in, want := range tests {
		got, err := ParseAccess(in)
		if err != nil {
			t.Errorf("ParseAccess(%q) failed: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseAccess(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseAccess("exec"); err == nil {
		t.Error("Expected error for unknown access mode")
	}
}
