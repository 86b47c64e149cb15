package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/pkg/backend"
	fsbackend "github.com/marmos91/shadowfs/pkg/backend/fs"
	s3backend "github.com/marmos91/shadowfs/pkg/backend/s3"
	"github.com/marmos91/shadowfs/pkg/cache"
	"github.com/marmos91/shadowfs/pkg/codec"
	"github.com/marmos91/shadowfs/pkg/metrics"
	"github.com/marmos91/shadowfs/pkg/retry"
	"github.com/marmos91/shadowfs/pkg/shadow"
	badgertable "github.com/marmos91/shadowfs/pkg/shadow/badger"
)

// decode copies a type-specific options map into a config struct.
// Duration strings ("30s") are accepted.
func decode(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

// ============================================================================
// Backend
// ============================================================================

// CreateBackend creates a backend based on configuration.
//
// This factory function uses the Type field to determine which backend
// implementation to create, then decodes the type-specific configuration
// from the corresponding map and passes it to the backend's constructor.
//
// Supported types:
//   - "filesystem": local disk rooted at backend.filesystem.path
//   - "memory": volatile in-memory tree
//   - "s3": Amazon S3 or a compatible object store
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Backend configuration
//
// Returns:
//   - backend.Backend: Initialized backend
//   - error: Configuration or initialization error
func CreateBackend(ctx context.Context, cfg *BackendConfig) (backend.Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "filesystem":
		return createFilesystemBackend(ctx, cfg.Filesystem)
	case "memory":
		logger.Info("Memory backend initialized (contents are lost on exit)")
		return fsbackend.NewMemoryBackend(), nil
	case "s3":
		return createS3Backend(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown backend type: %q (supported: filesystem, memory, s3)", cfg.Type)
	}
}

// createFilesystemBackend creates a disk backend.
func createFilesystemBackend(ctx context.Context, options map[string]any) (backend.Backend, error) {
	var fsCfg fsbackend.Config
	if err := decode(options, &fsCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem backend config: %w", err)
	}

	if fsCfg.Path == "" {
		return nil, fmt.Errorf("filesystem backend: path is required")
	}

	b, err := fsbackend.NewFSBackend(ctx, fsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem backend: %w", err)
	}

	logger.Info("Filesystem backend initialized: path=%s", fsCfg.Path)
	return b, nil
}

// createS3Backend creates an S3 backend.
func createS3Backend(ctx context.Context, options map[string]any) (backend.Backend, error) {
	var s3Cfg s3backend.Config
	if err := decode(options, &s3Cfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 backend config: %w", err)
	}

	if err := validate.Struct(s3Cfg); err != nil {
		return nil, fmt.Errorf("S3 backend: %w", formatValidationError(err))
	}

	if m := metrics.NewS3Metrics(); m != nil {
		s3Cfg.Metrics = m
	}

	b, err := s3backend.New(ctx, s3Cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 backend: %w", err)
	}

	logger.Info("S3 backend initialized: bucket=%s, region=%s, prefix=%s",
		s3Cfg.Bucket, s3Cfg.Region, s3Cfg.KeyPrefix)
	return b, nil
}

// ============================================================================
// Shadow table
// ============================================================================

// CreateTable creates the shadow table based on configuration.
//
// Supported types:
//   - "memory": in-process table, rebuilt from the backend after a restart
//   - "badger": BadgerDB table persisted at cache.table.badger.db_path
func CreateTable(ctx context.Context, cfg *CacheConfig) (shadow.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts []shadow.Option
	if cfg.ContentKeys {
		opts = append(opts, shadow.WithContentKeys())
	}

	switch cfg.Table.Type {
	case "memory":
		return shadow.NewMemoryTable(opts...), nil
	case "badger":
		var badgerCfg badgertable.Config
		if err := decode(cfg.Table.Badger, &badgerCfg); err != nil {
			return nil, fmt.Errorf("failed to decode badger table config: %w", err)
		}
		if badgerCfg.DBPath == "" && !badgerCfg.InMemory {
			return nil, fmt.Errorf("badger table: db_path is required")
		}

		t, err := badgertable.New(ctx, badgerCfg, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger table: %w", err)
		}
		logger.Info("Badger shadow table opened: path=%s, in_memory=%v", badgerCfg.DBPath, badgerCfg.InMemory)
		return t, nil
	default:
		return nil, fmt.Errorf("unknown table type: %q (supported: memory, badger)", cfg.Table.Type)
	}
}

// ============================================================================
// Retry queue
// ============================================================================

// CreateDeferrer creates the retry queue, or returns nil when retries are
// disabled. A nil queue leaves the cache without a deferrer, so operations
// that exhaust the backend simply fail.
func CreateDeferrer(cfg *RetryConfig) *retry.Queue {
	if !cfg.Enabled {
		return nil
	}

	logger.Debug("Retry queue: rate=%.2f/s, burst=%d, size=%d", cfg.RatePerSecond, cfg.Burst, cfg.QueueSize)
	return retry.NewQueue(retry.QueueConfig{
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		Size:          cfg.QueueSize,
	})
}

// ============================================================================
// File cache
// ============================================================================

// Components holds what CreateFileCache builds, so the caller can shut it
// down in order.
type Components struct {
	Backend backend.Backend
	Cache   *cache.FileCache

	// Retry is nil when retries are disabled
	Retry *retry.Queue
}

// Close flushes the cache, drains the retry queue and closes the backend.
// Every step runs even if an earlier one fails.
func (c *Components) Close(ctx context.Context) error {
	var errs []error

	if c.Cache != nil {
		if err := c.Cache.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	if c.Retry != nil {
		if err := c.Retry.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("retry queue: %w", err))
		}
	}
	if c.Backend != nil {
		if err := c.Backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("backend: %w", err))
		}
	}

	return errors.Join(errs...)
}

// CreateFileCache wires a backend, a shadow table and an optional retry
// queue into a FileCache, and starts the periodic flush when
// cache.sync_interval is set.
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: The complete configuration
//   - cacheMetrics: Cache metrics (nil uses the no-op implementation)
//
// Returns:
//   - *Components: Backend, cache and retry queue; Close releases all three
//   - error: Configuration or initialization error; nothing is left open
func CreateFileCache(ctx context.Context, cfg *Config, cacheMetrics cache.Metrics) (*Components, error) {
	enc, err := codec.ByName(cfg.Cache.Codec)
	if err != nil {
		return nil, err
	}

	access, err := ParseAccess(cfg.Cache.Access)
	if err != nil {
		return nil, err
	}

	b, err := CreateBackend(ctx, &cfg.Backend)
	if err != nil {
		return nil, err
	}

	table, err := CreateTable(ctx, &cfg.Cache)
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	opts := []cache.Option{
		cache.WithTable(table),
		cache.WithCodec(enc),
		cache.WithMetrics(cacheMetrics),
		cache.WithAccess(access),
		cache.WithFlushConcurrency(cfg.Cache.FlushConcurrency),
	}

	queue := CreateDeferrer(&cfg.Retry)
	if queue != nil {
		opts = append(opts, cache.WithDeferrer(queue))
	}

	fc := cache.New(b, opts...)
	if cfg.Cache.SyncInterval > 0 {
		fc.StartSync(cfg.Cache.SyncInterval)
	}

	return &Components{Backend: b, Cache: fc, Retry: queue}, nil
}

// ParseAccess converts a cache.access setting.
func ParseAccess(s string) (backend.Access, error) {
	switch s {
	case "exist":
		return backend.AccessExist, nil
	case "read":
		return backend.AccessRead, nil
	case "write":
		return backend.AccessWrite, nil
	case "", "readwrite":
		return backend.AccessReadWrite, nil
	default:
		return 0, fmt.Errorf("unknown access mode: %q (supported: exist, read, write, readwrite)", s)
	}
}
