package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/pkg/backend"
	"github.com/marmos91/shadowfs/pkg/config"
	"github.com/marmos91/shadowfs/pkg/directory"
	"github.com/marmos91/shadowfs/pkg/metrics"
)

func runInit(args []string) error {
	var configPath string
	var force bool

	fs := newFlagSet("init", &configPath)
	fs.BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if configPath == "" {
		path, err := config.InitConfig(force)
		if err != nil {
			return err
		}
		configPath = path
	} else if err := config.InitConfigToPath(configPath, force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", configPath)
	return nil
}

// ============================================================================
// Shared setup
// ============================================================================

// app is what start and sync share: the configured cache stack, the
// metrics server and a directory mirror over the records directory.
type app struct {
	cfg     *config.Config
	comps   *config.Components
	metrics *config.MetricsResult
	mirror  *directory.DirectoryCache[record]
	records *recordSet
}

func setup(ctx context.Context, configPath string, backupInterval bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	// Configure reports its own stdout fallback.
	_ = logger.Configure(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})

	m := config.InitializeMetrics(cfg)

	comps, err := config.CreateFileCache(ctx, cfg, m.CacheMetrics)
	if err != nil {
		return nil, err
	}
	if err := metrics.RegisterRetryQueue(comps.Retry); err != nil {
		logger.Warn("Retry queue metrics unavailable: %v", err)
	}

	records := newRecordSet()
	dirCfg := directory.Config[record]{
		DefaultDirectory: backend.JoinPath(cfg.Directory.DefaultDirectory, cfg.Directory.RecordsDir),
		Namer:            recordName,
		Collection:       records.All(),
		Concurrency:      cfg.Directory.Concurrency,
		Verbose:          logger.Enabled(logger.LevelDebug),
	}
	if backupInterval {
		dirCfg.BackupInterval = cfg.Directory.BackupInterval
	}

	mirror, err := directory.New(comps.Cache, dirCfg)
	if err != nil {
		_ = comps.Close(ctx)
		return nil, err
	}

	return &app{cfg: cfg, comps: comps, metrics: m, mirror: mirror, records: records}, nil
}

// load reads the records directory into the record set.
func (rt *app) load(ctx context.Context) {
	_ = rt.mirror.LoadDirectory(ctx, "", rt.records.inject, directory.DefaultBase, func(errs []error) {
		for _, err := range errs {
			logger.Warn("Skipping record: %v", err)
		}
	})
	logger.Info("Loaded %d records from %s", rt.records.Len(), rt.recordsDir())
}

func (rt *app) recordsDir() string {
	return backend.JoinPath(rt.cfg.Directory.DefaultDirectory, rt.cfg.Directory.RecordsDir)
}

// shutdown stops the mirror and flushes the cache within the configured
// shutdown timeout.
func (rt *app) shutdown() error {
	_ = rt.mirror.Close()

	ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout)
	defer cancel()

	return rt.comps.Close(ctx)
}

// ============================================================================
// Commands
// ============================================================================

func runStart(args []string) error {
	var configPath string

	fs := newFlagSet("start", &configPath)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	serverDone := make(chan error, 1)
	if rt.metrics.Server != nil {
		go func() {
			serverDone <- rt.metrics.Server.Start(ctx)
		}()
	} else {
		close(serverDone)
	}

	rt.load(ctx)

	logger.Info("shadowfs %s is running. Press Ctrl+C to stop.", version)
	<-ctx.Done()
	logger.Info("Shutdown signal received, flushing records...")

	if failures := rt.mirror.BackupToDirectory(context.Background(), nil, "", nil, backend.WriteOptions{}); len(failures) > 0 {
		logger.Error("Final backup: %d records failed", len(failures))
	}

	err = rt.shutdown()
	if serverErr := <-serverDone; serverErr != nil {
		logger.Error("Metrics server: %v", serverErr)
	}
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("shadowfs stopped")
	return nil
}

func runSync(args []string) error {
	var configPath string
	var target string

	fs := newFlagSet("sync", &configPath)
	fs.StringVar(&target, "to", "", "directory to write the records to (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if target == "" {
		return fmt.Errorf("--to is required")
	}

	ctx := context.Background()

	rt, err := setup(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	rt.load(ctx)
	failures := rt.mirror.BackupToDirectory(ctx, nil, target, nil, backend.WriteOptions{})

	if err := rt.shutdown(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	for name, ferr := range failures {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, ferr)
	}
	fmt.Printf("Synced %d of %d records to %s\n", rt.records.Len()-len(failures), rt.records.Len(), target)

	if len(failures) > 0 {
		return fmt.Errorf("%d records failed", len(failures))
	}
	return nil
}
