// Package directory mirrors an application collection to a directory of
// record files and loads it back.
//
// Each item of the collection is stored as one file, named by an
// application-supplied namer plus the cache codec extension (".json" by
// default). There is no index or manifest: loading lists the directory and
// decodes every file carrying the extension.
//
// The orchestrator never owns the collection. Loading hands each decoded
// record to an injector callback; backing up only iterates the collection.
package directory

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/internal/periodic"
	"github.com/marmos91/shadowfs/pkg/backend"
	"github.com/marmos91/shadowfs/pkg/cache"
	"github.com/marmos91/shadowfs/pkg/codec"
)

// DefaultBase selects the configured default directory in LoadDirectory and
// BackupToDirectory.
const DefaultBase = "default"

var (
	// ErrNoNamer is returned by New when Config.Namer is nil.
	ErrNoNamer = errors.New("directory: file namer is required")

	// ErrNoInjector is returned by LoadDirectory when the injector is nil.
	ErrNoInjector = errors.New("directory: item injector is required")

	// ErrInvalidName reports a namer result that cannot be a file name.
	ErrInvalidName = errors.New("directory: invalid file name")

	// ErrDecode reports a record file the codec could not decode.
	ErrDecode = errors.New("directory: cannot decode record")

	// ErrWrite reports a record the cache layer failed to write.
	ErrWrite = errors.New("directory: cannot write record")
)

// Config configures a DirectoryCache.
type Config[T any] struct {
	// DefaultDirectory is used when a call does not name a base directory
	DefaultDirectory string

	// Namer returns the file name (without extension) of an item
	Namer func(T) string

	// Collection is what periodic backups iterate
	Collection iter.Seq[T]

	// BackupInterval starts periodic backups from New when it is positive
	// and DefaultDirectory is set
	BackupInterval time.Duration

	// WriteOptions are passed to every record write
	WriteOptions backend.WriteOptions

	// Concurrency bounds parallel record writes of one backup (0 = no bound)
	Concurrency int

	// Verbose logs every record file loaded
	Verbose bool
}

// DirectoryCache is the bulk directory synchronization orchestrator.
type DirectoryCache[T any] struct {
	fc   *cache.FileCache
	cfg  Config[T]
	task *periodic.Task
}

// New creates a DirectoryCache over fc and starts periodic backups when
// cfg.BackupInterval and cfg.DefaultDirectory are both set.
//
// It does not load anything: the application calls LoadDirectory with its
// injector.
func New[T any](fc *cache.FileCache, cfg Config[T]) (*DirectoryCache[T], error) {
	if fc == nil {
		return nil, errors.New("directory: file cache is required")
	}
	if cfg.Namer == nil {
		return nil, ErrNoNamer
	}

	dc := &DirectoryCache[T]{
		fc:   fc,
		cfg:  cfg,
		task: periodic.New("directory backup"),
	}

	if cfg.BackupInterval > 0 && cfg.DefaultDirectory != "" {
		dc.Start(cfg.BackupInterval)
	}
	return dc, nil
}

// FileCache returns the cache layer records go through.
func (dc *DirectoryCache[T]) FileCache() *cache.FileCache {
	return dc.fc
}

// ============================================================================
// Load
// ============================================================================

// LoadDirectory decodes every record file in a directory and passes each
// record to inject.
//
// A file that cannot be decoded, and an inject call that returns an error,
// are recorded and the loop moves on. after, if not nil, receives the
// collected errors once every file has been handled.
//
// Parameters:
//   - dirPath: Directory holding the records, relative to the base
//   - inject: Called once per decoded record
//   - baseDir: Base directory; "" or DefaultBase selects the configured one
//   - after: Optional completion callback
//
// Returns:
//   - error: ErrNoInjector when inject is nil; nothing else is returned
func (dc *DirectoryCache[T]) LoadDirectory(ctx context.Context, dirPath string, inject func(T) error, baseDir string, after func([]error)) error {
	if inject == nil {
		return ErrNoInjector
	}

	dir := backend.JoinPath(dc.base(baseDir), dirPath)
	enc := dc.fc.Codec()

	var errs []error
	for _, name := range dc.fc.ListDir(ctx, dir) {
		if !codec.HasExtension(enc, name) {
			continue
		}
		if dc.cfg.Verbose {
			logger.Info("directory load: %s", name)
		}

		fp := backend.JoinPath(dir, name)

		var item T
		if !dc.fc.ReadStructured(ctx, fp, &item) {
			errs = append(errs, fmt.Errorf("%s: %w", fp, ErrDecode))
			continue
		}

		if err := inject(item); err != nil {
			logger.Debug("directory load: inject %s: %v", fp, err)
			errs = append(errs, fmt.Errorf("inject %s: %w", fp, err))
		}
	}

	if len(errs) > 0 {
		logger.Warn("directory load %s: %d records failed", dir, len(errs))
	}
	if after != nil {
		after(errs)
	}
	return nil
}

// ============================================================================
// Backup
// ============================================================================

// BackupToDirectory writes every item of collection to
// <base>/<namer(item)><ext> through the cache layer.
//
// All writes are issued concurrently and the call returns once each has
// succeeded or failed; one failure never stops the others. Zero arguments
// fall back to the configuration: a nil namer or collection, an empty base
// and zero write options.
//
// Returns:
//   - map[string]error: Failures keyed by file path. Items whose name is
//     invalid are keyed "#<index>:<name>".
func (dc *DirectoryCache[T]) BackupToDirectory(ctx context.Context, namer func(T) string, baseDir string, collection iter.Seq[T], opts backend.WriteOptions) map[string]error {
	if namer == nil {
		namer = dc.cfg.Namer
	}
	if collection == nil {
		collection = dc.cfg.Collection
	}
	if opts == (backend.WriteOptions{}) {
		opts = dc.cfg.WriteOptions
	}
	base := dc.base(baseDir)

	failures := make(map[string]error)
	if collection == nil {
		return failures
	}

	if base != "" && !dc.fc.MakeDir(ctx, base) {
		logger.Warn("directory backup: cannot create %s", base)
	}

	var mu sync.Mutex
	fail := func(key string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failures[key] = err
	}

	p := pool.New()
	if dc.cfg.Concurrency > 0 {
		p = p.WithMaxGoroutines(dc.cfg.Concurrency)
	}

	ext := dc.fc.Codec().Extension()
	written := 0
	idx := 0
	for item := range collection {
		name := namer(item)
		if !validName(name) {
			fail(fmt.Sprintf("#%d:%s", idx, name), fmt.Errorf("%q: %w", name, ErrInvalidName))
			idx++
			continue
		}
		idx++
		written++

		fp := backend.JoinPath(base, name+ext)
		p.Go(func() {
			if !dc.fc.WriteStructured(ctx, fp, item, opts) {
				fail(fp, fmt.Errorf("%s: %w", fp, ErrWrite))
			}
		})
	}
	p.Wait()

	if len(failures) > 0 {
		logger.Warn("directory backup %s: %d of %d records failed", base, len(failures), idx)
	} else {
		logger.Debug("directory backup %s: wrote %d records", base, written)
	}
	return failures
}

// ============================================================================
// Periodic backup
// ============================================================================

// Start runs BackupToDirectory with the configured namer, directory and
// collection every interval. A running timer is stopped first.
func (dc *DirectoryCache[T]) Start(interval time.Duration) {
	dc.task.Start(interval, func() {
		dc.BackupToDirectory(context.Background(), nil, "", nil, backend.WriteOptions{})
	})
}

// Stop turns off periodic backups. Safe to call when they are not running.
func (dc *DirectoryCache[T]) Stop() {
	dc.task.Stop()
}

// Running reports whether periodic backups are on.
func (dc *DirectoryCache[T]) Running() bool {
	return dc.task.Running()
}

// Close stops periodic backups and waits for one in flight to finish.
func (dc *DirectoryCache[T]) Close() error {
	dc.task.Stop()
	return nil
}

func (dc *DirectoryCache[T]) base(baseDir string) string {
	if baseDir == "" || baseDir == DefaultBase {
		return dc.cfg.DefaultDirectory
	}
	return baseDir
}

// validName reports whether name can be used as a single path segment.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}
