// Package cache implements the write-back cache layer of shadowfs.
//
// A FileCache sits between application code and a backend.Backend. It keeps a
// shadow.Table describing which files and directories exist and which files
// hold changes that have not reached the backend yet.
//
// Every mutating operation follows the same three steps:
//  1. pre-update the shadow table to the intended state
//  2. call the backend primitive
//  3. keep the update on success; roll back destructive changes on failure
//
// Operations report failure as false. Backend errors never cross this
// boundary except from RawRead and RawReadStructured; details are logged.
//
// Write Policies:
//   - write-through (WriteString, WriteStructured, ...): the backend write
//     happens in the same call and the entry is clean afterwards
//   - write-back (SetPayload, MarkChanged): the entry is only marked dirty and
//     reaches the backend on the next SyncFiles pass
//
// Resource Exhaustion:
// When the backend reports ErrResourceExhausted and a retry.Deferrer is
// configured, the failing call is handed to the deferrer as a closure that
// re-invokes it with the same arguments. The immediate caller still sees
// false.
//
// Concurrency:
// Mutations of the same path are serialized with a per-path mutex. Reads do
// not take it, so a read never waits for a slow backend call on the same path
// and observes the pre-updated shadow state instead.
package cache

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/internal/periodic"
	"github.com/marmos91/shadowfs/pkg/backend"
	"github.com/marmos91/shadowfs/pkg/codec"
	"github.com/marmos91/shadowfs/pkg/retry"
	"github.com/marmos91/shadowfs/pkg/shadow"
)

// ErrRetryFailed is returned by a deferred operation whose retry reported
// false again.
var ErrRetryFailed = errors.New("deferred retry failed")

// errRefused reports a directory removal the shadow table refused.
var errRefused = errors.New("directory not empty")

// Option configures a FileCache.
type Option func(*FileCache)

// WithTable replaces the default in-memory shadow table. The cache takes
// ownership and closes it on Close.
func WithTable(t shadow.Table) Option {
	return func(c *FileCache) {
		if t != nil {
			c.table = t
		}
	}
}

// WithDeferrer installs the retry hook for resource exhaustion.
func WithDeferrer(d retry.Deferrer) Option {
	return func(c *FileCache) { c.deferrer = d }
}

// WithCodec selects the codec for structured payloads (default codec.JSON).
func WithCodec(cd codec.Codec) Option {
	return func(c *FileCache) {
		if cd != nil {
			c.codec = cd
		}
	}
}

// WithMetrics installs a metrics sink. A nil value keeps the no-op sink.
func WithMetrics(m Metrics) Option {
	return func(c *FileCache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithAccess sets the access mode Exists checks on the backend
// (default backend.AccessReadWrite).
func WithAccess(a backend.Access) Option {
	return func(c *FileCache) { c.access = a }
}

// WithFlushConcurrency bounds the number of parallel backend writes of one
// SyncFiles pass (default 4).
func WithFlushConcurrency(n int) Option {
	return func(c *FileCache) {
		if n > 0 {
			c.flushWorkers = n
		}
	}
}

// FileCache is the write-back cache layer.
//
// The shadow table is private to the cache: nothing else should mutate it.
// The backend is not owned; Close leaves it open.
type FileCache struct {
	backend  backend.Backend
	table    shadow.Table
	deferrer retry.Deferrer
	codec    codec.Codec
	metrics  Metrics
	access   backend.Access

	flushWorkers int

	// locks holds a mutex per path while some call uses it
	locksMu sync.Mutex
	locks   map[string]*pathLock

	// removals counts file and directory removals, so a cache-miss read of
	// an untracked path can tell that a removal raced with it
	removals atomic.Uint64

	syncTask *periodic.Task

	closeOnce sync.Once
	closeErr  error
}

// New creates a FileCache over b.
func New(b backend.Backend, opts ...Option) *FileCache {
	c := &FileCache{
		backend:      b,
		table:        shadow.NewMemoryTable(),
		codec:        codec.Default,
		metrics:      noopMetrics{},
		access:       backend.AccessReadWrite,
		flushWorkers: 4,
		locks:        make(map[string]*pathLock),
		syncTask:     periodic.New("cache sync"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backend returns the underlying backend.
func (c *FileCache) Backend() backend.Backend {
	return c.backend
}

// Codec returns the codec used for structured payloads.
func (c *FileCache) Codec() codec.Codec {
	return c.codec
}

// Table returns the shadow table. Callers should treat it as read-only.
func (c *FileCache) Table() shadow.Table {
	return c.table
}

// Close stops the sync timer, flushes the dirty set once more and closes the
// shadow table. Flush failures are joined into the returned error; the dirty
// entries are lost unless the table is persistent. Safe to call more than once.
func (c *FileCache) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.StopSync()

		var errs []error
		failures := c.SyncFiles(ctx)
		for _, p := range slices.Sorted(maps.Keys(failures)) {
			errs = append(errs, fmt.Errorf("flush %s: %w", p, failures[p]))
		}

		if err := c.table.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close table: %w", err))
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// ============================================================================
// Per-path locking
// ============================================================================

// pathLock is a reference-counted mutex. It is dropped from the map when the
// last holder or waiter releases it.
type pathLock struct {
	mu   sync.Mutex
	refs int
}

// lockPaths locks every path in a fixed order and returns the unlock func.
// Duplicates are locked once.
func (c *FileCache) lockPaths(paths ...string) func() {
	sorted := slices.Clone(paths)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]*pathLock, 0, len(sorted))
	for _, p := range sorted {
		l := c.acquire(p)
		l.mu.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			c.release(sorted[i], held[i])
		}
	}
}

func (c *FileCache) acquire(p string) *pathLock {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()

	l, ok := c.locks[p]
	if !ok {
		l = &pathLock{}
		c.locks[p] = l
	}
	l.refs++
	return l
}

func (c *FileCache) release(p string, l *pathLock) {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(c.locks, p)
	}
}

// ============================================================================
// Backend call helpers
// ============================================================================

// do runs one backend call and records it.
func (c *FileCache) do(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	c.metrics.ObserveBackendOp(op, backend.Classify(err).String(), time.Since(start))
	return err
}

// settle turns the outcome of an operation into its boolean result.
//
// On resource exhaustion with a deferrer configured, again is handed off to
// be re-run later. settle must be called after the path locks are released:
// a synchronous deferrer re-enters the cache.
func (c *FileCache) settle(op, path string, err error, again func(ctx context.Context) bool) bool {
	if err == nil {
		return true
	}

	switch {
	case backend.IsResourceExhausted(err) && c.deferrer != nil && again != nil:
		logger.Debug("cache %s %s: backend exhausted, deferring: %v", op, path, err)
		c.metrics.RecordDeferred(op)
		c.deferrer.Defer(func(ctx context.Context) error {
			if again(ctx) {
				return nil
			}
			return fmt.Errorf("%s %s: %w", op, path, ErrRetryFailed)
		})
	case backend.IsCancelled(err):
		logger.Debug("cache %s %s: %v", op, path, err)
	default:
		logger.Warn("cache %s %s: %v", op, path, err)
	}
	return false
}

// undo is the table state of one file captured before a mutation.
type undo struct {
	path string
	snap shadow.Snapshot

	// parent is set when the table did not know the parent directory, which
	// registering the file creates implicitly
	parent string
}

func (c *FileCache) capture(p string) undo {
	u := undo{path: p, snap: c.table.Snapshot(p)}
	if parent := shadow.Parent(p); parent != "" && parent != "/" && !c.table.Contains(parent) {
		u.parent = parent
	}
	return u
}

// rollback puts back the table state captured before a failed mutation.
// A snapshot that captured nothing means the path was new: it is removed,
// along with a parent directory registered only because of it.
func (c *FileCache) rollback(u undo) {
	if u.snap.Empty() {
		c.table.RemoveFile(u.path)
	} else {
		c.table.Restore(u.snap)
	}
	if u.parent != "" {
		// Refused if something else was registered there meanwhile.
		c.table.RemoveDirectory(u.parent, false, false)
	}
}

// clean normalizes path and rejects empty ones.
func clean(p string) (string, error) {
	p = backend.CleanPath(p)
	if p == "" || p == "." {
		return "", fmt.Errorf("%q: %w", p, backend.ErrInvalidPath)
	}
	return p, nil
}
