package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/pkg/backend"
)

// ============================================================================
// Periodic flush
// ============================================================================

// SyncFiles writes every dirty entry to the backend.
//
// The dirty set is captured when the call starts; entries dirtied while the
// flush runs are left for the next pass. An entry whose payload changes
// while its own write is in flight stays dirty as well, because it is only
// marked clean if its version did not move.
//
// Returns:
//   - map[string]error: One error per path that could not be written. An
//     empty map means every captured entry reached the backend.
func (c *FileCache) SyncFiles(ctx context.Context) map[string]error {
	start := time.Now()
	dirty := c.table.DirtyFiles()

	var mu sync.Mutex
	failures := make(map[string]error)

	p := pool.New().WithMaxGoroutines(c.flushWorkers)
	for _, e := range dirty {
		p.Go(func() {
			if err := c.flushFile(ctx, e.Path); err != nil {
				mu.Lock()
				failures[e.Path] = err
				mu.Unlock()
			}
		})
	}
	p.Wait()

	c.metrics.ObserveFlush(len(dirty), len(failures), time.Since(start))
	c.metrics.RecordDirtyFiles(len(c.table.DirtyFiles()))

	if len(failures) > 0 {
		logger.Warn("cache sync: %d of %d dirty files failed to flush", len(failures), len(dirty))
	} else if len(dirty) > 0 {
		logger.Debug("cache sync: flushed %d files in %s", len(dirty), time.Since(start))
	}
	return failures
}

// flushFile writes one dirty entry and marks it clean.
func (c *FileCache) flushFile(ctx context.Context, p string) error {
	unlock := c.lockPaths(p)
	err := c.flushLocked(ctx, p)
	unlock()

	if err != nil {
		c.settle(opFlush, p, err, func(ctx context.Context) bool {
			return c.flushFile(ctx, p) == nil
		})
	}
	return err
}

func (c *FileCache) flushLocked(ctx context.Context, p string) error {
	e, ok := c.table.Payload(p)
	if !ok || !e.Dirty {
		return nil
	}

	data := e.Data
	if !e.Loaded {
		// Touched without being read: rewrite what the backend holds.
		err := c.do(opRead, func() error {
			var rerr error
			data, rerr = c.backend.ReadBytes(ctx, p)
			return rerr
		})
		if backend.IsNotFound(err) {
			c.table.MarkSynced(p, e.Version)
			return nil
		}
		if err != nil {
			return err
		}
	}

	write := func() error {
		return c.backend.WriteBytes(ctx, p, data, e.Options)
	}

	err := c.do(opFlush, write)
	if backend.IsNotFound(err) {
		// Staged under a directory that only exists in the table.
		if parent := backend.ParentPath(p); parent != "" && parent != "/" {
			if mkErr := c.do(opMakeDir, func() error {
				return c.backend.MakeDir(ctx, parent, backend.DirOptions{Recursive: true})
			}); mkErr == nil || backend.IsExists(mkErr) {
				err = c.do(opFlush, write)
			}
		}
	}
	if err != nil {
		return err
	}

	c.table.MarkSynced(p, e.Version)
	return nil
}

// StartSync flushes the dirty set every interval until StopSync. Starting
// again replaces the running timer.
func (c *FileCache) StartSync(interval time.Duration) {
	c.syncTask.Start(interval, func() {
		c.SyncFiles(context.Background())
	})
}

// StopSync stops the flush timer and waits for a running flush to finish.
// Safe to call when the timer is not running.
func (c *FileCache) StopSync() {
	c.syncTask.Stop()
}

// Syncing reports whether the flush timer is running.
func (c *FileCache) Syncing() bool {
	return c.syncTask.Running()
}
