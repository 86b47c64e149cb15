package cache

import (
	"context"
	"fmt"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/pkg/backend"
	"github.com/marmos91/shadowfs/pkg/shadow"
)

// ============================================================================
// File lifecycle
// ============================================================================

// MakeFile registers a file and creates it empty on the backend unless it is
// already there. Existing content is never truncated.
func (c *FileCache) MakeFile(ctx context.Context, path string, opts backend.WriteOptions) bool {
	p, err := clean(path)
	if err != nil {
		return c.settle(opMakeFile, path, err, nil)
	}

	unlock := c.lockPaths(p)
	err = c.makeFile(ctx, p, opts)
	unlock()

	return c.settle(opMakeFile, p, err, func(ctx context.Context) bool {
		return c.MakeFile(ctx, p, opts)
	})
}

func (c *FileCache) makeFile(ctx context.Context, p string, opts backend.WriteOptions) error {
	_, known := c.table.ContainsFile(p)
	u := c.capture(p)
	if !known {
		c.table.AddFile(p)
	}
	entry, _ := c.table.Payload(p)

	if c.backend.Exists(ctx, p, backend.AccessExist) {
		return nil
	}

	err := c.do(opMakeFile, func() error {
		return c.backend.WriteBytes(ctx, p, nil, opts)
	})
	if err != nil {
		if !known {
			c.rollback(u)
		}
		return err
	}

	c.table.Populate(p, nil, false, entry.Version)
	return nil
}

// RemoveFile removes a file from the table and the backend. If the backend
// fails (including when the file is not there) the entry is restored with
// its payload and dirty flag.
func (c *FileCache) RemoveFile(ctx context.Context, path string) bool {
	p, err := clean(path)
	if err != nil {
		return c.settle(opRemoveFile, path, err, nil)
	}

	unlock := c.lockPaths(p)
	err = c.removeFile(ctx, p)
	unlock()

	return c.settle(opRemoveFile, p, err, func(ctx context.Context) bool {
		return c.RemoveFile(ctx, p)
	})
}

func (c *FileCache) removeFile(ctx context.Context, p string) error {
	snap := c.table.Snapshot(p)
	c.table.RemoveFile(p)
	c.removals.Add(1)

	err := c.do(opRemoveFile, func() error {
		return c.backend.RemoveFile(ctx, p)
	})
	if err != nil && !snap.Empty() {
		c.table.Restore(snap)
	}
	return err
}

// Exists reports whether path is both tracked by the cache and present on
// the backend with the configured access mode.
//
// A path that exists on the backend but was never registered (through a
// write, a read, EnsureDirectories or ListDir) reads as absent.
func (c *FileCache) Exists(ctx context.Context, path string) bool {
	p := backend.CleanPath(path)
	if p == "" || !c.table.Contains(p) {
		return false
	}
	return c.backend.Exists(ctx, p, c.access)
}

// ============================================================================
// Copy / Move
// ============================================================================

// Copy copies src to dst. src must satisfy Exists.
//
// The shadow entry is cloned before the backend copy starts, so a read of
// dst issued while the copy is still in flight already returns the source
// payload. If src holds unflushed changes, dst stays dirty and the next
// SyncFiles writes them.
func (c *FileCache) Copy(ctx context.Context, src, dst string) bool {
	s, d, ok := c.pair(opCopy, src, dst)
	if !ok {
		return false
	}

	unlock := c.lockPaths(s, d)
	err := c.transfer(ctx, opCopy, s, d)
	unlock()

	return c.settle(opCopy, s, err, func(ctx context.Context) bool {
		return c.Copy(ctx, s, d)
	})
}

// Move renames src to dst on the backend and moves the shadow entry with
// it. src must satisfy Exists.
func (c *FileCache) Move(ctx context.Context, src, dst string) bool {
	s, d, ok := c.pair(opMove, src, dst)
	if !ok {
		return false
	}

	unlock := c.lockPaths(s, d)
	err := c.transfer(ctx, opMove, s, d)
	unlock()

	return c.settle(opMove, s, err, func(ctx context.Context) bool {
		return c.Move(ctx, s, d)
	})
}

func (c *FileCache) pair(op, src, dst string) (string, string, bool) {
	s, err := clean(src)
	if err != nil {
		return "", "", c.settle(op, src, err, nil)
	}
	d, err := clean(dst)
	if err != nil {
		return "", "", c.settle(op, dst, err, nil)
	}
	if s == d {
		logger.Debug("cache %s %s: source and destination are the same", op, s)
		return "", "", false
	}
	return s, d, true
}

// transfer implements Copy (op == opCopy) and Move.
func (c *FileCache) transfer(ctx context.Context, op, s, d string) error {
	if !c.Exists(ctx, s) {
		return fmt.Errorf("source not known to the cache: %w", backend.ErrNotFound)
	}

	source, err := c.load(ctx, s, false)
	if err != nil {
		return err
	}

	u := c.capture(d)
	c.table.CloneFile(s, d)
	clone, _ := c.table.Payload(d)
	if op == opMove {
		c.removals.Add(1)
	}

	err = c.do(op, func() error {
		if op == opMove {
			return c.backend.Rename(ctx, s, d)
		}
		return c.backend.CopyFile(ctx, s, d)
	})
	if err != nil {
		c.rollback(u)
		return err
	}

	if op == opMove {
		c.table.RemoveFile(s)
	}
	if !source.Dirty {
		c.table.MarkSynced(d, clone.Version)
	}
	return nil
}

// load returns the entry at p, reading it through the backend on a miss.
//
// The read runs without the path lock. The result is only cached if the entry
// kept the version seen before the read, so a write or removal that lands
// meanwhile is not overwritten with older backend bytes.
func (c *FileCache) load(ctx context.Context, p string, structured bool) (shadow.FileEntry, error) {
	e, ok := c.table.Payload(p)
	if ok && e.Loaded {
		c.metrics.RecordHit()
		return e, nil
	}
	c.metrics.RecordMiss()

	var version uint64
	if ok {
		version = e.Version
	}
	removals := c.removals.Load()

	var data []byte
	err := c.do(opRead, func() error {
		var rerr error
		data, rerr = c.backend.ReadBytes(ctx, p)
		return rerr
	})
	if err != nil {
		return shadow.FileEntry{}, err
	}

	// An untracked path has no version to compare; any removal since the
	// read started may have deleted it.
	if version != 0 || c.removals.Load() == removals {
		c.table.Populate(p, data, structured, version)
	}
	if e, ok = c.table.Payload(p); ok && e.Loaded {
		return e, nil
	}
	return shadow.FileEntry{Path: p, Data: data, Loaded: true, Structured: structured}, nil
}
