package cache

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/pkg/backend"
	"github.com/marmos91/shadowfs/pkg/shadow"
)

// Operation names used in logs, metrics and deferred retries.
const (
	opMakeDir    = "make_dir"
	opRemoveDir  = "remove_dir"
	opMakeFile   = "make_file"
	opRemoveFile = "remove_file"
	opCopy       = "copy"
	opMove       = "move"
	opWrite      = "write"
	opAppend     = "append"
	opRead       = "read"
	opListDir    = "list_dir"
	opFlush      = "flush"
)

// ============================================================================
// Directory operations
// ============================================================================

// MakeDir creates a directory and every missing parent, registering each of
// them in the shadow table. A directory that already exists counts as
// created, so MakeDir is idempotent.
func (c *FileCache) MakeDir(ctx context.Context, path string) bool {
	p, err := clean(path)
	if err != nil {
		return c.settle(opMakeDir, path, err, nil)
	}

	unlock := c.lockPaths(p)
	err = c.makeDir(ctx, p)
	unlock()

	return c.settle(opMakeDir, p, err, func(ctx context.Context) bool {
		return c.MakeDir(ctx, p)
	})
}

func (c *FileCache) makeDir(ctx context.Context, p string) error {
	var added []string
	for _, d := range ancestors(p) {
		if !c.table.Contains(d) {
			c.table.AddDirectory(d)
			added = append(added, d)
		}
	}

	err := c.do(opMakeDir, func() error {
		return c.backend.MakeDir(ctx, p, backend.DirOptions{Recursive: true})
	})
	if err == nil || backend.IsExists(err) {
		return nil
	}

	for i := len(added) - 1; i >= 0; i-- {
		c.table.RemoveDirectory(added[i], false, false)
	}
	return err
}

// RemoveDir removes a directory from the table and the backend.
//
// The table applies its removal policy first (see shadow.Table): a
// non-empty directory is refused unless recursive or force is set, and a
// refusal returns false without touching the backend. A directory missing on
// the backend counts as removed. If the backend fails, the removed table
// entries are restored.
func (c *FileCache) RemoveDir(ctx context.Context, path string, recursive, force bool) bool {
	p, err := clean(path)
	if err != nil {
		return c.settle(opRemoveDir, path, err, nil)
	}

	unlock := c.lockPaths(p)
	err = c.removeDir(ctx, p, recursive, force)
	unlock()

	if errors.Is(err, errRefused) {
		logger.Debug("cache %s %s: not empty, refused", opRemoveDir, p)
		return false
	}
	return c.settle(opRemoveDir, p, err, func(ctx context.Context) bool {
		return c.RemoveDir(ctx, p, recursive, force)
	})
}

func (c *FileCache) removeDir(ctx context.Context, p string, recursive, force bool) error {
	snap := c.table.Snapshot(p)
	if !c.table.RemoveDirectory(p, recursive, force) {
		return errRefused
	}
	c.removals.Add(1)

	err := c.do(opRemoveDir, func() error {
		return c.backend.RemoveDir(ctx, p, backend.DirOptions{Recursive: recursive, Force: force})
	})
	if err == nil || backend.IsNotFound(err) {
		return nil
	}

	if !snap.Empty() {
		c.table.Restore(snap)
	}
	return err
}

// EnsureDirectories creates every directory component of path, one at a
// time from base outward, and stops at the first one that cannot be created.
//
// When isFile is true the last segment names a file: it is not created, only
// registered with its parent directory so Exists recognizes it once it is on
// the backend.
//
// Parameters:
//   - path: Path to materialize, relative to base
//   - base: Optional directory to start from ("" for none)
//   - isFile: Whether the last segment of path is a file
//
// Returns:
//   - string: The resolved path (base joined with path)
//   - bool: false if a directory could not be created
func (c *FileCache) EnsureDirectories(ctx context.Context, path, base string, isFile bool) (string, bool) {
	base = backend.CleanPath(base)

	current := base
	if current == "" && strings.HasPrefix(path, "/") {
		current = "/"
	}

	var parts []string
	for _, part := range strings.Split(backend.CleanPath(path), "/") {
		if part != "" && part != "." {
			parts = append(parts, part)
		}
	}

	var file string
	if isFile && len(parts) > 0 {
		file = parts[len(parts)-1]
		parts = parts[:len(parts)-1]
	}

	if len(parts) == 0 && base != "" && base != "/" {
		if !c.MakeDir(ctx, base) {
			return "", false
		}
	}

	for _, dir := range parts {
		current = backend.JoinPath(current, dir)
		if !c.MakeDir(ctx, current) {
			return "", false
		}
	}

	if file == "" {
		return current, true
	}

	filePath := backend.JoinPath(current, file)
	c.table.AddFile(filePath)
	return filePath, true
}

// ListDir returns the names of the direct children of a directory as the
// backend lists them, sorted. Every child found is registered in the shadow
// table, which is how entries created outside the cache become visible to
// Exists. Any backend error yields an empty listing.
func (c *FileCache) ListDir(ctx context.Context, path string) []string {
	p, err := clean(path)
	if err != nil {
		c.settle(opListDir, path, err, nil)
		return nil
	}

	var entries []backend.DirEntry
	err = c.do(opListDir, func() error {
		var lerr error
		entries, lerr = c.backend.ListDir(ctx, p)
		return lerr
	})
	if err != nil {
		logger.Debug("cache %s %s: %v", opListDir, p, err)
		return nil
	}

	c.table.AddDirectory(p)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		child := backend.JoinPath(p, e.Name)
		if e.IsDir {
			c.table.AddDirectory(child)
		} else {
			c.table.AddFile(child)
		}
		names = append(names, e.Name)
	}
	slices.Sort(names)
	return names
}

// ancestors returns p and each of its parents, outermost first.
// The filesystem root is never included.
func ancestors(p string) []string {
	var out []string
	for d := p; d != "" && d != "/"; d = shadow.Parent(d) {
		out = append(out, d)
	}
	slices.Reverse(out)
	return out
}
