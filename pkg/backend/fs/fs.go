// Package fs implements the filesystem backend for shadowfs.
//
// This file contains the backend type, constructors, path mapping and
// lifecycle management. The backend is built on afero so the same code serves
// the local disk (afero.OsFs, optionally rooted with afero.BasePathFs) and a
// volatile in-memory tree (afero.MemMapFs).
package fs

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/spf13/afero"

	"github.com/marmos91/shadowfs/pkg/backend"
)

// FSBackend implements backend.Backend on top of an afero filesystem.
//
// Path Mapping:
// Logical paths are cleaned and, when the backend is rooted (BasePathFs or
// MemMapFs), made absolute so "a/b" and "/a/b" address the same entry. An
// unrooted OsFs backend passes paths through unchanged, so relative paths are
// resolved against the process working directory.
//
// Thread Safety:
// The underlying filesystem operations are safe at the OS (or afero) level.
// Concurrent writes to the same path may interleave; the cache layer
// serializes same-path operations.
type FSBackend struct {
	fs     afero.Fs
	root   string
	rooted bool
	closed atomic.Bool
}

// Config configures a disk-backed FSBackend.
type Config struct {
	// Path is the root directory all logical paths are resolved under.
	// Empty means no rooting: paths are used as given.
	Path string `mapstructure:"path"`
}

// NewFSBackend creates a backend on the local disk.
//
// When cfg.Path is set the directory is created (0755) and every logical path
// is confined below it.
//
// Parameters:
//   - ctx: Context for cancellation
//   - cfg: Root directory configuration
//
// Returns:
//   - *FSBackend: Initialized backend
//   - error: Returns error if the root cannot be created or ctx is cancelled
func NewFSBackend(ctx context.Context, cfg Config) (*FSBackend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	osFs := afero.NewOsFs()
	if cfg.Path == "" {
		return &FSBackend{fs: osFs}, nil
	}

	if err := osFs.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSBackend{
		fs:     afero.NewBasePathFs(osFs, cfg.Path),
		root:   cfg.Path,
		rooted: true,
	}, nil
}

// NewMemoryBackend creates a backend on a fresh in-memory tree.
//
// Contents are lost when the process exits. Useful for tests and for
// ephemeral caches.
func NewMemoryBackend() *FSBackend {
	return &FSBackend{
		fs:     afero.NewMemMapFs(),
		root:   "memory",
		rooted: true,
	}
}

// NewWithFs wraps an arbitrary afero filesystem. Paths are rooted.
func NewWithFs(fsys afero.Fs) *FSBackend {
	return &FSBackend{
		fs:     fsys,
		root:   fsys.Name(),
		rooted: true,
	}
}

// Fs exposes the underlying afero filesystem.
func (b *FSBackend) Fs() afero.Fs {
	return b.fs
}

// Root returns the configured root (a directory, or "memory").
func (b *FSBackend) Root() string {
	return b.root
}

// resolve maps a logical path to the afero path.
func (b *FSBackend) resolve(p string) (string, error) {
	clean := backend.CleanPath(p)
	if clean == "" || clean == "." {
		return "", fmt.Errorf("%q: %w", p, backend.ErrInvalidPath)
	}

	if b.rooted {
		return "/" + strings.TrimPrefix(clean, "/"), nil
	}
	return clean, nil
}

// begin performs the checks shared by every operation and resolves the path.
func (b *FSBackend) begin(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if b.closed.Load() {
		return "", backend.ErrClosed
	}
	return b.resolve(p)
}

// wrapErr annotates err with the operation and maps it onto the backend
// sentinels while keeping the original error in the chain.
func wrapErr(op, p string, err error) error {
	switch backend.Classify(err) {
	case backend.KindNone:
		return nil
	case backend.KindNotFound:
		return fmt.Errorf("%s %s: %w: %w", op, p, backend.ErrNotFound, err)
	case backend.KindExists:
		return fmt.Errorf("%s %s: %w: %w", op, p, backend.ErrExists, err)
	case backend.KindResourceExhausted:
		return fmt.Errorf("%s %s: %w: %w", op, p, backend.ErrResourceExhausted, err)
	default:
		return fmt.Errorf("%s %s: %w", op, p, err)
	}
}

// Exists reports whether path is present and grants the requested access.
//
// Access is derived from the owner permission bits, which is what afero
// exposes uniformly for disk and memory trees.
func (b *FSBackend) Exists(ctx context.Context, p string, access backend.Access) bool {
	fp, err := b.begin(ctx, p)
	if err != nil {
		return false
	}

	info, err := b.fs.Stat(fp)
	if err != nil {
		return false
	}

	perm := info.Mode().Perm()
	if access.Has(backend.AccessRead) && perm&0o400 == 0 {
		return false
	}
	if access.Has(backend.AccessWrite) && perm&0o200 == 0 {
		return false
	}
	return true
}

// Close marks the backend closed. Subsequent operations fail with ErrClosed.
func (b *FSBackend) Close() error {
	b.closed.Store(true)
	return nil
}

func isDir(fsys afero.Fs, p string) (bool, error) {
	info, err := fsys.Stat(p)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

var _ backend.Backend = (*FSBackend)(nil)
