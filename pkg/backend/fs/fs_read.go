package fs

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/marmos91/shadowfs/pkg/backend"
)

// ReadBytes returns the whole content of a file.
//
// Returns an error wrapping ErrNotFound if the file does not exist.
func (b *FSBackend) ReadBytes(ctx context.Context, p string) ([]byte, error) {
	fp, err := b.begin(ctx, p)
	if err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(b.fs, fp)
	if err != nil {
		return nil, wrapErr("read", fp, err)
	}
	return data, nil
}

// ListDir returns the direct children of a directory, sorted by name.
func (b *FSBackend) ListDir(ctx context.Context, p string) ([]backend.DirEntry, error) {
	fp, err := b.begin(ctx, p)
	if err != nil {
		return nil, err
	}

	infos, err := afero.ReadDir(b.fs, fp)
	if err != nil {
		return nil, wrapErr("readdir", fp, err)
	}

	entries := make([]backend.DirEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, backend.DirEntry{Name: info.Name(), IsDir: info.IsDir()})
	}
	return entries, nil
}

// MakeDir creates a directory (0755).
//
// Without Recursive the parent must exist. An existing directory is reported
// with ErrExists even in recursive mode, so callers can tell a no-op apart.
// A regular file at the path is ErrNotDir.
func (b *FSBackend) MakeDir(ctx context.Context, p string, opts backend.DirOptions) error {
	fp, err := b.begin(ctx, p)
	if err != nil {
		return err
	}

	if dir, statErr := isDir(b.fs, fp); statErr == nil {
		if dir {
			return fmt.Errorf("mkdir %s: %w", fp, backend.ErrExists)
		}
		return fmt.Errorf("mkdir %s: %w", fp, backend.ErrNotDir)
	}

	if opts.Recursive {
		err = b.fs.MkdirAll(fp, 0o755)
	} else {
		parent := backend.ParentPath(fp)
		if parent != "" && parent != "/" {
			if ok, _ := afero.DirExists(b.fs, parent); !ok {
				return fmt.Errorf("mkdir %s: parent missing: %w", fp, backend.ErrNotFound)
			}
		}
		err = b.fs.Mkdir(fp, 0o755)
	}
	if err != nil {
		return wrapErr("mkdir", fp, err)
	}
	return nil
}

// RemoveDir removes a directory.
//
// Without Recursive a non-empty directory is refused with ErrNotEmpty. With
// Force a missing directory is not an error.
func (b *FSBackend) RemoveDir(ctx context.Context, p string, opts backend.DirOptions) error {
	fp, err := b.begin(ctx, p)
	if err != nil {
		return err
	}

	dir, err := isDir(b.fs, fp)
	if err != nil {
		if opts.Force && os.IsNotExist(err) {
			return nil
		}
		return wrapErr("rmdir", fp, err)
	}
	if !dir {
		return fmt.Errorf("rmdir %s: not a directory", fp)
	}

	if opts.Recursive {
		if err := b.fs.RemoveAll(fp); err != nil {
			return wrapErr("rmdir", fp, err)
		}
		return nil
	}

	empty, err := afero.IsEmpty(b.fs, fp)
	if err != nil {
		return wrapErr("rmdir", fp, err)
	}
	if !empty {
		return fmt.Errorf("rmdir %s: %w", fp, backend.ErrNotEmpty)
	}

	if err := b.fs.Remove(fp); err != nil {
		return wrapErr("rmdir", fp, err)
	}
	return nil
}
