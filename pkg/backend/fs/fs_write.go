// Package fs implements the filesystem backend for shadowfs.
//
// This file contains write operations: full writes, appends, copies, renames
// and file removal.
package fs

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"

	"github.com/marmos91/shadowfs/pkg/backend"
)

// chunkSize bounds each write call so large payloads observe cancellation.
const chunkSize = 1 * 1024 * 1024

// WriteBytes creates or truncates a file and writes data to it.
//
// Context Cancellation:
// The context is checked before opening the file and before every 1MB chunk.
//
// Parameters:
//   - ctx: Context for cancellation
//   - p: Logical file path
//   - data: Complete file content
//   - opts: Mode and sync behavior
//
// Returns:
//   - error: Wraps ErrNotFound when the parent directory is missing and
//     ErrResourceExhausted when no handle could be opened
func (b *FSBackend) WriteBytes(ctx context.Context, p string, data []byte, opts backend.WriteOptions) error {
	fp, err := b.begin(ctx, p)
	if err != nil {
		return err
	}

	return b.writeFile(ctx, fp, data, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, opts)
}

// AppendBytes appends data to a file, creating it if needed.
func (b *FSBackend) AppendBytes(ctx context.Context, p string, data []byte, opts backend.WriteOptions) error {
	fp, err := b.begin(ctx, p)
	if err != nil {
		return err
	}

	return b.writeFile(ctx, fp, data, os.O_WRONLY|os.O_CREATE|os.O_APPEND, opts)
}

func (b *FSBackend) writeFile(ctx context.Context, fp string, data []byte, flag int, opts backend.WriteOptions) (retErr error) {
	file, err := b.fs.OpenFile(fp, flag, opts.FileMode())
	if err != nil {
		return wrapErr("open", fp, err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && retErr == nil {
			retErr = wrapErr("close", fp, closeErr)
		}
	}()

	for offset := 0; offset < len(data); offset += chunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(offset+chunkSize, len(data))
		if _, err := file.Write(data[offset:end]); err != nil {
			return wrapErr("write", fp, err)
		}
	}

	if opts.Sync {
		if err := file.Sync(); err != nil {
			return wrapErr("sync", fp, err)
		}
	}

	return nil
}

// CopyFile copies src to dst, overwriting dst. The destination keeps the
// permission bits of the source.
func (b *FSBackend) CopyFile(ctx context.Context, src, dst string) (retErr error) {
	srcPath, err := b.begin(ctx, src)
	if err != nil {
		return err
	}
	dstPath, err := b.resolve(dst)
	if err != nil {
		return err
	}

	in, err := b.fs.Open(srcPath)
	if err != nil {
		return wrapErr("open", srcPath, err)
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return wrapErr("stat", srcPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("copy %s: is a directory", srcPath)
	}

	out, err := b.fs.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return wrapErr("open", dstPath, err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && retErr == nil {
			retErr = wrapErr("close", dstPath, closeErr)
		}
	}()

	if _, err := io.Copy(out, ctxReader{ctx: ctx, r: in}); err != nil {
		return wrapErr("copy", dstPath, err)
	}
	return nil
}

// Rename moves src to dst.
func (b *FSBackend) Rename(ctx context.Context, src, dst string) error {
	srcPath, err := b.begin(ctx, src)
	if err != nil {
		return err
	}
	dstPath, err := b.resolve(dst)
	if err != nil {
		return err
	}

	if err := b.fs.Rename(srcPath, dstPath); err != nil {
		return wrapErr("rename", srcPath, err)
	}
	return nil
}

// RemoveFile removes a single file. Directories are refused.
func (b *FSBackend) RemoveFile(ctx context.Context, p string) error {
	fp, err := b.begin(ctx, p)
	if err != nil {
		return err
	}

	dir, err := isDir(b.fs, fp)
	if err != nil {
		return wrapErr("remove", fp, err)
	}
	if dir {
		return fmt.Errorf("remove %s: is a directory", fp)
	}

	if err := b.fs.Remove(fp); err != nil {
		return wrapErr("remove", fp, err)
	}
	return nil
}

// ctxReader stops a copy once the context is done.
type ctxReader struct {
	ctx context.Context
	r   afero.File
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
