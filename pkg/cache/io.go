package cache

import (
	"bytes"
	"context"
	"errors"
	"reflect"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/pkg/backend"
)

// errNotPointer is returned when a structured read target cannot be written.
var errNotPointer = errors.New("decode target must be a non-nil pointer")

// ============================================================================
// Write-through
// ============================================================================

// WriteString writes s to path on the backend and in the shadow table.
func (c *FileCache) WriteString(ctx context.Context, path, s string, opts backend.WriteOptions) bool {
	return c.WriteBytes(ctx, path, []byte(s), opts)
}

// WriteBytes writes data to path on the backend and in the shadow table.
//
// The entry is clean once the call returns true. On failure the previous
// entry (or its absence) is restored. The parent directory must exist on the
// backend; use OutputString to create it.
func (c *FileCache) WriteBytes(ctx context.Context, path string, data []byte, opts backend.WriteOptions) bool {
	return c.writeOut(ctx, path, bytes.Clone(data), opts, false)
}

// WriteStructured encodes v with the cache codec and writes it through.
// An encoding error returns false without touching the table or backend.
func (c *FileCache) WriteStructured(ctx context.Context, path string, v any, opts backend.WriteOptions) bool {
	data, err := c.codec.Marshal(v)
	if err != nil {
		logger.Warn("cache %s %s: encode %s: %v", opWrite, path, c.codec.Name(), err)
		return false
	}
	return c.writeOut(ctx, path, data, opts, true)
}

func (c *FileCache) writeOut(ctx context.Context, path string, data []byte, opts backend.WriteOptions, structured bool) bool {
	p, err := clean(path)
	if err != nil {
		return c.settle(opWrite, path, err, nil)
	}

	unlock := c.lockPaths(p)
	err = c.writeThrough(ctx, p, data, opts, structured)
	unlock()

	return c.settle(opWrite, p, err, func(ctx context.Context) bool {
		return c.writeOut(ctx, p, data, opts, structured)
	})
}

func (c *FileCache) writeThrough(ctx context.Context, p string, data []byte, opts backend.WriteOptions, structured bool) error {
	u := c.capture(p)
	c.table.SetPayload(p, data, opts, structured)
	entry, _ := c.table.Payload(p)

	err := c.do(opWrite, func() error {
		return c.backend.WriteBytes(ctx, p, data, opts)
	})
	if err != nil {
		c.rollback(u)
		return err
	}

	c.table.MarkSynced(p, entry.Version)
	return nil
}

// AppendString appends s to the file at path, creating it if needed.
func (c *FileCache) AppendString(ctx context.Context, path, s string, opts backend.WriteOptions) bool {
	return c.AppendBytes(ctx, path, []byte(s), opts)
}

// AppendBytes appends data to the file at path, creating it if needed.
//
// A loaded entry is extended in place. An entry that was never read stays
// unloaded: the cache does not know the rest of the file.
func (c *FileCache) AppendBytes(ctx context.Context, path string, data []byte, opts backend.WriteOptions) bool {
	p, err := clean(path)
	if err != nil {
		return c.settle(opAppend, path, err, nil)
	}
	data = bytes.Clone(data)

	unlock := c.lockPaths(p)
	err = c.appendBytes(ctx, p, data, opts)
	unlock()

	return c.settle(opAppend, p, err, func(ctx context.Context) bool {
		return c.AppendBytes(ctx, p, data, opts)
	})
}

func (c *FileCache) appendBytes(ctx context.Context, p string, data []byte, opts backend.WriteOptions) error {
	u := c.capture(p)

	before, known := c.table.Payload(p)
	switch {
	case known && before.Loaded:
		c.table.SetPayload(p, append(before.Data, data...), opts, false)
	case !known:
		c.table.AddFile(p)
	}
	after, _ := c.table.Payload(p)

	err := c.do(opAppend, func() error {
		return c.backend.AppendBytes(ctx, p, data, opts)
	})
	if err != nil {
		c.rollback(u)
		return err
	}

	// A dirty entry differs from the backend by more than this append.
	if known && before.Loaded && !before.Dirty {
		c.table.MarkSynced(p, after.Version)
	}
	return nil
}

// ============================================================================
// Cache-aside reads
// ============================================================================

// ReadString returns the content of path as a string. The second result is
// false when the file cannot be read (including when it does not exist).
func (c *FileCache) ReadString(ctx context.Context, path string) (string, bool) {
	data, ok := c.ReadBytes(ctx, path)
	if !ok {
		return "", false
	}
	return string(data), true
}

// ReadBytes returns the content of path.
//
// A loaded entry is returned without backend I/O. On a miss the backend is
// read and the result stored as a clean entry.
func (c *FileCache) ReadBytes(ctx context.Context, path string) ([]byte, bool) {
	return c.read(ctx, path, false)
}

// ReadStructured decodes the content of path into v, which must be a
// non-nil pointer. A payload the codec cannot decode returns false and
// leaves v untouched.
func (c *FileCache) ReadStructured(ctx context.Context, path string, v any) bool {
	data, ok := c.read(ctx, path, true)
	if !ok {
		return false
	}
	if err := c.decode(data, v); err != nil {
		logger.Warn("cache %s %s: decode %s: %v", opRead, path, c.codec.Name(), err)
		return false
	}
	return true
}

func (c *FileCache) read(ctx context.Context, path string, structured bool) ([]byte, bool) {
	p, err := clean(path)
	if err != nil {
		return nil, c.settle(opRead, path, err, nil)
	}

	e, err := c.load(ctx, p, structured)
	if err != nil {
		if backend.IsNotFound(err) {
			logger.Debug("cache %s %s: %v", opRead, p, err)
			return nil, false
		}
		return nil, c.settle(opRead, p, err, nil)
	}
	return e.Data, true
}

// RawRead reads path straight from the backend, bypassing the shadow table.
// Unlike the other operations it returns the backend error, so callers can
// tell a missing file (backend.ErrNotFound) from an empty one.
func (c *FileCache) RawRead(ctx context.Context, path string) ([]byte, error) {
	p, err := clean(path)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = c.do(opRead, func() error {
		var rerr error
		data, rerr = c.backend.ReadBytes(ctx, p)
		return rerr
	})
	return data, err
}

// RawReadStructured reads path straight from the backend and decodes it
// into v. Backend and codec errors are returned; v is untouched on error.
func (c *FileCache) RawReadStructured(ctx context.Context, path string, v any) error {
	data, err := c.RawRead(ctx, path)
	if err != nil {
		return err
	}
	return c.decode(data, v)
}

// decode unmarshals into a fresh value and only assigns it to v on success.
func (c *FileCache) decode(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errNotPointer
	}

	scratch := reflect.New(rv.Elem().Type())
	if err := c.codec.Unmarshal(data, scratch.Interface()); err != nil {
		return err
	}
	rv.Elem().Set(scratch.Elem())
	return nil
}

// ============================================================================
// Write-back staging
// ============================================================================

// SetPayload stages data for path without touching the backend. The entry
// becomes dirty and is written by the next SyncFiles.
func (c *FileCache) SetPayload(path string, data []byte, opts backend.WriteOptions, structured bool) bool {
	p, err := clean(path)
	if err != nil {
		return c.settle(opWrite, path, err, nil)
	}

	unlock := c.lockPaths(p)
	defer unlock()

	c.table.SetPayload(p, data, opts, structured)
	return true
}

// SetStructured encodes v and stages it like SetPayload.
func (c *FileCache) SetStructured(path string, v any, opts backend.WriteOptions) bool {
	data, err := c.codec.Marshal(v)
	if err != nil {
		logger.Warn("cache %s %s: encode %s: %v", opWrite, path, c.codec.Name(), err)
		return false
	}
	return c.SetPayload(path, data, opts, true)
}

// MarkChanged sets or clears the dirty flag of a known file without
// changing its payload. Returns false for unknown files.
func (c *FileCache) MarkChanged(path string, dirty bool) bool {
	p := backend.CleanPath(path)
	if p == "" {
		return false
	}

	unlock := c.lockPaths(p)
	defer unlock()

	return c.table.MarkChanged(p, dirty)
}

// ============================================================================
// Ensured output
// ============================================================================

// OutputString creates the directories leading to path (under base, which
// may be empty) and writes s to the file.
func (c *FileCache) OutputString(ctx context.Context, path, s string, opts backend.WriteOptions, base string) bool {
	fp, ok := c.EnsureDirectories(ctx, path, base, true)
	if !ok {
		return false
	}
	return c.WriteString(ctx, fp, s, opts)
}

// OutputAppendString creates the directories leading to path and appends s.
func (c *FileCache) OutputAppendString(ctx context.Context, path, s string, opts backend.WriteOptions, base string) bool {
	fp, ok := c.EnsureDirectories(ctx, path, base, true)
	if !ok {
		return false
	}
	return c.AppendString(ctx, fp, s, opts)
}

// OutputStructured creates the directories leading to path and writes v.
func (c *FileCache) OutputStructured(ctx context.Context, path string, v any, opts backend.WriteOptions, base string) bool {
	fp, ok := c.EnsureDirectories(ctx, path, base, true)
	if !ok {
		return false
	}
	return c.WriteStructured(ctx, fp, v, opts)
}
