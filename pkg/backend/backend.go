package backend

import (
	"context"
	"io/fs"
	"path"
	"strings"
)

// ============================================================================
// Backend Interface
// ============================================================================

// Backend is the durable storage driver underneath a shadowfs cache.
//
// A Backend performs the actual create/remove/read/write/copy operations on
// files and directories. It keeps no cache state of its own: the write-back
// cache layer (pkg/cache) calls it and maintains the shadow model of what
// exists and what is dirty.
//
// Paths:
// All paths are logical, slash-separated paths (e.g. "records/users/42.json").
// Implementations map them onto their storage (a directory tree rooted at a
// base path, a bucket with an optional key prefix, an in-memory tree).
//
// Failure Signaling:
// Implementations wrap the sentinel errors from errors.go so that callers can
// distinguish the three conditions the cache layer treats specially:
//   - ErrNotFound: the target path is absent
//   - ErrResourceExhausted: the backend cannot open more handles right now
//   - ErrExists: creation of something that is already there
//
// Every other failure is an ordinary error.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
// Concurrent mutations of the same path have last-writer-wins semantics at
// best; the cache layer serializes same-path operations itself.
type Backend interface {
	// MakeDir creates a directory. Without Recursive the parent must exist.
	//
	// Returns an error wrapping ErrExists if the directory is already there,
	// and ErrNotDir if a regular file occupies the path.
	MakeDir(ctx context.Context, path string, opts DirOptions) error

	// RemoveDir removes a directory.
	//
	// Without Recursive a non-empty directory is refused with ErrNotEmpty.
	// With Force a missing directory is not an error.
	RemoveDir(ctx context.Context, path string, opts DirOptions) error

	// RemoveFile removes a single file. Missing files return ErrNotFound.
	RemoveFile(ctx context.Context, path string) error

	// ReadBytes returns the whole content of a file.
	//
	// Returns an error wrapping ErrNotFound if the file does not exist.
	ReadBytes(ctx context.Context, path string) ([]byte, error)

	// WriteBytes creates or truncates a file and writes data to it.
	WriteBytes(ctx context.Context, path string, data []byte, opts WriteOptions) error

	// AppendBytes appends data to a file, creating it if needed.
	AppendBytes(ctx context.Context, path string, data []byte, opts WriteOptions) error

	// CopyFile copies src to dst, overwriting dst.
	CopyFile(ctx context.Context, src, dst string) error

	// Rename moves src to dst, overwriting dst.
	Rename(ctx context.Context, src, dst string) error

	// ListDir returns the direct children of a directory.
	//
	// The cache layer treats any error as an empty listing.
	ListDir(ctx context.Context, path string) ([]DirEntry, error)

	// Exists reports whether path is present and accessible with the given
	// access mode. It never returns an error: failures read as false.
	Exists(ctx context.Context, path string, access Access) bool

	// Close releases backend resources.
	Close() error
}

// DirOptions controls directory creation and removal.
type DirOptions struct {
	// Recursive creates missing parents (MakeDir) or removes contents (RemoveDir)
	Recursive bool

	// Force ignores a missing directory on removal
	Force bool
}

// WriteOptions is the opaque configuration bag passed through to the backend
// when a file is written. Zero values select backend defaults.
type WriteOptions struct {
	// Mode is the permission mode for newly created files (default 0644)
	Mode fs.FileMode `mapstructure:"mode" json:"mode,omitempty"`

	// Sync flushes the file to stable storage before returning
	Sync bool `mapstructure:"sync" json:"sync,omitempty"`

	// ContentType is recorded by object stores that keep a MIME type
	ContentType string `mapstructure:"content_type" json:"content_type,omitempty"`
}

// FileMode returns Mode or the default file mode.
func (o WriteOptions) FileMode() fs.FileMode {
	if o.Mode == 0 {
		return 0o644
	}
	return o.Mode
}

// DirEntry is one child returned by ListDir.
type DirEntry struct {
	Name  string
	IsDir bool
}

// Access is the set of permissions an existence check requires.
type Access uint8

const (
	// AccessExist only checks presence
	AccessExist Access = 0

	// AccessRead requires the path to be readable
	AccessRead Access = 1 << iota

	// AccessWrite requires the path to be writable
	AccessWrite
)

// AccessReadWrite is the default access mode used by the cache layer.
const AccessReadWrite = AccessRead | AccessWrite

// Has reports whether a includes every bit of other.
func (a Access) Has(other Access) bool {
	return a&other == other
}

// CleanPath normalizes a logical path: slashes only, no trailing slash,
// "." and ".." resolved. An absolute path stays absolute.
func CleanPath(p string) string {
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	return path.Clean(p)
}

// ParentPath returns the logical parent of p, or "" for a top-level relative
// name. The parent of "/x" is "/".
func ParentPath(p string) string {
	p = CleanPath(p)
	dir := path.Dir(p)
	if dir == "." {
		return ""
	}
	return dir
}

// JoinPath joins logical path elements, skipping empty ones.
func JoinPath(elem ...string) string {
	parts := make([]string, 0, len(elem))
	for _, e := range elem {
		if e != "" {
			parts = append(parts, e)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return path.Join(parts...)
}
