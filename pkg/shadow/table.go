// Package shadow holds the in-memory model of which files and directories
// exist and which files carry unflushed changes.
//
// The table mirrors the durable backend on a best-effort basis. It never
// performs I/O against the backend; the cache layer keeps the two in step.
package shadow

import (
	"github.com/marmos91/shadowfs/pkg/backend"
)

// DirectoryEntry is a directory known to the cache.
type DirectoryEntry struct {
	// Path is the cleaned logical path
	Path string `json:"path"`

	// Children are the paths of the files and subdirectories it directly contains
	Children []string `json:"children,omitempty"`
}

// FileEntry is a file known to the cache.
type FileEntry struct {
	// Path is the cleaned logical path
	Path string `json:"path"`

	// Data is the payload. For structured entries it holds the codec encoding.
	Data []byte `json:"data,omitempty"`

	// Loaded is false for entries registered without payload
	Loaded bool `json:"loaded"`

	// Options are passed through to the backend when the entry is flushed
	Options backend.WriteOptions `json:"options"`

	// Structured marks Data as an encoded structured value
	Structured bool `json:"structured"`

	// Dirty marks changes not yet written to the backend
	Dirty bool `json:"dirty"`

	// ContentKey is the BLAKE3 digest of Data in keyed mode
	ContentKey string `json:"content_key,omitempty"`

	// Version is set from a table-wide counter on creation and on every
	// mutation, so it is never 0 and never reused for a path
	Version uint64 `json:"version"`
}

// Clone returns a deep copy of e.
func (e FileEntry) Clone() FileEntry {
	if e.Data != nil {
		e.Data = append([]byte(nil), e.Data...)
	}
	return e
}

// Snapshot is a detached copy of a path and everything registered below it.
// The cache layer takes one before a destructive change and restores it when
// the backend operation fails.
type Snapshot struct {
	// Root is the path the snapshot was taken at
	Root string

	// Parent is the directory Root was attached to, if any
	Parent string

	Dirs  []DirectoryEntry
	Files []FileEntry
}

// Empty reports whether the snapshot captured nothing.
func (s Snapshot) Empty() bool {
	return len(s.Dirs) == 0 && len(s.Files) == 0
}

// Table is the Shadow State Table capability.
//
// Implementations must be safe for concurrent use; every method is atomic
// with respect to the others. Missing entries never panic: lookups return
// false and mutations of absent paths are no-ops reporting false.
//
// All paths are normalized with backend.CleanPath, so "a//b/" and "a/b"
// address the same entry.
type Table interface {
	// AddDirectory creates an empty DirectoryEntry if absent and attaches it
	// to its parent when the parent is known.
	AddDirectory(path string)

	// RemoveDirectory removes a DirectoryEntry.
	//
	// Removal policy for a directory that still has children:
	//   - recursive: every nested DirectoryEntry and FileEntry goes with it
	//   - force (not recursive): the record and its direct files are
	//     dropped, nested directory records stay as orphans
	//   - neither: refused, nothing is removed, returns false
	//
	// An absent directory reports true.
	RemoveDirectory(path string, recursive, force bool) bool

	// AddFileToDirectory registers file as a child of parent. It does
	// nothing when parent is unknown.
	AddFileToDirectory(parent, file string)

	// AddFile creates an empty, clean FileEntry and registers it with its
	// parent, creating the parent DirectoryEntry when needed. An existing
	// entry is left untouched.
	AddFile(path string)

	// RemoveFile deletes the FileEntry and detaches it from its parent.
	RemoveFile(path string)

	// Contains reports whether path is a known directory or file.
	Contains(path string) bool

	// ContainsFile reports whether path is a known file. The token is the
	// content key in keyed mode (when one is set) and the path otherwise.
	ContainsFile(path string) (token string, ok bool)

	// Directory returns a copy of the DirectoryEntry at path.
	Directory(path string) (DirectoryEntry, bool)

	// Payload returns a copy of the FileEntry at path.
	Payload(path string) (FileEntry, bool)

	// PayloadByKey returns a copy of a FileEntry holding the content key.
	// Always false when keyed mode is off.
	PayloadByKey(key string) (FileEntry, bool)

	// SetPayload replaces payload, options and the structured flag and marks
	// the entry dirty, creating it when absent. It is the only way data
	// enters the dirty set.
	SetPayload(path string, data []byte, opts backend.WriteOptions, structured bool)

	// Populate stores payload read from the backend as a clean entry, but
	// only if the entry is still at version: the Version observed before the
	// read, or 0 when the entry was absent then and must still be absent.
	// A dirty entry is never overwritten. Reports whether data was stored.
	Populate(path string, data []byte, structured bool, version uint64) bool

	// MarkChanged force-sets the dirty flag without touching the payload.
	// Returns false when the file is unknown.
	MarkChanged(path string, dirty bool) bool

	// MarkSynced clears the dirty flag only if the entry is still at version.
	// A write that raced with the flush keeps the entry dirty.
	MarkSynced(path string, version uint64) bool

	// DirtyFiles returns copies of every dirty FileEntry, ordered by path.
	DirtyFiles() []FileEntry

	// CloneFile deep-copies the entry at src into a dirty entry at dst.
	// Returns false when src is unknown.
	CloneFile(src, dst string) bool

	// Children returns the direct children of a directory, ordered.
	Children(path string) []string

	// Files returns every known file path, ordered.
	Files() []string

	// Snapshot captures path and everything registered below it.
	Snapshot(path string) Snapshot

	// Restore reinserts a snapshot verbatim, including dirty flags and
	// versions.
	Restore(s Snapshot)

	// Close releases resources held by the table.
	Close() error
}
