package shadow

import (
	"slices"
	"strings"
	"sync"

	"github.com/marmos91/shadowfs/pkg/backend"
)

// MemoryTable is the default Table, held entirely in process memory.
//
// Thread Safety:
// A single RWMutex guards all maps. Every method takes the lock once, so each
// call is atomic.
type MemoryTable struct {
	mu    sync.RWMutex
	dirs  map[string]map[string]struct{}
	files map[string]*FileEntry

	// byKey indexes file paths by content key (keyed mode only)
	byKey map[string]map[string]struct{}
	keyed bool

	// clock hands out entry versions; it never goes back, so a path that is
	// removed and registered again does not repeat an old version
	clock uint64
}

// NewMemoryTable creates an empty table.
func NewMemoryTable(opts ...Option) *MemoryTable {
	o := ApplyOptions(opts...)
	return &MemoryTable{
		dirs:  make(map[string]map[string]struct{}),
		files: make(map[string]*FileEntry),
		byKey: make(map[string]map[string]struct{}),
		keyed: o.ContentKeys,
	}
}

// ============================================================================
// Directories
// ============================================================================

// AddDirectory registers path as a directory and links it to a known parent.
func (t *MemoryTable) AddDirectory(path string) {
	path = backend.CleanPath(path)
	if path == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.addDirLocked(path)
}

func (t *MemoryTable) addDirLocked(path string) {
	if _, ok := t.dirs[path]; !ok {
		t.dirs[path] = make(map[string]struct{})
	}
	if parent := Parent(path); parent != "" {
		if children, ok := t.dirs[parent]; ok {
			children[path] = struct{}{}
		}
	}
}

// RemoveDirectory drops the directory. A non-empty directory is kept unless
// recursive (whole subtree) or force (direct children) is set.
func (t *MemoryTable) RemoveDirectory(path string, recursive, force bool) bool {
	path = backend.CleanPath(path)

	t.mu.Lock()
	defer t.mu.Unlock()

	children, ok := t.dirs[path]
	if !ok {
		return true
	}

	switch {
	case recursive:
		for d := range t.dirs {
			if IsUnder(d, path) {
				delete(t.dirs, d)
			}
		}
		for f := range t.files {
			if IsUnder(f, path) {
				t.deleteFileLocked(f)
			}
		}
	case force:
		for child := range children {
			if _, isFile := t.files[child]; isFile {
				t.deleteFileLocked(child)
			}
		}
	case len(children) > 0:
		return false
	}

	delete(t.dirs, path)
	t.detachLocked(path)
	return true
}

// AddFileToDirectory links file under parent when parent is known.
func (t *MemoryTable) AddFileToDirectory(parent, file string) {
	parent, file = backend.CleanPath(parent), backend.CleanPath(file)

	t.mu.Lock()
	defer t.mu.Unlock()

	if children, ok := t.dirs[parent]; ok && file != "" {
		children[file] = struct{}{}
	}
}

// Directory returns the directory entry with its children.
func (t *MemoryTable) Directory(path string) (DirectoryEntry, bool) {
	path = backend.CleanPath(path)

	t.mu.RLock()
	defer t.mu.RUnlock()

	children, ok := t.dirs[path]
	if !ok {
		return DirectoryEntry{}, false
	}
	return DirectoryEntry{Path: path, Children: sortedKeys(children)}, true
}

// Children lists the direct children of path, sorted.
func (t *MemoryTable) Children(path string) []string {
	path = backend.CleanPath(path)

	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.dirs[path])
}

// ============================================================================
// Files
// ============================================================================

// AddFile registers an unloaded entry at path, creating its parent directory.
func (t *MemoryTable) AddFile(path string) {
	path = backend.CleanPath(path)
	if path == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.addFileLocked(path)
}

func (t *MemoryTable) addFileLocked(path string) *FileEntry {
	if e, ok := t.files[path]; ok {
		return e
	}

	if parent := Parent(path); parent != "" {
		t.addDirLocked(parent)
		t.dirs[parent][path] = struct{}{}
	}

	e := &FileEntry{Path: path, Version: t.tickLocked()}
	t.files[path] = e
	return e
}

func (t *MemoryTable) tickLocked() uint64 {
	t.clock++
	return t.clock
}

// RemoveFile drops the entry and unlinks it from its parent.
func (t *MemoryTable) RemoveFile(path string) {
	path = backend.CleanPath(path)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.files[path]; ok {
		t.deleteFileLocked(path)
		t.detachLocked(path)
	}
}

// deleteFileLocked drops the entry and its key index without touching the
// parent's children.
func (t *MemoryTable) deleteFileLocked(path string) {
	if e, ok := t.files[path]; ok {
		t.unindexLocked(e)
		delete(t.files, path)
	}
}

// detachLocked removes path from its parent's children.
func (t *MemoryTable) detachLocked(path string) {
	if parent := Parent(path); parent != "" {
		if children, ok := t.dirs[parent]; ok {
			delete(children, path)
		}
	}
}

// Contains reports whether path is a known directory or file.
func (t *MemoryTable) Contains(path string) bool {
	path = backend.CleanPath(path)

	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.dirs[path]; ok {
		return true
	}
	_, ok := t.files[path]
	return ok
}

// ContainsFile returns the content key of a known file, or its path when
// keyed mode is off.
func (t *MemoryTable) ContainsFile(path string) (string, bool) {
	path = backend.CleanPath(path)

	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.files[path]
	if !ok {
		return "", false
	}
	if t.keyed && e.ContentKey != "" {
		return e.ContentKey, true
	}
	return path, true
}

// Files lists every file path, sorted.
func (t *MemoryTable) Files() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.files))
	for p := range t.files {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// ============================================================================
// Payload
// ============================================================================

// Payload returns a copy of the entry at path.
func (t *MemoryTable) Payload(path string) (FileEntry, bool) {
	path = backend.CleanPath(path)

	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.files[path]
	if !ok {
		return FileEntry{}, false
	}
	return e.Clone(), true
}

// PayloadByKey returns a copy of an entry holding the content key.
func (t *MemoryTable) PayloadByKey(key string) (FileEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for p := range t.byKey[key] {
		if e, ok := t.files[p]; ok {
			return e.Clone(), true
		}
	}
	return FileEntry{}, false
}

// SetPayload stages data as a dirty entry at a new version.
func (t *MemoryTable) SetPayload(path string, data []byte, opts backend.WriteOptions, structured bool) {
	path = backend.CleanPath(path)
	if path == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.addFileLocked(path)
	e.Data = append([]byte(nil), data...)
	e.Loaded = true
	e.Options = opts
	e.Structured = structured
	e.Dirty = true
	e.Version = t.tickLocked()
	t.reindexLocked(e)
}

// Populate stores data only while the entry is still at version (0 for an
// entry that must still be absent).
func (t *MemoryTable) Populate(path string, data []byte, structured bool, version uint64) bool {
	path = backend.CleanPath(path)
	if path == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.files[path]
	switch {
	case !ok && version != 0, ok && (e.Version != version || e.Dirty):
		return false
	case !ok:
		e = t.addFileLocked(path)
	}

	e.Data = append([]byte(nil), data...)
	e.Loaded = true
	e.Structured = structured
	e.Version = t.tickLocked()
	t.reindexLocked(e)
	return true
}

// MarkChanged sets the dirty flag. Setting it moves the entry to a new version.
func (t *MemoryTable) MarkChanged(path string, dirty bool) bool {
	path = backend.CleanPath(path)

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.files[path]
	if !ok {
		return false
	}
	e.Dirty = dirty
	if dirty {
		e.Version = t.tickLocked()
	}
	return true
}

// MarkSynced clears the dirty flag if the entry is still at version.
func (t *MemoryTable) MarkSynced(path string, version uint64) bool {
	path = backend.CleanPath(path)

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.files[path]
	if !ok || e.Version != version {
		return false
	}
	e.Dirty = false
	return true
}

// DirtyFiles returns copies of every dirty entry, ordered by path.
func (t *MemoryTable) DirtyFiles() []FileEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []FileEntry
	for _, e := range t.files {
		if e.Dirty {
			out = append(out, e.Clone())
		}
	}
	slices.SortFunc(out, byPath)
	return out
}

// CloneFile deep-copies the entry at src into a dirty entry at dst.
func (t *MemoryTable) CloneFile(src, dst string) bool {
	src, dst = backend.CleanPath(src), backend.CleanPath(dst)
	if dst == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	from, ok := t.files[src]
	if !ok {
		return false
	}
	copied := from.Clone()

	to := t.addFileLocked(dst)
	version := t.tickLocked()
	t.unindexLocked(to)
	*to = copied
	to.Path = dst
	to.Dirty = true
	to.Version = version
	t.reindexLocked(to)
	return true
}

// ============================================================================
// Snapshot / Restore
// ============================================================================

// Snapshot captures path and everything below it.
func (t *MemoryTable) Snapshot(path string) Snapshot {
	path = backend.CleanPath(path)

	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Snapshot{Root: path}
	if parent := Parent(path); parent != "" {
		if _, attached := t.dirs[parent][path]; attached {
			s.Parent = parent
		}
	}

	if e, ok := t.files[path]; ok {
		s.Files = append(s.Files, e.Clone())
	}

	if _, ok := t.dirs[path]; !ok {
		return s
	}

	for d, children := range t.dirs {
		if d == path || IsUnder(d, path) {
			s.Dirs = append(s.Dirs, DirectoryEntry{Path: d, Children: sortedKeys(children)})
		}
	}
	for f, e := range t.files {
		if IsUnder(f, path) {
			s.Files = append(s.Files, e.Clone())
		}
	}
	return s
}

// Restore puts the snapshot contents back.
func (t *MemoryTable) Restore(s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, d := range s.Dirs {
		children, ok := t.dirs[d.Path]
		if !ok {
			children = make(map[string]struct{}, len(d.Children))
			t.dirs[d.Path] = children
		}
		for _, c := range d.Children {
			children[c] = struct{}{}
		}
	}

	for _, f := range s.Files {
		if old, ok := t.files[f.Path]; ok {
			t.unindexLocked(old)
		}
		e := f.Clone()
		t.files[f.Path] = &e
		t.indexLocked(&e)
		t.clock = max(t.clock, e.Version)
	}

	if s.Parent != "" && s.Root != "" {
		if children, ok := t.dirs[s.Parent]; ok {
			children[s.Root] = struct{}{}
		}
	}
}

// Close is a no-op; the table holds no external resources.
func (t *MemoryTable) Close() error {
	return nil
}

// ============================================================================
// Content key index
// ============================================================================

// reindexLocked recomputes the content key of e and updates the index.
func (t *MemoryTable) reindexLocked(e *FileEntry) {
	if !t.keyed {
		return
	}
	t.unindexLocked(e)
	e.ContentKey = ContentKey(e.Data)
	t.indexLocked(e)
}

func (t *MemoryTable) indexLocked(e *FileEntry) {
	if !t.keyed || e.ContentKey == "" {
		return
	}
	paths, ok := t.byKey[e.ContentKey]
	if !ok {
		paths = make(map[string]struct{})
		t.byKey[e.ContentKey] = paths
	}
	paths[e.Path] = struct{}{}
}

func (t *MemoryTable) unindexLocked(e *FileEntry) {
	if !t.keyed || e.ContentKey == "" {
		return
	}
	if paths, ok := t.byKey[e.ContentKey]; ok {
		delete(paths, e.Path)
		if len(paths) == 0 {
			delete(t.byKey, e.ContentKey)
		}
	}
}

func byPath(a, b FileEntry) int {
	return strings.Compare(a.Path, b.Path)
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

var _ Table = (*MemoryTable)(nil)
