package badger

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/marmos91/shadowfs/pkg/backend"
	"github.com/marmos91/shadowfs/pkg/shadow"
)

// ============================================================================
// Directories
// ============================================================================

// AddDirectory registers path as a directory, linking it to a known parent.
func (t *Table) AddDirectory(path string) {
	path = normalize(path)
	if path == "" {
		return
	}
	t.update("add directory", func(txn *badger.Txn) error {
		return addDir(txn, path)
	})
}

// RemoveDirectory drops the directory. See shadow.Table for the recursive and
// force semantics.
func (t *Table) RemoveDirectory(path string, recursive, force bool) bool {
	path = normalize(path)

	return t.update("remove directory", func(txn *badger.Txn) error {
		ok, err := exists(txn, dirKey(path))
		if err != nil || !ok {
			return err
		}

		direct := children(txn, path)

		switch {
		case recursive:
			sub := subtreePrefix(path)
			for _, k := range scanKeys(txn, dirKey(sub)) {
				d := string(k[len(prefixDir):])
				if err := deleteChildren(txn, d); err != nil {
					return err
				}
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			files, err := scanFiles(txn, sub)
			if err != nil {
				return err
			}
			for i := range files {
				if err := t.deleteFile(txn, &files[i]); err != nil {
					return err
				}
			}
		case force:
			for _, child := range direct {
				e, err := getFile(txn, child)
				if err != nil {
					return err
				}
				if e != nil {
					if err := t.deleteFile(txn, e); err != nil {
						return err
					}
				}
			}
		case len(direct) > 0:
			return errAbsent
		}

		if err := deleteChildren(txn, path); err != nil {
			return err
		}
		if err := txn.Delete(dirKey(path)); err != nil {
			return err
		}
		return detach(txn, path)
	})
}

func deleteChildren(txn *badger.Txn, dir string) error {
	for _, k := range scanKeys(txn, childPrefix(dir)) {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// AddFileToDirectory links file under parent when parent is known.
func (t *Table) AddFileToDirectory(parent, file string) {
	parent, file = normalize(parent), normalize(file)
	if file == "" {
		return
	}
	t.update("add file to directory", func(txn *badger.Txn) error {
		ok, err := exists(txn, dirKey(parent))
		if err != nil || !ok {
			return err
		}
		return txn.Set(childKey(parent, file), nil)
	})
}

// Directory returns the directory entry with its children.
func (t *Table) Directory(path string) (shadow.DirectoryEntry, bool) {
	path = normalize(path)

	var entry shadow.DirectoryEntry
	found := t.view("directory", func(txn *badger.Txn) error {
		ok, err := exists(txn, dirKey(path))
		if err != nil {
			return err
		}
		if !ok {
			return errAbsent
		}
		entry = shadow.DirectoryEntry{Path: path, Children: children(txn, path)}
		return nil
	})
	return entry, found
}

// Children lists the direct children of path.
func (t *Table) Children(path string) []string {
	path = normalize(path)

	var out []string
	t.view("children", func(txn *badger.Txn) error {
		out = children(txn, path)
		return nil
	})
	return out
}

// ============================================================================
// Files
// ============================================================================

// AddFile registers an unloaded entry at path and its parent directory.
func (t *Table) AddFile(path string) {
	path = normalize(path)
	if path == "" {
		return
	}
	t.update("add file", func(txn *badger.Txn) error {
		_, err := t.addFile(txn, path)
		return err
	})
}

// RemoveFile drops the entry and unlinks it from its parent.
func (t *Table) RemoveFile(path string) {
	path = normalize(path)
	t.update("remove file", func(txn *badger.Txn) error {
		e, err := getFile(txn, path)
		if err != nil || e == nil {
			return err
		}
		if err := t.deleteFile(txn, e); err != nil {
			return err
		}
		return detach(txn, path)
	})
}

// Contains reports whether path is a known directory or file.
func (t *Table) Contains(path string) bool {
	path = normalize(path)

	var found bool
	t.view("contains", func(txn *badger.Txn) error {
		ok, err := exists(txn, dirKey(path))
		if err != nil || ok {
			found = ok
			return err
		}
		found, err = exists(txn, fileKey(path))
		return err
	})
	return found
}

// ContainsFile returns the content key of a known file, or its path when
// keyed mode is off.
func (t *Table) ContainsFile(path string) (string, bool) {
	e, ok := t.Payload(path)
	if !ok {
		return "", false
	}
	if t.keyed && e.ContentKey != "" {
		return e.ContentKey, true
	}
	return e.Path, true
}

// Files lists every file path, sorted.
func (t *Table) Files() []string {
	var out []string
	t.view("files", func(txn *badger.Txn) error {
		for _, k := range scanKeys(txn, []byte(prefixFile)) {
			out = append(out, string(k[len(prefixFile):]))
		}
		return nil
	})
	return out
}

// ============================================================================
// Payload
// ============================================================================

// Payload returns a copy of the entry at path.
func (t *Table) Payload(path string) (shadow.FileEntry, bool) {
	path = normalize(path)

	var entry shadow.FileEntry
	found := t.view("payload", func(txn *badger.Txn) error {
		e, err := getFile(txn, path)
		if err != nil {
			return err
		}
		if e == nil {
			return errAbsent
		}
		entry = *e
		return nil
	})
	return entry, found
}

// PayloadByKey returns an entry holding the content key.
func (t *Table) PayloadByKey(key string) (shadow.FileEntry, bool) {
	if !t.keyed || key == "" {
		return shadow.FileEntry{}, false
	}

	var entry shadow.FileEntry
	found := t.view("payload by key", func(txn *badger.Txn) error {
		for _, k := range scanKeys(txn, indexPrefix(key)) {
			e, err := getFile(txn, afterSep(k[len(prefixKeyIndex):]))
			if err != nil {
				return err
			}
			if e != nil {
				entry = *e
				return nil
			}
		}
		return errAbsent
	})
	return entry, found
}

// SetPayload stages data as a dirty entry at a new version.
func (t *Table) SetPayload(path string, data []byte, opts backend.WriteOptions, structured bool) {
	path = normalize(path)
	if path == "" {
		return
	}
	t.update("set payload", func(txn *badger.Txn) error {
		e, err := t.addFile(txn, path)
		if err != nil {
			return err
		}
		e.Data = append([]byte(nil), data...)
		e.Loaded = true
		e.Options = opts
		e.Structured = structured
		e.Dirty = true
		e.Version = t.tick()
		if err := t.reindex(txn, e); err != nil {
			return err
		}
		return putFile(txn, e)
	})
}

// Populate stores data only while the entry is still at version (0 for an
// entry that must still be absent).
func (t *Table) Populate(path string, data []byte, structured bool, version uint64) bool {
	path = normalize(path)
	if path == "" {
		return false
	}
	return t.update("populate", func(txn *badger.Txn) error {
		e, err := getFile(txn, path)
		if err != nil {
			return err
		}
		switch {
		case e == nil && version != 0, e != nil && (e.Version != version || e.Dirty):
			return errAbsent
		case e == nil:
			if e, err = t.addFile(txn, path); err != nil {
				return err
			}
		}
		e.Data = append([]byte(nil), data...)
		e.Loaded = true
		e.Structured = structured
		e.Version = t.tick()
		if err := t.reindex(txn, e); err != nil {
			return err
		}
		return putFile(txn, e)
	})
}

// MarkChanged sets the dirty flag; setting it moves the entry to a new version.
func (t *Table) MarkChanged(path string, dirty bool) bool {
	path = normalize(path)
	return t.update("mark changed", func(txn *badger.Txn) error {
		e, err := getFile(txn, path)
		if err != nil {
			return err
		}
		if e == nil {
			return errAbsent
		}
		e.Dirty = dirty
		if dirty {
			e.Version = t.tick()
		}
		return putFile(txn, e)
	})
}

// MarkSynced clears the dirty flag if the entry is still at version.
func (t *Table) MarkSynced(path string, version uint64) bool {
	path = normalize(path)
	return t.update("mark synced", func(txn *badger.Txn) error {
		e, err := getFile(txn, path)
		if err != nil {
			return err
		}
		if e == nil || e.Version != version {
			return errAbsent
		}
		e.Dirty = false
		return putFile(txn, e)
	})
}

// DirtyFiles returns every dirty entry, ordered by path.
func (t *Table) DirtyFiles() []shadow.FileEntry {
	var out []shadow.FileEntry
	t.view("dirty files", func(txn *badger.Txn) error {
		files, err := scanFiles(txn, "")
		if err != nil {
			return err
		}
		for _, e := range files {
			if e.Dirty {
				out = append(out, e)
			}
		}
		return nil
	})
	return out
}

// CloneFile copies the entry at src into a dirty entry at dst.
func (t *Table) CloneFile(src, dst string) bool {
	src, dst = normalize(src), normalize(dst)
	if dst == "" {
		return false
	}

	return t.update("clone file", func(txn *badger.Txn) error {
		from, err := getFile(txn, src)
		if err != nil {
			return err
		}
		if from == nil {
			return errAbsent
		}

		to, err := t.addFile(txn, dst)
		if err != nil {
			return err
		}
		version := t.tick()
		if err := t.unindex(txn, to); err != nil {
			return err
		}

		copied := from.Clone()
		copied.Path = dst
		copied.Dirty = true
		copied.Version = version
		copied.ContentKey = ""
		if err := t.reindex(txn, &copied); err != nil {
			return err
		}
		return putFile(txn, &copied)
	})
}

// ============================================================================
// Snapshot / Restore
// ============================================================================

// Snapshot captures path and everything below it.
func (t *Table) Snapshot(path string) shadow.Snapshot {
	path = normalize(path)
	s := shadow.Snapshot{Root: path}

	t.view("snapshot", func(txn *badger.Txn) error {
		if parent := shadow.Parent(path); parent != "" {
			ok, err := exists(txn, childKey(parent, path))
			if err != nil {
				return err
			}
			if ok {
				s.Parent = parent
			}
		}

		e, err := getFile(txn, path)
		if err != nil {
			return err
		}
		if e != nil {
			s.Files = append(s.Files, *e)
		}

		ok, err := exists(txn, dirKey(path))
		if err != nil || !ok {
			return err
		}

		s.Dirs = append(s.Dirs, shadow.DirectoryEntry{Path: path, Children: children(txn, path)})
		sub := subtreePrefix(path)
		for _, k := range scanKeys(txn, dirKey(sub)) {
			d := string(k[len(prefixDir):])
			s.Dirs = append(s.Dirs, shadow.DirectoryEntry{Path: d, Children: children(txn, d)})
		}

		files, err := scanFiles(txn, sub)
		if err != nil {
			return err
		}
		s.Files = append(s.Files, files...)
		return nil
	})
	return s
}

// Restore writes a snapshot back.
func (t *Table) Restore(s shadow.Snapshot) {
	t.update("restore", func(txn *badger.Txn) error {
		for _, d := range s.Dirs {
			if err := txn.Set(dirKey(d.Path), nil); err != nil {
				return err
			}
			for _, c := range d.Children {
				if err := txn.Set(childKey(d.Path, c), nil); err != nil {
					return err
				}
			}
		}

		for i := range s.Files {
			f := s.Files[i]
			if old, err := getFile(txn, f.Path); err != nil {
				return err
			} else if old != nil {
				if err := t.unindex(txn, old); err != nil {
					return err
				}
			}
			if err := putFile(txn, &f); err != nil {
				return err
			}
			t.clock = max(t.clock, f.Version)
			if t.keyed && f.ContentKey != "" {
				if err := txn.Set(indexKey(f.ContentKey, f.Path), nil); err != nil {
					return err
				}
			}
		}

		if s.Parent != "" && s.Root != "" {
			ok, err := exists(txn, dirKey(s.Parent))
			if err != nil || !ok {
				return err
			}
			return txn.Set(childKey(s.Parent, s.Root), nil)
		}
		return nil
	})
}
