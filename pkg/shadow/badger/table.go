// Package badger implements a persistent shadow.Table on BadgerDB.
//
// Persisting the table lets the dirty set survive a restart: payloads staged
// with SetPayload before a crash are still listed by DirtyFiles when the
// database is reopened, so the next flush writes them out.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/pkg/backend"
	"github.com/marmos91/shadowfs/pkg/shadow"
)

// Config configures the BadgerDB table.
type Config struct {
	// DBPath is the directory holding the database files
	DBPath string `mapstructure:"db_path"`

	// InMemory keeps the database in memory (DBPath is ignored)
	InMemory bool `mapstructure:"in_memory"`
}

// Table is a shadow.Table stored in BadgerDB.
//
// Thread Safety:
// A RWMutex serializes mutations so each method is atomic with respect to the
// others, matching the in-memory table. Badger transactions make every
// mutation all-or-nothing on disk.
//
// Failure Handling:
// The Table interface has no error returns. Database errors are logged and
// the operation reports the "absent" result (false, empty).
type Table struct {
	mu    sync.RWMutex
	db    *badger.DB
	keyed bool

	// clock is the last version handed out (guarded by mu). It is seeded from
	// the stored entries on open so versions keep increasing across restarts.
	clock uint64
}

// New opens (or creates) the table.
//
// Parameters:
//   - ctx: Context for cancellation
//   - cfg: Database location
//   - opts: Table options (shadow.WithContentKeys)
//
// Returns:
//   - *Table: Ready-to-use table
//   - error: Returns error if the database cannot be opened
func New(ctx context.Context, cfg Config, opts ...shadow.Option) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var bopts badger.Options
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.DBPath == "" {
			return nil, fmt.Errorf("badger table: db_path is required")
		}
		bopts = badger.DefaultOptions(cfg.DBPath)
	}

	// Entries are small and read far more often than written.
	bopts = bopts.WithLoggingLevel(badger.WARNING)
	bopts = bopts.WithCompression(options.None)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	o := shadow.ApplyOptions(opts...)
	t := &Table{db: db, keyed: o.ContentKeys}

	err = db.View(func(txn *badger.Txn) error {
		files, err := scanFiles(txn, "")
		for _, e := range files {
			t.clock = max(t.clock, e.Version)
		}
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to read shadow table at %s: %w", cfg.DBPath, err)
	}
	return t, nil
}

// tick returns the next entry version. Callers hold mu.
func (t *Table) tick() uint64 {
	t.clock++
	return t.clock
}

// Close closes the database.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.db.Close()
}

// update runs fn in a read-write transaction under the table lock.
func (t *Table) update(op string, fn func(txn *badger.Txn) error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.db.Update(fn); err != nil {
		if !errors.Is(err, errAbsent) {
			logger.Error("shadow table %s failed: %v", op, err)
		}
		return false
	}
	return true
}

// view runs fn in a read-only transaction.
func (t *Table) view(op string, fn func(txn *badger.Txn) error) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.db.View(fn); err != nil {
		if !errors.Is(err, errAbsent) {
			logger.Error("shadow table %s failed: %v", op, err)
		}
		return false
	}
	return true
}

// errAbsent aborts a transaction whose target does not exist.
var errAbsent = errors.New("absent")

// ============================================================================
// Transaction helpers
// ============================================================================

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

func getFile(txn *badger.Txn, path string) (*shadow.FileEntry, error) {
	item, err := txn.Get(fileKey(path))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var e shadow.FileEntry
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &e)
	})
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &e, nil
}

func putFile(txn *badger.Txn, e *shadow.FileEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Path, err)
	}
	return txn.Set(fileKey(e.Path), data)
}

// scanKeys returns every key with prefix, copied.
func scanKeys(txn *badger.Txn, prefix []byte) [][]byte {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// scanFiles decodes every file entry whose path starts with pathPrefix.
func scanFiles(txn *badger.Txn, pathPrefix string) ([]shadow.FileEntry, error) {
	it := txn.NewIterator(badger.IteratorOptions{
		Prefix:         fileKey(pathPrefix),
		PrefetchValues: true,
	})
	defer it.Close()

	var out []shadow.FileEntry
	for it.Rewind(); it.Valid(); it.Next() {
		var e shadow.FileEntry
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		}); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func children(txn *badger.Txn, parent string) []string {
	var out []string
	for _, k := range scanKeys(txn, childPrefix(parent)) {
		out = append(out, afterSep(k[len(prefixChild):]))
	}
	return out
}

func addDir(txn *badger.Txn, path string) error {
	if err := txn.Set(dirKey(path), nil); err != nil {
		return err
	}
	if parent := shadow.Parent(path); parent != "" {
		ok, err := exists(txn, dirKey(parent))
		if err != nil {
			return err
		}
		if ok {
			return txn.Set(childKey(parent, path), nil)
		}
	}
	return nil
}

// addFile returns the existing entry or creates an empty one.
func (t *Table) addFile(txn *badger.Txn, path string) (*shadow.FileEntry, error) {
	e, err := getFile(txn, path)
	if err != nil || e != nil {
		return e, err
	}

	if parent := shadow.Parent(path); parent != "" {
		if err := addDir(txn, parent); err != nil {
			return nil, err
		}
		if err := txn.Set(childKey(parent, path), nil); err != nil {
			return nil, err
		}
	}

	e = &shadow.FileEntry{Path: path, Version: t.tick()}
	return e, putFile(txn, e)
}

// deleteFile drops the entry and its index key.
func (t *Table) deleteFile(txn *badger.Txn, e *shadow.FileEntry) error {
	if err := t.unindex(txn, e); err != nil {
		return err
	}
	return txn.Delete(fileKey(e.Path))
}

func detach(txn *badger.Txn, path string) error {
	if parent := shadow.Parent(path); parent != "" {
		return txn.Delete(childKey(parent, path))
	}
	return nil
}

func (t *Table) reindex(txn *badger.Txn, e *shadow.FileEntry) error {
	if !t.keyed {
		return nil
	}
	if err := t.unindex(txn, e); err != nil {
		return err
	}
	e.ContentKey = shadow.ContentKey(e.Data)
	return txn.Set(indexKey(e.ContentKey, e.Path), nil)
}

func (t *Table) unindex(txn *badger.Txn, e *shadow.FileEntry) error {
	if !t.keyed || e.ContentKey == "" {
		return nil
	}
	return txn.Delete(indexKey(e.ContentKey, e.Path))
}

var _ shadow.Table = (*Table)(nil)

// normalize cleans a path the same way the in-memory table does.
func normalize(p string) string {
	return backend.CleanPath(p)
}
