package main

import (
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// idField names the record key used as its file name.
const idField = "id"

// record is a schemaless record file.
type record map[string]any

// recordName is the directory namer: the id field, or "" (rejected by the
// orchestrator) when it is missing.
func recordName(r record) string {
	id, _ := r[idField].(string)
	return id
}

// recordSet is the in-process collection mirrored to the records directory.
type recordSet struct {
	mu    sync.RWMutex
	items map[string]record
}

func newRecordSet() *recordSet {
	return &recordSet{items: make(map[string]record)}
}

// inject adds a loaded record. A record without an id gets a fresh one so it
// is written back under a stable name.
func (s *recordSet) inject(r record) error {
	if r == nil {
		return fmt.Errorf("empty record")
	}

	id := recordName(r)
	if id == "" {
		if _, present := r[idField]; present {
			return fmt.Errorf("record %s is not a string", idField)
		}
		id = uuid.NewString()
		r[idField] = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = r
	return nil
}

// All iterates a snapshot of the set in id order.
func (s *recordSet) All() iter.Seq[record] {
	return func(yield func(record) bool) {
		s.mu.RLock()
		ids := slices.Sorted(maps.Keys(s.items))
		snapshot := make([]record, 0, len(ids))
		for _, id := range ids {
			snapshot = append(snapshot, s.items[id])
		}
		s.mu.RUnlock()

		for _, r := range snapshot {
			if !yield(r) {
				return
			}
		}
	}
}

// Len returns the number of records.
func (s *recordSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
