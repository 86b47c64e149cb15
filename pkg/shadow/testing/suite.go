// Package testing provides a conformance suite for shadow.Table
// implementations.
package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/shadowfs/pkg/backend"
	"github.com/marmos91/shadowfs/pkg/shadow"
)

// TableTestSuite tests the Table contract, independent of the storage used.
//
// Usage:
//
//	func TestMyTable(t *testing.T) {
//	    suite := &testing.TableTestSuite{
//	        NewTable: func(t *testing.T, opts ...shadow.Option) shadow.Table {
//	            return mytable.New(opts...)
//	        },
//	    }
//	    suite.Run(t)
//	}
type TableTestSuite struct {
	// NewTable creates a fresh, empty table for each test.
	NewTable func(t *testing.T, opts ...shadow.Option) shadow.Table
}

// Run executes all tests in the suite.
func (suite *TableTestSuite) Run(t *testing.T) {
	t.Run("Directories", suite.RunDirectoryTests)
	t.Run("Files", suite.RunFileTests)
	t.Run("Payload", suite.RunPayloadTests)
	t.Run("Snapshot", suite.RunSnapshotTests)
	t.Run("ContentKeys", suite.RunContentKeyTests)
}

func (suite *TableTestSuite) newTable(t *testing.T, opts ...shadow.Option) shadow.Table {
	t.Helper()
	tbl := suite.NewTable(t, opts...)
	t.Cleanup(func() { _ = tbl.Close() })
	return tbl
}

// ============================================================================
// Directory Tests
// ============================================================================

// RunDirectoryTests covers directory registration and the removal policy.
func (suite *TableTestSuite) RunDirectoryTests(t *testing.T) {
	t.Run("AddDirectory_Idempotent", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.AddDirectory("a")
		tbl.AddFile("a/x.txt")
		tbl.AddDirectory("a/")

		dir, ok := tbl.Directory("a")
		require.True(t, ok)
		assert.Equal(t, []string{"a/x.txt"}, dir.Children)
	})

	t.Run("AddDirectory_AttachesToKnownParent", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.AddDirectory("a")
		tbl.AddDirectory("a/b")
		tbl.AddDirectory("orphan/c")

		assert.Equal(t, []string{"a/b"}, tbl.Children("a"))
		assert.False(t, tbl.Contains("orphan"))
		assert.True(t, tbl.Contains("orphan/c"))
	})

	t.Run("AddFileToDirectory_UnknownParent", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.AddFileToDirectory("missing", "missing/x.txt")

		assert.False(t, tbl.Contains("missing"))
		assert.Empty(t, tbl.Children("missing"))
	})

	t.Run("RemoveDirectory_Absent", func(t *testing.T) {
		tbl := suite.newTable(t)
		assert.True(t, tbl.RemoveDirectory("nope", false, false))
	})

	t.Run("RemoveDirectory_RefusesNonEmpty", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.AddFile("d/x.txt")

		assert.False(t, tbl.RemoveDirectory("d", false, false))
		assert.True(t, tbl.Contains("d"))
		assert.True(t, tbl.Contains("d/x.txt"))
	})

	t.Run("RemoveDirectory_EmptyNonRecursive", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.AddDirectory("p")
		tbl.AddDirectory("p/empty")

		assert.True(t, tbl.RemoveDirectory("p/empty", false, false))
		assert.False(t, tbl.Contains("p/empty"))
		assert.Empty(t, tbl.Children("p"))
	})

	t.Run("RemoveDirectory_ForceDetaches", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.AddDirectory("d")
		tbl.AddFile("d/x.txt")
		tbl.AddDirectory("d/sub")
		tbl.AddFile("d/sub/y.txt")

		assert.True(t, tbl.RemoveDirectory("d", false, true))
		assert.False(t, tbl.Contains("d"))
		assert.False(t, tbl.Contains("d/x.txt"))
		// nested records survive as orphans
		assert.True(t, tbl.Contains("d/sub"))
		assert.True(t, tbl.Contains("d/sub/y.txt"))
	})

	t.Run("RemoveDirectory_RecursiveCascades", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.AddDirectory("root")
		tbl.AddDirectory("root/a")
		tbl.AddDirectory("root/a/b")
		files := []string{"root/top.txt", "root/a/mid.txt", "root/a/b/deep.json"}
		for _, f := range files {
			tbl.SetPayload(f, []byte(f), backend.WriteOptions{}, false)
		}
		tbl.AddFile("rootless.txt")

		assert.True(t, tbl.RemoveDirectory("root", true, false))

		for _, f := range files {
			assert.False(t, tbl.Contains(f), f)
		}
		assert.False(t, tbl.Contains("root/a/b"))
		assert.True(t, tbl.Contains("rootless.txt"))
		assert.Empty(t, tbl.DirtyFiles())
	})

	t.Run("RemoveDirectory_DetachesFromParent", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.AddDirectory("a")
		tbl.AddDirectory("a/b")

		assert.True(t, tbl.RemoveDirectory("a/b", true, false))
		assert.Empty(t, tbl.Children("a"))
	})
}

// ============================================================================
// File Tests
// ============================================================================

// RunFileTests covers file registration and removal.
func (suite *TableTestSuite) RunFileTests(t *testing.T) {
	t.Run("AddFile_CreatesParent", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.AddFile("a/b/x.json")

		assert.True(t, tbl.Contains("a/b"))
		assert.Equal(t, []string{"a/b/x.json"}, tbl.Children("a/b"))

		e, ok := tbl.Payload("a/b/x.json")
		require.True(t, ok)
		assert.False(t, e.Loaded)
		assert.False(t, e.Dirty)
	})

	t.Run("AddFile_KeepsExisting", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.SetPayload("k.txt", []byte("keep"), backend.WriteOptions{}, false)
		tbl.AddFile("k.txt")

		e, _ := tbl.Payload("k.txt")
		assert.Equal(t, []byte("keep"), e.Data)
	})

	t.Run("AddFile_TopLevel", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.AddFile("top.txt")

		_, ok := tbl.ContainsFile("top.txt")
		assert.True(t, ok)
		assert.Equal(t, []string{"top.txt"}, tbl.Files())
	})

	t.Run("RemoveFile_Detaches", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.AddFile("d/x.txt")
		tbl.AddFile("d/y.txt")

		tbl.RemoveFile("d/x.txt")

		assert.False(t, tbl.Contains("d/x.txt"))
		assert.Equal(t, []string{"d/y.txt"}, tbl.Children("d"))
	})

	t.Run("RemoveFile_Absent", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.RemoveFile("nothing")
		assert.Empty(t, tbl.Files())
	})

	t.Run("ContainsFile_DirectoryIsNotAFile", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.AddDirectory("dir")

		token, ok := tbl.ContainsFile("dir")
		assert.False(t, ok)
		assert.Empty(t, token)
		assert.True(t, tbl.Contains("dir"))
	})

	t.Run("PathNormalization", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.AddFile("a//b/./x.txt")

		token, ok := tbl.ContainsFile("a/b/x.txt")
		assert.True(t, ok)
		assert.Equal(t, "a/b/x.txt", token)
	})
}

// ============================================================================
// Payload Tests
// ============================================================================

// RunPayloadTests covers payload staging, the dirty set and cloning.
func (suite *TableTestSuite) RunPayloadTests(t *testing.T) {
	t.Run("SetPayload_MarksDirty", func(t *testing.T) {
		tbl := suite.newTable(t)
		opts := backend.WriteOptions{Mode: 0o600}
		tbl.SetPayload("d/x.json", []byte(`{"k":1}`), opts, true)

		e, ok := tbl.Payload("d/x.json")
		require.True(t, ok)
		assert.True(t, e.Dirty)
		assert.True(t, e.Loaded)
		assert.True(t, e.Structured)
		assert.Equal(t, opts, e.Options)

		dirty := tbl.DirtyFiles()
		require.Len(t, dirty, 1)
		assert.Equal(t, "d/x.json", dirty[0].Path)
	})

	t.Run("Payload_ReturnsCopy", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.SetPayload("x", []byte("abc"), backend.WriteOptions{}, false)

		e, _ := tbl.Payload("x")
		e.Data[0] = 'Z'

		again, _ := tbl.Payload("x")
		assert.Equal(t, []byte("abc"), again.Data)
	})

	t.Run("Populate_Clean", func(t *testing.T) {
		tbl := suite.newTable(t)
		require.True(t, tbl.Populate("p.txt", []byte("disk"), false, 0))

		e, ok := tbl.Payload("p.txt")
		require.True(t, ok)
		assert.True(t, e.Loaded)
		assert.False(t, e.Dirty)
		assert.Empty(t, tbl.DirtyFiles())
	})

	t.Run("Populate_KeepsDirty", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.SetPayload("p.txt", []byte("mine"), backend.WriteOptions{}, false)
		e, _ := tbl.Payload("p.txt")
		assert.False(t, tbl.Populate("p.txt", []byte("stale"), false, e.Version))

		e, _ = tbl.Payload("p.txt")
		assert.Equal(t, []byte("mine"), e.Data)
		assert.True(t, e.Dirty)
	})

	t.Run("Populate_StaleVersion", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.AddFile("s.txt")
		before, _ := tbl.Payload("s.txt")

		// Written and flushed while the read was in flight.
		tbl.SetPayload("s.txt", []byte("new"), backend.WriteOptions{}, false)
		written, _ := tbl.Payload("s.txt")
		require.True(t, tbl.MarkSynced("s.txt", written.Version))

		assert.False(t, tbl.Populate("s.txt", []byte("old"), false, before.Version))
		e, _ := tbl.Payload("s.txt")
		assert.Equal(t, []byte("new"), e.Data)
	})

	t.Run("Populate_AbsentMustStayAbsent", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.AddFile("a.txt")
		assert.False(t, tbl.Populate("a.txt", []byte("x"), false, 0))

		// Removed while the read was in flight.
		e, _ := tbl.Payload("a.txt")
		tbl.RemoveFile("a.txt")
		assert.False(t, tbl.Populate("a.txt", []byte("x"), false, e.Version))
		assert.False(t, tbl.Contains("a.txt"))
	})

	t.Run("Versions_NotReused", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.AddFile("r.txt")
		first, _ := tbl.Payload("r.txt")
		assert.NotZero(t, first.Version)

		tbl.RemoveFile("r.txt")
		tbl.AddFile("r.txt")
		second, _ := tbl.Payload("r.txt")
		assert.NotEqual(t, first.Version, second.Version)
	})

	t.Run("MarkChanged", func(t *testing.T) {
		tbl := suite.newTable(t)
		assert.False(t, tbl.MarkChanged("unknown", true))

		tbl.Populate("t.txt", []byte("x"), false, 0)
		assert.True(t, tbl.MarkChanged("t.txt", true))
		require.Len(t, tbl.DirtyFiles(), 1)

		assert.True(t, tbl.MarkChanged("t.txt", false))
		assert.Empty(t, tbl.DirtyFiles())
	})

	t.Run("MarkSynced_Version", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.SetPayload("v.txt", []byte("one"), backend.WriteOptions{}, false)
		first := tbl.DirtyFiles()[0]

		// A write lands while the first version is being flushed.
		tbl.SetPayload("v.txt", []byte("two"), backend.WriteOptions{}, false)

		assert.False(t, tbl.MarkSynced("v.txt", first.Version))
		second := tbl.DirtyFiles()
		require.Len(t, second, 1)
		assert.Equal(t, []byte("two"), second[0].Data)

		assert.True(t, tbl.MarkSynced("v.txt", second[0].Version))
		assert.Empty(t, tbl.DirtyFiles())
		assert.False(t, tbl.MarkSynced("missing", 1))
	})

	t.Run("CloneFile_DeepCopy", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.Populate("src.json", []byte(`{"k":1}`), true, 0)

		require.True(t, tbl.CloneFile("src.json", "copies/dst.json"))
		tbl.SetPayload("src.json", []byte(`{"k":2}`), backend.WriteOptions{}, true)

		dst, ok := tbl.Payload("copies/dst.json")
		require.True(t, ok)
		assert.Equal(t, []byte(`{"k":1}`), dst.Data)
		assert.True(t, dst.Dirty)
		assert.True(t, dst.Structured)
		assert.Equal(t, []string{"copies/dst.json"}, tbl.Children("copies"))
	})

	t.Run("CloneFile_MissingSource", func(t *testing.T) {
		tbl := suite.newTable(t)
		assert.False(t, tbl.CloneFile("nope", "dst"))
		assert.False(t, tbl.Contains("dst"))
	})
}

// ============================================================================
// Snapshot Tests
// ============================================================================

// RunSnapshotTests covers Snapshot and Restore, used for rollback.
func (suite *TableTestSuite) RunSnapshotTests(t *testing.T) {
	t.Run("RestoreDirectoryTree", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.AddDirectory("a")
		tbl.AddDirectory("a/b")
		tbl.SetPayload("a/b/x.json", []byte("1"), backend.WriteOptions{}, true)
		tbl.Populate("a/y.txt", []byte("2"), false, 0)

		snap := tbl.Snapshot("a/b")
		require.True(t, tbl.RemoveDirectory("a/b", true, false))
		require.False(t, tbl.Contains("a/b/x.json"))

		tbl.Restore(snap)

		assert.Equal(t, []string{"a/b", "a/y.txt"}, tbl.Children("a"))
		e, ok := tbl.Payload("a/b/x.json")
		require.True(t, ok)
		assert.True(t, e.Dirty)
		assert.Equal(t, []byte("1"), e.Data)
	})

	t.Run("RestoreFile", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.SetPayload("d/f.txt", []byte("keep me"), backend.WriteOptions{}, false)
		before, _ := tbl.Payload("d/f.txt")

		snap := tbl.Snapshot("d/f.txt")
		tbl.RemoveFile("d/f.txt")
		tbl.Restore(snap)

		after, ok := tbl.Payload("d/f.txt")
		require.True(t, ok)
		assert.Equal(t, before, after)
		assert.Equal(t, []string{"d/f.txt"}, tbl.Children("d"))
	})

	t.Run("SnapshotAbsent", func(t *testing.T) {
		tbl := suite.newTable(t)
		assert.True(t, tbl.Snapshot("ghost").Empty())
	})
}

// ============================================================================
// Content Key Tests
// ============================================================================

// RunContentKeyTests covers keyed mode.
func (suite *TableTestSuite) RunContentKeyTests(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		tbl := suite.newTable(t)
		tbl.SetPayload("x", []byte("data"), backend.WriteOptions{}, false)

		token, ok := tbl.ContainsFile("x")
		assert.True(t, ok)
		assert.Equal(t, "x", token)

		_, found := tbl.PayloadByKey(shadow.ContentKey([]byte("data")))
		assert.False(t, found)
	})

	t.Run("Enabled", func(t *testing.T) {
		tbl := suite.newTable(t, shadow.WithContentKeys())
		tbl.SetPayload("x", []byte("data"), backend.WriteOptions{}, false)
		key := shadow.ContentKey([]byte("data"))

		token, ok := tbl.ContainsFile("x")
		assert.True(t, ok)
		assert.Equal(t, key, token)

		e, found := tbl.PayloadByKey(key)
		require.True(t, found)
		assert.Equal(t, []byte("data"), e.Data)
	})

	t.Run("KeyFollowsPayload", func(t *testing.T) {
		tbl := suite.newTable(t, shadow.WithContentKeys())
		tbl.SetPayload("x", []byte("old"), backend.WriteOptions{}, false)
		tbl.SetPayload("x", []byte("new"), backend.WriteOptions{}, false)

		_, found := tbl.PayloadByKey(shadow.ContentKey([]byte("old")))
		assert.False(t, found)

		tbl.RemoveFile("x")
		_, found = tbl.PayloadByKey(shadow.ContentKey([]byte("new")))
		assert.False(t, found)
	})

	t.Run("UnloadedEntryUsesPath", func(t *testing.T) {
		tbl := suite.newTable(t, shadow.WithContentKeys())
		tbl.AddFile("empty")

		token, ok := tbl.ContainsFile("empty")
		assert.True(t, ok)
		assert.Equal(t, "empty", token)
	})
}
