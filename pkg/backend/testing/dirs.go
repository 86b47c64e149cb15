package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/shadowfs/pkg/backend"
)

// RunDirectoryTests executes all directory operation tests.
func (suite *BackendTestSuite) RunDirectoryTests(t *testing.T) {
	t.Run("MakeDir_Recursive", suite.testMakeDirRecursive)
	t.Run("MakeDir_Exists", suite.testMakeDirExists)
	t.Run("MakeDir_OverFile", suite.testMakeDirOverFile)
	t.Run("RemoveDir_Empty", suite.testRemoveDirEmpty)
	t.Run("RemoveDir_NotEmpty", suite.testRemoveDirNotEmpty)
	t.Run("RemoveDir_Recursive", suite.testRemoveDirRecursive)
	t.Run("RemoveDir_Missing", suite.testRemoveDirMissing)
	t.Run("ListDir", suite.testListDir)
	t.Run("ListDir_Missing", suite.testListDirMissing)
}

func (suite *BackendTestSuite) testMakeDirRecursive(t *testing.T) {
	b := suite.newBackend(t)

	require.NoError(t, b.MakeDir(testContext(), "a/b/c", backend.DirOptions{Recursive: true}))

	assertExists(t, b, "a", true)
	assertExists(t, b, "a/b", true)
	assertExists(t, b, "a/b/c", true)
}

func (suite *BackendTestSuite) testMakeDirExists(t *testing.T) {
	b := suite.newBackend(t)
	require.NoError(t, b.MakeDir(testContext(), "dup", backend.DirOptions{}))

	err := b.MakeDir(testContext(), "dup", backend.DirOptions{})

	AssertErrorIs(t, backend.ErrExists, err)
}

func (suite *BackendTestSuite) testMakeDirOverFile(t *testing.T) {
	b := suite.newBackend(t)
	mustWrite(t, b, "plain.txt", []byte("x"))

	err := b.MakeDir(testContext(), "plain.txt", backend.DirOptions{})

	AssertErrorIs(t, backend.ErrNotDir, err)
	assert.False(t, backend.IsExists(err), "a file in the way is not an existing directory")

	data, err := b.ReadBytes(testContext(), "plain.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
}

func (suite *BackendTestSuite) testRemoveDirEmpty(t *testing.T) {
	b := suite.newBackend(t)
	mustMakeDir(t, b, "empty")

	require.NoError(t, b.RemoveDir(testContext(), "empty", backend.DirOptions{}))

	assertExists(t, b, "empty", false)
}

func (suite *BackendTestSuite) testRemoveDirNotEmpty(t *testing.T) {
	b := suite.newBackend(t)
	mustMakeDir(t, b, "full")
	mustWrite(t, b, "full/x.txt", []byte("x"))

	err := b.RemoveDir(testContext(), "full", backend.DirOptions{})

	AssertErrorIs(t, backend.ErrNotEmpty, err)
	assertExists(t, b, "full/x.txt", true)
}

func (suite *BackendTestSuite) testRemoveDirRecursive(t *testing.T) {
	b := suite.newBackend(t)
	mustMakeDir(t, b, "tree/sub")
	mustWrite(t, b, "tree/a.txt", []byte("a"))
	mustWrite(t, b, "tree/sub/b.txt", []byte("b"))

	require.NoError(t, b.RemoveDir(testContext(), "tree", backend.DirOptions{Recursive: true}))

	assertExists(t, b, "tree/sub/b.txt", false)
	assertExists(t, b, "tree/a.txt", false)
	assertExists(t, b, "tree", false)
}

func (suite *BackendTestSuite) testRemoveDirMissing(t *testing.T) {
	b := suite.newBackend(t)

	err := b.RemoveDir(testContext(), "ghost", backend.DirOptions{})
	AssertErrorIs(t, backend.ErrNotFound, err)

	err = b.RemoveDir(testContext(), "ghost", backend.DirOptions{Force: true})
	assert.NoError(t, err)
}

func (suite *BackendTestSuite) testListDir(t *testing.T) {
	b := suite.newBackend(t)
	mustMakeDir(t, b, "list/nested")
	mustWrite(t, b, "list/b.json", []byte("{}"))
	mustWrite(t, b, "list/a.json", []byte("{}"))

	entries, err := b.ListDir(testContext(), "list")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a.json", "b.json", "nested"}, names(entries))
	for _, e := range entries {
		assert.Equal(t, e.Name == "nested", e.IsDir, "IsDir for %s", e.Name)
	}
}

func (suite *BackendTestSuite) testListDirMissing(t *testing.T) {
	b := suite.newBackend(t)

	entries, err := b.ListDir(testContext(), "nowhere")

	assert.Error(t, err)
	assert.Empty(t, entries)
}
