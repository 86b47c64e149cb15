package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/shadowfs/pkg/backend"
)

// RunFileTests executes all file operation tests.
func (suite *BackendTestSuite) RunFileTests(t *testing.T) {
	t.Run("ReadBytes_NotFound", suite.testReadNotFound)
	t.Run("WriteBytes_ReadBack", suite.testWriteReadBack)
	t.Run("WriteBytes_Overwrite", suite.testWriteOverwrite)
	t.Run("WriteBytes_Empty", suite.testWriteEmpty)
	t.Run("WriteBytes_Large", suite.testWriteLarge)
	t.Run("AppendBytes", suite.testAppend)
	t.Run("CopyFile", suite.testCopy)
	t.Run("CopyFile_MissingSource", suite.testCopyMissing)
	t.Run("Rename", suite.testRename)
	t.Run("RemoveFile", suite.testRemoveFile)
	t.Run("RemoveFile_NotFound", suite.testRemoveFileNotFound)
	t.Run("Exists_Access", suite.testExistsAccess)
}

// ============================================================================
// Read/Write Tests
// ============================================================================

func (suite *BackendTestSuite) testReadNotFound(t *testing.T) {
	b := suite.newBackend(t)

	_, err := b.ReadBytes(testContext(), "missing/file.json")

	AssertErrorIs(t, backend.ErrNotFound, err)
	assert.True(t, backend.IsNotFound(err))
}

func (suite *BackendTestSuite) testWriteReadBack(t *testing.T) {
	b := suite.newBackend(t)
	mustMakeDir(t, b, "records")

	mustWrite(t, b, "records/a.json", []byte(`{"id":"a"}`))

	assertContent(t, b, "records/a.json", []byte(`{"id":"a"}`))
	assertExists(t, b, "records/a.json", true)
}

func (suite *BackendTestSuite) testWriteOverwrite(t *testing.T) {
	b := suite.newBackend(t)

	mustWrite(t, b, "over.txt", []byte("a much longer first version"))
	mustWrite(t, b, "over.txt", []byte("short"))

	assertContent(t, b, "over.txt", []byte("short"))
}

func (suite *BackendTestSuite) testWriteEmpty(t *testing.T) {
	b := suite.newBackend(t)

	mustWrite(t, b, "empty.txt", []byte{})

	assert.Empty(t, mustRead(t, b, "empty.txt"))
	assertExists(t, b, "empty.txt", true)
}

func (suite *BackendTestSuite) testWriteLarge(t *testing.T) {
	b := suite.newBackend(t)
	data := generateTestData(3*1024*1024 + 17)

	mustWrite(t, b, "large.bin", data)

	assertContent(t, b, "large.bin", data)
}

func (suite *BackendTestSuite) testAppend(t *testing.T) {
	b := suite.newBackend(t)
	ctx := testContext()

	require.NoError(t, b.AppendBytes(ctx, "log.txt", []byte("one\n"), backend.WriteOptions{}))
	require.NoError(t, b.AppendBytes(ctx, "log.txt", []byte("two\n"), backend.WriteOptions{}))

	assertContent(t, b, "log.txt", []byte("one\ntwo\n"))
}

// ============================================================================
// Copy/Rename/Remove Tests
// ============================================================================

func (suite *BackendTestSuite) testCopy(t *testing.T) {
	b := suite.newBackend(t)
	mustWrite(t, b, "src.txt", []byte("payload"))
	mustWrite(t, b, "dst.txt", []byte("old"))

	require.NoError(t, b.CopyFile(testContext(), "src.txt", "dst.txt"))

	assertContent(t, b, "dst.txt", []byte("payload"))
	assertContent(t, b, "src.txt", []byte("payload"))
}

func (suite *BackendTestSuite) testCopyMissing(t *testing.T) {
	b := suite.newBackend(t)

	err := b.CopyFile(testContext(), "nope.txt", "dst.txt")

	AssertErrorIs(t, backend.ErrNotFound, err)
	assertExists(t, b, "dst.txt", false)
}

func (suite *BackendTestSuite) testRename(t *testing.T) {
	b := suite.newBackend(t)
	mustWrite(t, b, "from.txt", []byte("moving"))

	require.NoError(t, b.Rename(testContext(), "from.txt", "to.txt"))

	assertExists(t, b, "from.txt", false)
	assertContent(t, b, "to.txt", []byte("moving"))
}

func (suite *BackendTestSuite) testRemoveFile(t *testing.T) {
	b := suite.newBackend(t)
	mustWrite(t, b, "gone.txt", []byte("x"))

	require.NoError(t, b.RemoveFile(testContext(), "gone.txt"))

	assertExists(t, b, "gone.txt", false)
}

func (suite *BackendTestSuite) testRemoveFileNotFound(t *testing.T) {
	b := suite.newBackend(t)

	err := b.RemoveFile(testContext(), "never.txt")

	AssertErrorIs(t, backend.ErrNotFound, err)
}

func (suite *BackendTestSuite) testExistsAccess(t *testing.T) {
	b := suite.newBackend(t)
	ctx := testContext()
	mustWrite(t, b, "rw.txt", []byte("x"))

	assert.True(t, b.Exists(ctx, "rw.txt", backend.AccessReadWrite))
	assert.False(t, b.Exists(ctx, "absent.txt", backend.AccessExist))

	if suite.SkipAccessBits {
		return
	}

	require.NoError(t, b.WriteBytes(ctx, "ro.txt", []byte("x"), backend.WriteOptions{Mode: 0o444}))
	assert.True(t, b.Exists(ctx, "ro.txt", backend.AccessRead))
	assert.False(t, b.Exists(ctx, "ro.txt", backend.AccessWrite))
}
