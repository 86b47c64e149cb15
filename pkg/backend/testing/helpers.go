package testing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/shadowfs/pkg/backend"
)

// AssertErrorIs checks if the error matches the expected error using errors.Is.
func AssertErrorIs(t *testing.T, expected error, actual error) {
	t.Helper()
	if !errors.Is(actual, expected) {
		t.Errorf("Expected error %v, got %v", expected, actual)
	}
}

// mustMakeDir creates a directory tree and fails the test if it errors.
func mustMakeDir(t *testing.T, b backend.Backend, p string) {
	t.Helper()
	err := b.MakeDir(testContext(), p, backend.DirOptions{Recursive: true})
	if err != nil && !backend.IsExists(err) {
		require.NoError(t, err, "MakeDir should succeed")
	}
}

// mustWrite writes a file and fails the test if it errors.
func mustWrite(t *testing.T, b backend.Backend, p string, data []byte) {
	t.Helper()
	err := b.WriteBytes(testContext(), p, data, backend.WriteOptions{})
	require.NoError(t, err, "WriteBytes should succeed")
}

// mustRead reads a file and fails the test if it errors.
func mustRead(t *testing.T, b backend.Backend, p string) []byte {
	t.Helper()
	data, err := b.ReadBytes(testContext(), p)
	require.NoError(t, err, "ReadBytes should succeed")
	return data
}

// assertExists checks presence with AccessExist.
func assertExists(t *testing.T, b backend.Backend, p string, expected bool) {
	t.Helper()
	assert.Equal(t, expected, b.Exists(testContext(), p, backend.AccessExist), "Exists(%q)", p)
}

// assertContent checks a file holds exactly expected.
func assertContent(t *testing.T, b backend.Backend, p string, expected []byte) {
	t.Helper()
	assert.Equal(t, expected, mustRead(t, b, p))
}

// names extracts entry names from a listing.
func names(entries []backend.DirEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

// generateTestData creates deterministic test data of the given size.
func generateTestData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}
