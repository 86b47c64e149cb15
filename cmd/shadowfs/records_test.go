package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSet_Inject(t *testing.T) {
	set := newRecordSet()

	require.NoError(t, set.inject(record{"id": "b", "n": 2}))
	require.NoError(t, set.inject(record{"id": "a", "n": 1}))
	require.NoError(t, set.inject(record{"id": "b", "n": 3}))

	assert.Equal(t, 2, set.Len())

	var ids []string
	for r := range set.All() {
		ids = append(ids, recordName(r))
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestRecordSet_InjectAssignsID(t *testing.T) {
	set := newRecordSet()

	r := record{"name": "anonymous"}
	require.NoError(t, set.inject(r))

	id := recordName(r)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, set.Len())
}

func TestRecordSet_InjectRejects(t *testing.T) {
	set := newRecordSet()

	assert.Error(t, set.inject(nil))
	assert.Error(t, set.inject(record{"id": 42}))
	assert.Zero(t, set.Len())
}

func TestRecordSet_AllStopsEarly(t *testing.T) {
	set := newRecordSet()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, set.inject(record{"id": id}))
	}

	seen := 0
	for range set.All() {
		seen++
		break
	}
	assert.Equal(t, 1, seen)
}

func TestRun_UnknownCommand(t *testing.T) {
	assert.Error(t, run([]string{"frobnicate"}))
}

func TestRun_Help(t *testing.T) {
	assert.NoError(t, run(nil))
	assert.NoError(t, run([]string{"version", "--help"}))
}

func TestRun_SyncRequiresTarget(t *testing.T) {
	err := run([]string{"sync"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--to")
}

// writeConfig generates a sample config rooted in a temp directory.
func writeConfig(t *testing.T, root string) string {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
logging:
  level: ERROR
backend:
  type: filesystem
  filesystem:
    path: ` + root + `
cache:
  sync_interval: 0s
retry:
  enabled: false
directory:
  default_directory: mirror
  records_dir: records
metrics:
  enabled: false
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	return configPath
}

func TestRun_Sync(t *testing.T) {
	root := t.TempDir()
	recordsDir := filepath.Join(root, "mirror", "records")
	require.NoError(t, os.MkdirAll(recordsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(recordsDir, "alice.json"), []byte(`{"id":"alice","age":30}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(recordsDir, "bob.json"), []byte(`{"id":"bob","age":40}`), 0o644))

	configPath := writeConfig(t, root)
	require.NoError(t, run([]string{"sync", "--config", configPath, "--to", "copy"}))

	for _, name := range []string{"alice.json", "bob.json"} {
		_, err := os.Stat(filepath.Join(root, "copy", name))
		assert.NoError(t, err, name)
	}
}

func TestRun_Init(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "shadowfs.yaml")

	require.NoError(t, run([]string{"init", "--config", configPath}))
	assert.Error(t, run([]string{"init", "--config", configPath}))
	require.NoError(t, run([]string{"init", "--config", configPath, "--force"}))

	_, err := os.Stat(configPath)
	require.NoError(t, err)
}
