package directory_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/shadowfs/pkg/backend"
	fsbackend "github.com/marmos91/shadowfs/pkg/backend/fs"
	backendtesting "github.com/marmos91/shadowfs/pkg/backend/testing"
	"github.com/marmos91/shadowfs/pkg/cache"
	"github.com/marmos91/shadowfs/pkg/directory"
)

type user struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func byID(u user) string { return u.ID }

func users(n int) []user {
	out := make([]user, n)
	for i := range out {
		out[i] = user{ID: fmt.Sprintf("u%d", i+1), Name: fmt.Sprintf("user %d", i+1)}
	}
	return out
}

func newFileCache(t *testing.T) (*cache.FileCache, *backendtesting.Instrumented) {
	t.Helper()

	ib := backendtesting.NewInstrumented(fsbackend.NewMemoryBackend())
	fc := cache.New(ib)
	t.Cleanup(func() {
		_ = fc.Close(context.Background())
	})
	return fc, ib
}

func newDirectory(t *testing.T, fc *cache.FileCache, cfg directory.Config[user]) *directory.DirectoryCache[user] {
	t.Helper()

	if cfg.Namer == nil {
		cfg.Namer = byID
	}
	dc, err := directory.New(fc, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = dc.Close()
	})
	return dc
}

// collector gathers injected records.
type collector struct {
	mu   sync.Mutex
	seen map[string]user
}

func (c *collector) inject(u user) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = make(map[string]user)
	}
	c.seen[u.ID] = u
	return nil
}

// ============================================================================
// Construction
// ============================================================================

func TestNew_RequiresNamer(t *testing.T) {
	fc, _ := newFileCache(t)

	_, err := directory.New(fc, directory.Config[user]{DefaultDirectory: "data"})
	assert.ErrorIs(t, err, directory.ErrNoNamer)

	_, err = directory.New[user](nil, directory.Config[user]{Namer: byID})
	assert.Error(t, err)
}

func TestNew_NoAutoStartWithoutDirectory(t *testing.T) {
	fc, _ := newFileCache(t)
	dc := newDirectory(t, fc, directory.Config[user]{BackupInterval: time.Millisecond})

	assert.False(t, dc.Running())
	assert.Same(t, fc, dc.FileCache())
}

// ============================================================================
// Backup and load
// ============================================================================

func TestBackupThenLoad(t *testing.T) {
	fc, ib := newFileCache(t)
	ctx := context.Background()
	all := users(3)

	dc := newDirectory(t, fc, directory.Config[user]{
		DefaultDirectory: "data",
		Collection:       slices.Values(all),
	})

	assert.Empty(t, dc.BackupToDirectory(ctx, nil, "", nil, backend.WriteOptions{}))

	for _, u := range all {
		assert.True(t, ib.Exists(ctx, "data/"+u.ID+".json", backend.AccessExist), u.ID)
	}

	// A fresh cache over the same backend sees only what was written.
	fresh := cache.New(ib)
	t.Cleanup(func() { _ = fresh.Close(ctx) })
	loader := newDirectory(t, fresh, directory.Config[user]{DefaultDirectory: "data"})

	var got collector
	var afterErrs []error
	called := false
	require.NoError(t, loader.LoadDirectory(ctx, "", got.inject, directory.DefaultBase, func(errs []error) {
		called = true
		afterErrs = errs
	}))

	assert.True(t, called)
	assert.Empty(t, afterErrs)
	require.Len(t, got.seen, 3)
	assert.Equal(t, all[1], got.seen["u2"])
}

func TestBackupToDirectory_PartialFailure(t *testing.T) {
	fc, ib := newFileCache(t)
	ctx := context.Background()

	dc := newDirectory(t, fc, directory.Config[user]{DefaultDirectory: "data"})

	namer := func(u user) string {
		if u.ID == "u3" {
			return "bad/name"
		}
		return u.ID
	}

	failures := dc.BackupToDirectory(ctx, namer, "", slices.Values(users(5)), backend.WriteOptions{})
	require.Len(t, failures, 1)
	for _, err := range failures {
		assert.ErrorIs(t, err, directory.ErrInvalidName)
	}

	for _, id := range []string{"u1", "u2", "u4", "u5"} {
		assert.True(t, ib.Exists(ctx, "data/"+id+".json", backend.AccessExist), id)
	}
}

func TestBackupToDirectory_WriteFailureIsolated(t *testing.T) {
	fc, ib := newFileCache(t)
	ctx := context.Background()

	dc := newDirectory(t, fc, directory.Config[user]{DefaultDirectory: "data", Concurrency: 2})
	ib.InjectFault(backendtesting.OpWriteBytes, "data/u2.json", assert.AnError, 0)

	failures := dc.BackupToDirectory(ctx, nil, "", slices.Values(users(4)), backend.WriteOptions{})
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures["data/u2.json"], directory.ErrWrite)

	assert.Equal(t, 4, ib.Calls(backendtesting.OpWriteBytes), "every record is attempted")
}

func TestBackupToDirectory_ExplicitBase(t *testing.T) {
	fc, ib := newFileCache(t)
	ctx := context.Background()

	dc := newDirectory(t, fc, directory.Config[user]{DefaultDirectory: "data"})

	assert.Empty(t, dc.BackupToDirectory(ctx, nil, "elsewhere", slices.Values(users(1)), backend.WriteOptions{}))

	assert.True(t, ib.Exists(ctx, "elsewhere/u1.json", backend.AccessExist))
}

func TestBackupToDirectory_NoCollection(t *testing.T) {
	fc, ib := newFileCache(t)
	dc := newDirectory(t, fc, directory.Config[user]{DefaultDirectory: "data"})

	assert.Empty(t, dc.BackupToDirectory(context.Background(), nil, "", nil, backend.WriteOptions{}))
	assert.Zero(t, ib.Calls(backendtesting.OpWriteBytes))
}

func TestLoadDirectory_CollectsErrors(t *testing.T) {
	fc, ib := newFileCache(t)
	ctx := context.Background()

	require.NoError(t, ib.WriteBytes(ctx, "data/users/u1.json", []byte(`{"id":"u1","name":"one"}`), backend.WriteOptions{}))
	require.NoError(t, ib.WriteBytes(ctx, "data/users/u2.json", []byte(`{"id":"u2","name":"two"}`), backend.WriteOptions{}))
	require.NoError(t, ib.WriteBytes(ctx, "data/users/broken.json", []byte(`{"id":`), backend.WriteOptions{}))
	require.NoError(t, ib.WriteBytes(ctx, "data/users/notes.txt", []byte("ignored"), backend.WriteOptions{}))

	dc := newDirectory(t, fc, directory.Config[user]{DefaultDirectory: "data"})

	rejected := errors.New("rejected")
	var got collector
	inject := func(u user) error {
		if u.ID == "u2" {
			return rejected
		}
		return got.inject(u)
	}

	var afterErrs []error
	require.NoError(t, dc.LoadDirectory(ctx, "users", inject, "", func(errs []error) {
		afterErrs = errs
	}))

	require.Len(t, afterErrs, 2)
	joined := errors.Join(afterErrs...)
	assert.ErrorIs(t, joined, directory.ErrDecode)
	assert.ErrorIs(t, joined, rejected)

	require.Len(t, got.seen, 1)
	assert.Equal(t, "one", got.seen["u1"].Name)
	assert.NotContains(t, ib.Paths(backendtesting.OpReadBytes), "data/users/notes.txt")
}

func TestLoadDirectory_NilInjector(t *testing.T) {
	fc, _ := newFileCache(t)
	dc := newDirectory(t, fc, directory.Config[user]{})

	err := dc.LoadDirectory(context.Background(), "users", nil, "", nil)
	assert.ErrorIs(t, err, directory.ErrNoInjector)
}

func TestLoadDirectory_MissingDirectory(t *testing.T) {
	fc, _ := newFileCache(t)
	dc := newDirectory(t, fc, directory.Config[user]{DefaultDirectory: "data"})

	var got collector
	called := false
	require.NoError(t, dc.LoadDirectory(context.Background(), "nowhere", got.inject, "", func(errs []error) {
		called = true
		assert.Empty(t, errs)
	}))
	assert.True(t, called)
	assert.Empty(t, got.seen)
}

// ============================================================================
// Periodic backup
// ============================================================================

func TestPeriodicBackup(t *testing.T) {
	fc, ib := newFileCache(t)
	ctx := context.Background()

	dc := newDirectory(t, fc, directory.Config[user]{
		DefaultDirectory: "data",
		Collection:       slices.Values(users(2)),
		BackupInterval:   5 * time.Millisecond,
	})
	assert.True(t, dc.Running())

	require.Eventually(t, func() bool {
		return ib.Exists(ctx, "data/u2.json", backend.AccessExist)
	}, 2*time.Second, 5*time.Millisecond)

	dc.Start(time.Hour) // restart replaces the timer
	assert.True(t, dc.Running())

	dc.Stop()
	dc.Stop()
	assert.False(t, dc.Running())
}
