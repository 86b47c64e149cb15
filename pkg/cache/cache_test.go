package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/shadowfs/pkg/backend"
	fsbackend "github.com/marmos91/shadowfs/pkg/backend/fs"
	backendtesting "github.com/marmos91/shadowfs/pkg/backend/testing"
	"github.com/marmos91/shadowfs/pkg/cache"
	"github.com/marmos91/shadowfs/pkg/codec"
	"github.com/marmos91/shadowfs/pkg/retry"
)

type record struct {
	K    int    `json:"k" yaml:"k"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ============================================================================
// Helpers
// ============================================================================

func newCache(t *testing.T, opts ...cache.Option) (*cache.FileCache, *backendtesting.Instrumented) {
	t.Helper()

	ib := backendtesting.NewInstrumented(fsbackend.NewMemoryBackend())
	c := cache.New(ib, opts...)
	t.Cleanup(func() {
		_ = c.Close(context.Background())
	})
	return c, ib
}

func newDiskCache(t *testing.T, opts ...cache.Option) (*cache.FileCache, *backendtesting.Instrumented) {
	t.Helper()

	b, err := fsbackend.NewFSBackend(context.Background(), fsbackend.Config{Path: t.TempDir()})
	require.NoError(t, err)

	ib := backendtesting.NewInstrumented(b)
	c := cache.New(ib, opts...)
	t.Cleanup(func() {
		_ = c.Close(context.Background())
	})
	return c, ib
}

// deferred collects operations handed to the retry hook.
type deferred struct {
	mu  sync.Mutex
	ops []retry.Operation
}

func (d *deferred) Defer(op retry.Operation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = append(d.ops, op)
}

func (d *deferred) take() []retry.Operation {
	d.mu.Lock()
	defer d.mu.Unlock()
	ops := d.ops
	d.ops = nil
	return ops
}

type countingMetrics struct {
	mu       sync.Mutex
	hits     int
	misses   int
	deferred map[string]int
	flushes  int
	dirty    int
	ops      map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{deferred: map[string]int{}, ops: map[string]int{}}
}

func (m *countingMetrics) RecordHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
}

func (m *countingMetrics) RecordMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
}

func (m *countingMetrics) ObserveBackendOp(op, result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op+"/"+result]++
}

func (m *countingMetrics) RecordDeferred(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deferred[op]++
}

func (m *countingMetrics) ObserveFlush(int, int, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
}

func (m *countingMetrics) RecordDirtyFiles(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty = n
}

// ============================================================================
// Cache-aside read / write-through
// ============================================================================

func TestReadStructured_HitAfterWrite(t *testing.T) {
	c, ib := newCache(t)
	ctx := context.Background()

	paths := []string{"r1.json", "dir/r2.json", "dir/sub/r3.json"}
	for i, p := range paths {
		require.True(t, c.WriteStructured(ctx, p, record{K: i}, backend.WriteOptions{}))
	}
	ib.Reset()

	for i, p := range paths {
		var got record
		require.True(t, c.ReadStructured(ctx, p, &got))
		assert.Equal(t, record{K: i}, got)
	}
	assert.Zero(t, ib.Calls(backendtesting.OpReadBytes), "reads are served from the table")
}

func TestReadString_MissPopulates(t *testing.T) {
	c, ib := newCache(t)
	ctx := context.Background()

	require.NoError(t, ib.WriteBytes(ctx, "cold.txt", []byte("cold"), backend.WriteOptions{}))

	s, ok := c.ReadString(ctx, "cold.txt")
	require.True(t, ok)
	assert.Equal(t, "cold", s)
	assert.Equal(t, 1, ib.Calls(backendtesting.OpReadBytes))

	entry, ok := c.Table().Payload("cold.txt")
	require.True(t, ok)
	assert.True(t, entry.Loaded)
	assert.False(t, entry.Dirty)

	s, ok = c.ReadString(ctx, "cold.txt")
	require.True(t, ok)
	assert.Equal(t, "cold", s)
	assert.Equal(t, 1, ib.Calls(backendtesting.OpReadBytes), "second read is a hit")
}

func TestReadString_NotFound(t *testing.T) {
	c, _ := newCache(t)

	s, ok := c.ReadString(context.Background(), "missing.txt")
	assert.False(t, ok)
	assert.Empty(t, s)
	assert.False(t, c.Table().Contains("missing.txt"))
}

func TestReadString_MissDoesNotOverwriteConcurrentWrite(t *testing.T) {
	c, ib := newCache(t)
	ctx := context.Background()

	require.NoError(t, ib.WriteBytes(ctx, "race.txt", []byte("old"), backend.WriteOptions{}))

	started, release := ib.GateReads()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.ReadString(ctx, "race.txt")
	}()

	<-started
	require.True(t, c.WriteString(ctx, "race.txt", "new", backend.WriteOptions{}))
	release()
	<-done

	s, ok := c.ReadString(ctx, "race.txt")
	require.True(t, ok)
	assert.Equal(t, "new", s)

	entry, _ := c.Table().Payload("race.txt")
	assert.Equal(t, []byte("new"), entry.Data)
	assert.False(t, entry.Dirty)
}

func TestReadString_MissDoesNotResurrectRemovedFile(t *testing.T) {
	tests := []struct {
		name    string
		tracked bool
	}{
		{name: "tracked", tracked: true},
		{name: "untracked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ib := newCache(t)
			ctx := context.Background()

			require.NoError(t, ib.MakeDir(ctx, "d", backend.DirOptions{}))
			require.NoError(t, ib.WriteBytes(ctx, "d/gone.txt", []byte("old"), backend.WriteOptions{}))
			if tt.tracked {
				require.Equal(t, []string{"gone.txt"}, c.ListDir(ctx, "d"))
			}

			started, release := ib.GateReads()
			done := make(chan struct{})
			go func() {
				defer close(done)
				c.ReadString(ctx, "d/gone.txt")
			}()

			<-started
			require.True(t, c.RemoveFile(ctx, "d/gone.txt"))
			release()
			<-done

			assert.False(t, c.Table().Contains("d/gone.txt"))
			_, ok := c.ReadString(ctx, "d/gone.txt")
			assert.False(t, ok)
		})
	}
}

func TestWriteString_VisibleToFreshCache(t *testing.T) {
	b := fsbackend.NewMemoryBackend()
	ctx := context.Background()

	writer := cache.New(b)
	require.True(t, writer.WriteString(ctx, "note.txt", "durable", backend.WriteOptions{}))

	entry, ok := writer.Table().Payload("note.txt")
	require.True(t, ok)
	assert.False(t, entry.Dirty, "write-through leaves the entry clean")

	reader := cache.New(b)
	s, ok := reader.ReadString(ctx, "note.txt")
	require.True(t, ok)
	assert.Equal(t, "durable", s)
}

func TestWriteBytes_RollbackOnFailure(t *testing.T) {
	c, ib := newCache(t)
	ctx := context.Background()

	require.True(t, c.WriteString(ctx, "f.txt", "v1", backend.WriteOptions{}))

	ib.InjectFault(backendtesting.OpWriteBytes, "f.txt", assert.AnError, 1)
	assert.False(t, c.WriteString(ctx, "f.txt", "v2", backend.WriteOptions{}))

	s, ok := c.ReadString(ctx, "f.txt")
	require.True(t, ok)
	assert.Equal(t, "v1", s, "table keeps the last durable payload")

	ib.InjectFault(backendtesting.OpWriteBytes, "new.txt", assert.AnError, 1)
	assert.False(t, c.WriteString(ctx, "new.txt", "x", backend.WriteOptions{}))
	assert.False(t, c.Table().Contains("new.txt"))
}

func TestWriteBytes_RollbackDropsImplicitParent(t *testing.T) {
	c, ib := newCache(t)
	ctx := context.Background()

	ib.InjectFault(backendtesting.OpWriteBytes, "fresh/x.txt", assert.AnError, 1)
	assert.False(t, c.WriteString(ctx, "fresh/x.txt", "x", backend.WriteOptions{}))
	assert.False(t, c.Table().Contains("fresh/x.txt"))
	assert.False(t, c.Table().Contains("fresh"), "no directory left behind")

	ib.InjectFault(backendtesting.OpAppendBytes, "other/log.txt", assert.AnError, 1)
	assert.False(t, c.AppendString(ctx, "other/log.txt", "x", backend.WriteOptions{}))
	assert.False(t, c.Table().Contains("other"))

	// A directory the table already knew survives the rollback.
	require.True(t, c.MakeDir(ctx, "known"))
	ib.InjectFault(backendtesting.OpWriteBytes, "known/x.txt", assert.AnError, 1)
	assert.False(t, c.WriteString(ctx, "known/x.txt", "x", backend.WriteOptions{}))
	_, ok := c.Table().Directory("known")
	assert.True(t, ok)
	assert.Empty(t, c.Table().Children("known"))
}

func TestReadStructured_MalformedLeavesTargetUntouched(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	require.True(t, c.WriteString(ctx, "bad.json", `{"k": `, backend.WriteOptions{}))

	got := record{K: 7, Name: "kept"}
	assert.False(t, c.ReadStructured(ctx, "bad.json", &got))
	assert.Equal(t, record{K: 7, Name: "kept"}, got)

	assert.False(t, c.ReadStructured(ctx, "bad.json", got), "non-pointer target")
}

func TestReadStructured_LenientJSON(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	require.True(t, c.WriteString(ctx, "edited.json", "{\n  // hand edited\n  \"k\": 3,\n}", backend.WriteOptions{}))

	var got record
	require.True(t, c.ReadStructured(ctx, "edited.json", &got))
	assert.Equal(t, 3, got.K)
}

func TestRawRead(t *testing.T) {
	c, ib := newCache(t)
	ctx := context.Background()

	_, err := c.RawRead(ctx, "missing.json")
	assert.ErrorIs(t, err, backend.ErrNotFound)

	var v record
	assert.ErrorIs(t, c.RawReadStructured(ctx, "missing.json", &v), backend.ErrNotFound)

	require.NoError(t, ib.WriteBytes(ctx, "empty.json", nil, backend.WriteOptions{}))
	data, err := c.RawRead(ctx, "empty.json")
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.False(t, c.Table().Contains("empty.json"), "raw reads bypass the table")

	require.NoError(t, ib.WriteBytes(ctx, "r.json", []byte(`{"k":5}`), backend.WriteOptions{}))
	require.NoError(t, c.RawReadStructured(ctx, "r.json", &v))
	assert.Equal(t, 5, v.K)

	require.NoError(t, ib.WriteBytes(ctx, "bad.json", []byte(`nope`), backend.WriteOptions{}))
	assert.Error(t, c.RawReadStructured(ctx, "bad.json", &v))
	assert.Equal(t, 5, v.K)
}

func TestWriteStructured_EncodeError(t *testing.T) {
	c, ib := newCache(t)

	assert.False(t, c.WriteStructured(context.Background(), "x.json", make(chan int), backend.WriteOptions{}))
	assert.Zero(t, ib.Calls(backendtesting.OpWriteBytes))
	assert.False(t, c.Table().Contains("x.json"))
}

func TestAppendString(t *testing.T) {
	c, ib := newCache(t)
	ctx := context.Background()

	require.True(t, c.WriteString(ctx, "log.txt", "a", backend.WriteOptions{}))
	require.True(t, c.AppendString(ctx, "log.txt", "b", backend.WriteOptions{}))

	s, ok := c.ReadString(ctx, "log.txt")
	require.True(t, ok)
	assert.Equal(t, "ab", s)

	entry, _ := c.Table().Payload("log.txt")
	assert.False(t, entry.Dirty)

	data, err := ib.ReadBytes(ctx, "log.txt")
	require.NoError(t, err)
	assert.Equal(t, "ab", string(data))

	// Appending to a file the cache never read leaves it unloaded.
	require.NoError(t, ib.WriteBytes(ctx, "cold.txt", []byte("x"), backend.WriteOptions{}))
	require.True(t, c.AppendString(ctx, "cold.txt", "y", backend.WriteOptions{}))
	entry, ok = c.Table().Payload("cold.txt")
	require.True(t, ok)
	assert.False(t, entry.Loaded)

	s, ok = c.ReadString(ctx, "cold.txt")
	require.True(t, ok)
	assert.Equal(t, "xy", s)
}

func TestCodecOption(t *testing.T) {
	c, ib := newCache(t, cache.WithCodec(codec.YAML))
	ctx := context.Background()

	require.True(t, c.WriteStructured(ctx, "r.yaml", record{K: 2, Name: "two"}, backend.WriteOptions{}))

	data, err := ib.ReadBytes(ctx, "r.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: two")

	fresh := cache.New(ib, cache.WithCodec(codec.YAML))
	var got record
	require.True(t, fresh.ReadStructured(ctx, "r.yaml", &got))
	assert.Equal(t, record{K: 2, Name: "two"}, got)
}

// ============================================================================
// Metrics
// ============================================================================

func TestMetrics(t *testing.T) {
	m := newCountingMetrics()
	c, ib := newCache(t, cache.WithMetrics(m))
	ctx := context.Background()

	require.NoError(t, ib.WriteBytes(ctx, "a.txt", []byte("a"), backend.WriteOptions{}))
	_, _ = c.ReadString(ctx, "a.txt")
	_, _ = c.ReadString(ctx, "a.txt")
	_, _ = c.ReadString(ctx, "missing.txt")
	c.SyncFiles(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 1, m.hits)
	assert.Equal(t, 2, m.misses)
	assert.Equal(t, 1, m.ops["read/none"])
	assert.Equal(t, 1, m.ops["read/not_found"])
	assert.Equal(t, 1, m.flushes)
	assert.Zero(t, m.dirty)
}

func TestNilOptionsKeepDefaults(t *testing.T) {
	c := cache.New(fsbackend.NewMemoryBackend(), cache.WithMetrics(nil), cache.WithCodec(nil), cache.WithTable(nil))
	assert.NotNil(t, c.Table())
	assert.Equal(t, "json", c.Codec().Name())
	assert.True(t, c.WriteString(context.Background(), "x", "y", backend.WriteOptions{}))
}
