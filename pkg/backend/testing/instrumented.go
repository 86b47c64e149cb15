package testing

import (
	"context"
	"sync"

	"github.com/marmos91/shadowfs/pkg/backend"
)

// Operation names recorded by Instrumented.
const (
	OpMakeDir     = "MakeDir"
	OpRemoveDir   = "RemoveDir"
	OpRemoveFile  = "RemoveFile"
	OpReadBytes   = "ReadBytes"
	OpWriteBytes  = "WriteBytes"
	OpAppendBytes = "AppendBytes"
	OpCopyFile    = "CopyFile"
	OpRename      = "Rename"
	OpListDir     = "ListDir"
	OpExists      = "Exists"
)

// Instrumented wraps a Backend to count calls, inject faults and hold copies
// or reads in flight. It is meant for tests of the layers built on top of a backend.
//
// Example:
//
//	ib := testing.NewInstrumented(fs.NewMemoryBackend())
//	ib.InjectFault(testing.OpWriteBytes, "a.json", backend.ErrResourceExhausted, 1)
//	c := cache.New(ib)
type Instrumented struct {
	backend.Backend

	mu     sync.Mutex
	calls  map[string]int
	paths  map[string][]string
	faults []*fault

	gates map[string]*gate
}

type gate struct {
	open    chan struct{}
	started chan string
}

type fault struct {
	op    string
	path  string
	err   error
	times int
}

// NewInstrumented wraps b.
func NewInstrumented(b backend.Backend) *Instrumented {
	return &Instrumented{
		Backend: b,
		calls:   make(map[string]int),
		paths:   make(map[string][]string),
		gates:   make(map[string]*gate),
	}
}

// Calls returns how many times op was invoked.
func (i *Instrumented) Calls(op string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.calls[op]
}

// Paths returns the paths op was invoked with, in call order.
func (i *Instrumented) Paths(op string) []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.paths[op]...)
}

// Reset clears call counters. Faults and gates are kept.
func (i *Instrumented) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls = make(map[string]int)
	i.paths = make(map[string][]string)
}

// InjectFault makes the next times calls of op on path fail with err.
// An empty path matches every path; times <= 0 fails forever.
func (i *Instrumented) InjectFault(op, path string, err error, times int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.faults = append(i.faults, &fault{op: op, path: backend.CleanPath(path), err: err, times: times})
}

// ClearFaults removes every injected fault.
func (i *Instrumented) ClearFaults() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.faults = nil
}

// GateCopies makes every CopyFile block until release is called. The started
// channel receives the source path of each copy once it is held.
func (i *Instrumented) GateCopies() (started <-chan string, release func()) {
	return i.gateOp(OpCopyFile)
}

// GateReads makes every ReadBytes block after the wrapped backend returned,
// until release is called. The started channel receives each held path.
func (i *Instrumented) GateReads() (started <-chan string, release func()) {
	return i.gateOp(OpReadBytes)
}

func (i *Instrumented) gateOp(op string) (<-chan string, func()) {
	i.mu.Lock()
	defer i.mu.Unlock()

	g := &gate{open: make(chan struct{}), started: make(chan string, 64)}
	i.gates[op] = g

	var once sync.Once
	return g.started, func() {
		once.Do(func() {
			i.mu.Lock()
			if i.gates[op] == g {
				delete(i.gates, op)
			}
			i.mu.Unlock()
			close(g.open)
		})
	}
}

// hold blocks while op is gated.
func (i *Instrumented) hold(ctx context.Context, op, path string) error {
	i.mu.Lock()
	g := i.gates[op]
	i.mu.Unlock()

	if g == nil {
		return nil
	}
	select {
	case g.started <- backend.CleanPath(path):
	default:
	}
	select {
	case <-g.open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// record counts the call and returns the fault to raise, if any.
func (i *Instrumented) record(op, path string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.calls[op]++
	clean := backend.CleanPath(path)
	i.paths[op] = append(i.paths[op], clean)

	for idx, f := range i.faults {
		if f.op != op || (f.path != "" && f.path != clean) {
			continue
		}
		if f.times > 0 {
			f.times--
			if f.times == 0 {
				i.faults = append(i.faults[:idx], i.faults[idx+1:]...)
			}
		}
		return f.err
	}
	return nil
}

func (i *Instrumented) MakeDir(ctx context.Context, path string, opts backend.DirOptions) error {
	if err := i.record(OpMakeDir, path); err != nil {
		return err
	}
	return i.Backend.MakeDir(ctx, path, opts)
}

func (i *Instrumented) RemoveDir(ctx context.Context, path string, opts backend.DirOptions) error {
	if err := i.record(OpRemoveDir, path); err != nil {
		return err
	}
	return i.Backend.RemoveDir(ctx, path, opts)
}

func (i *Instrumented) RemoveFile(ctx context.Context, path string) error {
	if err := i.record(OpRemoveFile, path); err != nil {
		return err
	}
	return i.Backend.RemoveFile(ctx, path)
}

func (i *Instrumented) ReadBytes(ctx context.Context, path string) ([]byte, error) {
	if err := i.record(OpReadBytes, path); err != nil {
		return nil, err
	}
	data, err := i.Backend.ReadBytes(ctx, path)
	if herr := i.hold(ctx, OpReadBytes, path); herr != nil {
		return nil, herr
	}
	return data, err
}

func (i *Instrumented) WriteBytes(ctx context.Context, path string, data []byte, opts backend.WriteOptions) error {
	if err := i.record(OpWriteBytes, path); err != nil {
		return err
	}
	return i.Backend.WriteBytes(ctx, path, data, opts)
}

func (i *Instrumented) AppendBytes(ctx context.Context, path string, data []byte, opts backend.WriteOptions) error {
	if err := i.record(OpAppendBytes, path); err != nil {
		return err
	}
	return i.Backend.AppendBytes(ctx, path, data, opts)
}

func (i *Instrumented) CopyFile(ctx context.Context, src, dst string) error {
	if err := i.record(OpCopyFile, src); err != nil {
		return err
	}

	if err := i.hold(ctx, OpCopyFile, src); err != nil {
		return err
	}
	return i.Backend.CopyFile(ctx, src, dst)
}

func (i *Instrumented) Rename(ctx context.Context, src, dst string) error {
	if err := i.record(OpRename, src); err != nil {
		return err
	}
	return i.Backend.Rename(ctx, src, dst)
}

func (i *Instrumented) ListDir(ctx context.Context, path string) ([]backend.DirEntry, error) {
	if err := i.record(OpListDir, path); err != nil {
		return nil, err
	}
	return i.Backend.ListDir(ctx, path)
}

// Exists swallows injected faults as false, matching the contract.
func (i *Instrumented) Exists(ctx context.Context, path string, access backend.Access) bool {
	if err := i.record(OpExists, path); err != nil {
		return false
	}
	return i.Backend.Exists(ctx, path, access)
}

var _ backend.Backend = (*Instrumented)(nil)
