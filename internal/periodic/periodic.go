// Package periodic runs a function on a fixed interval in an owned goroutine.
//
// It backs the cache flush timer and the directory backup timer. A Task is
// restartable: Start on a running task stops the previous loop first, so at
// most one loop runs per Task.
package periodic

import (
	"sync"
	"time"

	"github.com/marmos91/shadowfs/internal/logger"
)

// Task is a restartable ticker loop.
type Task struct {
	name string

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a stopped task. name only shows up in log messages.
func New(name string) *Task {
	return &Task{name: name}
}

// Start runs fn every interval until Stop. A non-positive interval only stops
// the current loop.
//
// fn runs on the task goroutine, so ticks never overlap: a tick that fires
// while fn is still running is dropped by the ticker.
func (t *Task) Start(interval time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()

	if interval <= 0 {
		logger.Warn("%s: not started, interval must be positive (got %s)", t.name, interval)
		return
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	t.stopCh, t.doneCh = stopCh, doneCh

	go func() {
		defer close(doneCh)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logger.Debug("%s started: interval=%s", t.name, interval)

		for {
			select {
			case <-ticker.C:
				fn()
			case <-stopCh:
				logger.Debug("%s stopped", t.name)
				return
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight fn to return.
// Safe to call when nothing is running.
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// Running reports whether a loop is active.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopCh != nil
}

func (t *Task) stopLocked() {
	if t.stopCh == nil {
		return
	}
	close(t.stopCh)
	<-t.doneCh
	t.stopCh, t.doneCh = nil, nil
}
