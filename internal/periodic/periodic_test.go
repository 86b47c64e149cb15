package periodic

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_RunsUntilStopped(t *testing.T) {
	task := New("test")

	var ticks atomic.Int32
	task.Start(5*time.Millisecond, func() { ticks.Add(1) })
	require.True(t, task.Running())

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)

	task.Stop()
	assert.False(t, task.Running())

	after := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, ticks.Load(), "no ticks after Stop")
}

func TestTask_StopIdempotent(t *testing.T) {
	task := New("test")
	task.Stop()
	task.Stop()

	task.Start(time.Hour, func() {})
	task.Stop()
	task.Stop()
	assert.False(t, task.Running())
}

func TestTask_RestartReplacesLoop(t *testing.T) {
	task := New("test")
	defer task.Stop()

	var first, second atomic.Int32
	task.Start(5*time.Millisecond, func() { first.Add(1) })
	require.Eventually(t, func() bool { return first.Load() > 0 }, time.Second, time.Millisecond)

	task.Start(5*time.Millisecond, func() { second.Add(1) })
	stopped := first.Load()

	require.Eventually(t, func() bool { return second.Load() >= 2 }, time.Second, time.Millisecond)
	assert.Equal(t, stopped, first.Load(), "previous loop no longer ticks")
}

func TestTask_NonPositiveInterval(t *testing.T) {
	task := New("test")
	task.Start(time.Hour, func() {})
	require.True(t, task.Running())

	task.Start(0, func() {})
	assert.False(t, task.Running())
}

func TestTask_StopWaitsForInFlight(t *testing.T) {
	task := New("test")

	entered := make(chan struct{}, 1)
	var finished atomic.Bool
	task.Start(time.Millisecond, func() {
		select {
		case entered <- struct{}{}:
		default:
		}
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	})

	<-entered
	task.Stop()
	assert.True(t, finished.Load())
}
