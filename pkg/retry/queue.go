package retry

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/internal/ratelimiter"
)

// QueueConfig configures a Queue.
type QueueConfig struct {
	// RatePerSecond paces retries (0 disables pacing)
	RatePerSecond float64 `mapstructure:"rate_per_second"`

	// Burst is how many retries may run back to back
	Burst int `mapstructure:"burst"`

	// Size bounds the number of waiting operations (default: 1024)
	Size int `mapstructure:"queue_size"`
}

// QueueStats are cumulative counters of a Queue.
type QueueStats struct {
	Deferred uint64
	Executed uint64
	Failed   uint64
	Dropped  uint64
}

// Queue is a Deferrer that runs operations on one background worker, paced
// by a token bucket.
//
// Defer never blocks: when the queue is full (or closed) the operation is
// dropped and a warning is logged. A retried operation that exhausts the
// backend again typically re-defers itself through the cache, so the queue
// keeps draining at the configured rate until the backend recovers.
type Queue struct {
	ops     chan Operation
	limiter *ratelimiter.RateLimiter

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	deferred atomic.Uint64
	executed atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
}

// NewQueue creates a queue and starts its worker.
func NewQueue(cfg QueueConfig) *Queue {
	size := cfg.Size
	if size <= 0 {
		size = 1024
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		ops:     make(chan Operation, size),
		limiter: ratelimiter.New(cfg.RatePerSecond, cfg.Burst),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go q.worker()
	return q
}

// Defer enqueues op without blocking.
func (q *Queue) Defer(op Operation) {
	if op == nil {
		return
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.dropped.Add(1)
		logger.Warn("retry queue closed, dropping deferred operation")
		return
	}

	select {
	case q.ops <- op:
		q.deferred.Add(1)
	default:
		q.dropped.Add(1)
		logger.Warn("retry queue full (%d pending), dropping deferred operation", cap(q.ops))
	}
}

func (q *Queue) worker() {
	defer close(q.done)

	for op := range q.ops {
		if err := q.limiter.Wait(q.ctx); err != nil {
			// Abandoned by Close: discard what is left.
			q.dropped.Add(1)
			continue
		}

		if err := op(q.ctx); err != nil {
			q.failed.Add(1)
			logger.Debug("deferred operation failed: %v", err)
			continue
		}
		q.executed.Add(1)
	}
}

// Pending returns the number of operations waiting to run.
func (q *Queue) Pending() int {
	return len(q.ops)
}

// Stats returns the cumulative counters.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Deferred: q.deferred.Load(),
		Executed: q.executed.Load(),
		Failed:   q.failed.Load(),
		Dropped:  q.dropped.Load(),
	}
}

// Close stops accepting operations and drains the queue. If ctx ends first
// the remaining operations are abandoned and ctx.Err() is returned. Close is
// idempotent.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ops)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

var _ Deferrer = (*Queue)(nil)
