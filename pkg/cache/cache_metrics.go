package cache

import (
	"time"
)

// Metrics provides observability for FileCache operations.
//
// This is optional: without WithMetrics the cache uses a no-op
// implementation. pkg/metrics provides the Prometheus implementation.
type Metrics interface {
	// RecordHit records a read served from the shadow table
	RecordHit()

	// RecordMiss records a read that went to the backend
	RecordMiss()

	// ObserveBackendOp records one backend call and how it ended
	// (result is a backend.Kind name: "none", "not_found", ...)
	ObserveBackendOp(op string, result string, duration time.Duration)

	// RecordDeferred records an operation handed to the retry hook
	RecordDeferred(op string)

	// ObserveFlush records one SyncFiles pass
	ObserveFlush(files int, failures int, duration time.Duration)

	// RecordDirtyFiles records the size of the dirty set
	RecordDirtyFiles(count int)
}

// noopMetrics is the default no-op metrics implementation
type noopMetrics struct{}

func (noopMetrics) RecordHit()                                     {}
func (noopMetrics) RecordMiss()                                    {}
func (noopMetrics) ObserveBackendOp(string, string, time.Duration) {}
func (noopMetrics) RecordDeferred(string)                          {}
func (noopMetrics) ObserveFlush(int, int, time.Duration)           {}
func (noopMetrics) RecordDirtyFiles(int)                           {}
