package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/shadowfs/pkg/cache"
)

// cacheMetrics is the Prometheus implementation of cache.Metrics.
//
// It collects:
//   - Shadow table hit and miss counts
//   - Backend operation counts and latencies by operation and result
//   - Operations handed to the retry hook
//   - Flush pass sizes, failures and durations
//   - The number of dirty entries after the last flush
type cacheMetrics struct {
	lookups         *prometheus.CounterVec
	backendOps      *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	deferred        *prometheus.CounterVec
	flushFiles      prometheus.Counter
	flushFailures   prometheus.Counter
	flushDuration   prometheus.Histogram
	dirtyFiles      prometheus.Gauge
}

// NewCacheMetrics creates a Prometheus-backed cache.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// makes the cache keep its built-in no-op implementation.
func NewCacheMetrics() cache.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newCacheMetrics(GetRegistry())
}

func newCacheMetrics(reg prometheus.Registerer) *cacheMetrics {
	return &cacheMetrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shadowfs_cache_lookups_total",
				Help: "Shadow table lookups by result (hit or miss)",
			},
			[]string{"result"},
		),
		backendOps: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shadowfs_cache_backend_operations_total",
				Help: "Backend operations issued by the cache layer by operation and result",
			},
			[]string{"operation", "result"},
		),
		backendDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "shadowfs_cache_backend_operation_duration_seconds",
				Help: "Duration of backend operations issued by the cache layer",
				Buckets: []float64{
					0.0001, // 100µs
					0.001,  // 1ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1,      // 1s
					5,      // 5s
				},
			},
			[]string{"operation"},
		),
		deferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shadowfs_cache_deferred_operations_total",
				Help: "Operations handed to the retry hook after resource exhaustion",
			},
			[]string{"operation"},
		),
		flushFiles: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "shadowfs_cache_flushed_files_total",
				Help: "Dirty entries picked up by flush passes",
			},
		),
		flushFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "shadowfs_cache_flush_failures_total",
				Help: "Dirty entries a flush pass failed to write",
			},
		),
		flushDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shadowfs_cache_flush_duration_seconds",
				Help:    "Duration of flush passes",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
		),
		dirtyFiles: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "shadowfs_cache_dirty_files",
				Help: "Dirty entries left after the last flush pass",
			},
		),
	}
}

// RecordHit implements cache.Metrics.RecordHit
func (m *cacheMetrics) RecordHit() {
	m.lookups.WithLabelValues("hit").Inc()
}

// RecordMiss implements cache.Metrics.RecordMiss
func (m *cacheMetrics) RecordMiss() {
	m.lookups.WithLabelValues("miss").Inc()
}

// ObserveBackendOp implements cache.Metrics.ObserveBackendOp
func (m *cacheMetrics) ObserveBackendOp(op, result string, duration time.Duration) {
	m.backendOps.WithLabelValues(op, result).Inc()
	m.backendDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordDeferred implements cache.Metrics.RecordDeferred
func (m *cacheMetrics) RecordDeferred(op string) {
	m.deferred.WithLabelValues(op).Inc()
}

// ObserveFlush implements cache.Metrics.ObserveFlush
func (m *cacheMetrics) ObserveFlush(files, failures int, duration time.Duration) {
	if files == 0 {
		return
	}
	m.flushFiles.Add(float64(files))
	m.flushFailures.Add(float64(failures))
	m.flushDuration.Observe(duration.Seconds())
}

// RecordDirtyFiles implements cache.Metrics.RecordDirtyFiles
func (m *cacheMetrics) RecordDirtyFiles(count int) {
	m.dirtyFiles.Set(float64(count))
}
