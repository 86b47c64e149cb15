// Package metrics provides Prometheus metrics for shadowfs components.
//
// Metrics are optional. Until InitRegistry is called every constructor
// returns nil and components fall back to their no-op implementations.
//
// Usage:
//
//	metrics.InitRegistry()
//	fc := cache.New(b, cache.WithMetrics(metrics.NewCacheMetrics()))
//	metrics.RegisterRetryQueue(queue)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry with the Go runtime and
// process collectors. Later calls are no-ops.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the registry, or nil while metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
