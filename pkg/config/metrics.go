package config

import (
	"github.com/marmos91/shadowfs/pkg/cache"
	"github.com/marmos91/shadowfs/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// CacheMetrics is handed to the file cache (nil if disabled, which keeps
	// the cache's no-op implementation)
	CacheMetrics cache.Metrics
}

// InitializeMetrics creates the metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates the Prometheus-backed cache metrics
//
// If metrics are disabled an empty result is returned and components run
// without collection.
//
// The retry queue is registered separately with metrics.RegisterRetryQueue
// once it exists.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port:            cfg.Metrics.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	return &MetricsResult{
		Server:       server,
		CacheMetrics: metrics.NewCacheMetrics(),
	}
}
