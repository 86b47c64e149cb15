package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/shadowfs/pkg/retry"
)

// RegisterRetryQueue exports the counters of a retry queue.
//
// The values are read from the queue at scrape time. Does nothing when
// metrics are not enabled.
func RegisterRetryQueue(q *retry.Queue) error {
	if !IsEnabled() || q == nil {
		return nil
	}
	return registerRetryQueue(GetRegistry(), q)
}

func registerRetryQueue(reg prometheus.Registerer, q *retry.Queue) error {
	counter := func(name, help string, value func(retry.QueueStats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: name, Help: help},
			func() float64 { return float64(value(q.Stats())) },
		)
	}

	collectors := []prometheus.Collector{
		counter("shadowfs_retry_deferred_total", "Operations accepted by the retry queue",
			func(s retry.QueueStats) uint64 { return s.Deferred }),
		counter("shadowfs_retry_executed_total", "Deferred operations that succeeded",
			func(s retry.QueueStats) uint64 { return s.Executed }),
		counter("shadowfs_retry_failed_total", "Deferred operations that failed again",
			func(s retry.QueueStats) uint64 { return s.Failed }),
		counter("shadowfs_retry_dropped_total", "Operations dropped because the queue was full or closed",
			func(s retry.QueueStats) uint64 { return s.Dropped }),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "shadowfs_retry_pending",
				Help: "Operations waiting in the retry queue",
			},
			func() float64 { return float64(q.Pending()) },
		),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
