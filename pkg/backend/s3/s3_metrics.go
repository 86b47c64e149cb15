package s3

import "time"

// Metrics provides observability for S3 requests.
//
// It is optional: a nil Config.Metrics selects a no-op implementation.
type Metrics interface {
	// ObserveOperation records one S3 request with its duration and outcome.
	// operation is the request name: "get", "put", "head", "list", "copy",
	// "delete" or "delete_batch".
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records payload bytes moved by a "get" or "put".
	RecordBytes(operation string, bytes int64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordBytes(string, int64)                     {}

// observe reports a request started at start. Call it with defer.
func (s *S3Backend) observe(operation string, start time.Time, err *error) {
	s.metrics.ObserveOperation(operation, time.Since(start), *err)
}
