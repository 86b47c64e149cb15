// Package retry defines the hook the cache layer uses to hand off operations
// that failed because the backend ran out of handles.
//
// The cache only depends on the Deferrer contract. When and how a deferred
// operation runs again is the Deferrer's business; Queue is one rate-limited
// implementation.
package retry

import (
	"context"
)

// Operation re-runs a failed call with the arguments it was first given.
// It returns nil when the retried call succeeded.
type Operation func(ctx context.Context) error

// Deferrer accepts operations to retry later. Defer must not block the
// caller for long: it is called on the failure path of cache operations.
type Deferrer interface {
	Defer(op Operation)
}

// DeferFunc adapts a function to the Deferrer interface.
type DeferFunc func(op Operation)

// Defer calls f(op).
func (f DeferFunc) Defer(op Operation) {
	f(op)
}
