package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter paces work using the token bucket algorithm.
//
// It wraps golang.org/x/time/rate. shadowfs uses it to space out retries of
// operations that failed because the backend ran out of handles, so a burst of
// deferred work does not immediately exhaust the backend again.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter.
//
// Parameters:
//   - perSecond: Sustained rate in operations per second. Fractions are
//     allowed (0.5 means one operation every two seconds). Zero or less
//     disables limiting.
//   - burst: Bucket capacity. Values below 1 are raised to 1 so a limited
//     bucket can always make progress.
func New(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Unlimited reports whether the limiter lets everything through.
func (r *RateLimiter) Unlimited() bool {
	return r.limiter.Limit() == rate.Inf
}

// Allow consumes a token if one is available, without waiting.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// SetRate changes the sustained rate. Zero or less disables limiting.
func (r *RateLimiter) SetRate(perSecond float64) {
	if perSecond <= 0 {
		r.limiter.SetLimit(rate.Inf)
		return
	}
	r.limiter.SetLimit(rate.Limit(perSecond))
	if r.limiter.Burst() < 1 {
		r.limiter.SetBurst(1)
	}
}

// Rate returns the sustained rate, or 0 when unlimited.
func (r *RateLimiter) Rate() float64 {
	if r.Unlimited() {
		return 0
	}
	return float64(r.limiter.Limit())
}
