// Package retry implements the upstream retry policy: exponential backoff
// with jitter, applied only to transient failures.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"rxsearch/internal/fault"
)

// Policy describes one backoff schedule. The zero value is not usable; start
// from Default and override fields as needed.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// Base is the delay before the second attempt.
	Base time.Duration
	// Factor multiplies the delay after each attempt.
	Factor float64
	// Jitter scales each delay by a random factor in [1-Jitter, 1+Jitter].
	Jitter float64
}

// Default is the standard upstream policy: 3 attempts, 100 ms base, factor 2,
// jitter ±25%.
func Default() Policy {
	return Policy{MaxAttempts: 3, Base: 100 * time.Millisecond, Factor: 2, Jitter: 0.25}
}

// Delay returns the backoff before attempt n (n starts at 1 for the first
// retry), before jitter.
func (p Policy) Delay(n int) time.Duration {
	d := float64(p.Base)
	for i := 1; i < n; i++ {
		d *= p.Factor
	}
	return time.Duration(d)
}

// jittered applies the policy's jitter to d.
func (p Policy) jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return d
	}
	// Scale by a uniform factor in [1-Jitter, 1+Jitter].
	f := 1 - p.Jitter + 2*p.Jitter*rand.Float64()
	return time.Duration(float64(d) * f)
}

// Do runs fn up to MaxAttempts times, sleeping between attempts. Only errors
// classified fault.UpstreamTransient are retried; any other error returns
// immediately. When attempts are exhausted the last error is re-wrapped as
// fault.UpstreamUnavailable so callers surface 503.
//
// Cancellation is honored between attempts: a cancelled context aborts the
// backoff sleep and returns ctx.Err().
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(p.jittered(p.Delay(attempt - 1)))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !fault.IsTransient(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fault.E(fault.UpstreamUnavailable, op, lastErr)
}
