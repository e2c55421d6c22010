package backoff

import (
	"context"
	"time"
)

// MaxExponent bounds the doubling in Exponential so the shift never overflows.
const MaxExponent = 10

// Exponential returns min(maxDelay, base * 2^min(MaxExponent, attempt)).
// Negative attempts are treated as zero.
func Exponential(base, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > MaxExponent {
		attempt = MaxExponent
	}
	d := base << uint(attempt)
	if d > maxDelay || d < base {
		return maxDelay
	}
	return d
}

// Backoff implements exponential backoff with configurable parameters.
// It is used by long-running loops that reconnect to an external service.
type Backoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	currentDelay time.Duration
}

// New creates a new Backoff with the specified parameters.
// initialDelay is the delay before the first retry.
// maxDelay is the maximum delay between retries.
// multiplier is the factor by which the delay increases after each retry.
func New(initialDelay, maxDelay time.Duration, multiplier float64) *Backoff {
	return &Backoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		multiplier:   multiplier,
		currentDelay: initialDelay,
	}
}

// Wait waits for the current backoff duration, respecting context cancellation.
// Returns nil if the wait completed successfully, or ctx.Err() if the context was cancelled.
// After a successful wait, the backoff duration is increased for the next call.
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.currentDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		b.currentDelay = time.Duration(float64(b.currentDelay) * b.multiplier)
		if b.currentDelay > b.maxDelay {
			b.currentDelay = b.maxDelay
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset resets the backoff to its initial delay.
func (b *Backoff) Reset() {
	b.currentDelay = b.initialDelay
}

// CurrentDelay returns the current backoff delay.
func (b *Backoff) CurrentDelay() time.Duration {
	return b.currentDelay
}
