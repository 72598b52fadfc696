// Package backoff provides exponential backoff with a cap and additive jitter
// for retry loops.
package backoff

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

const maxShift = 62

// Policy describes a capped exponential backoff schedule. The delay before
// retry attempt n is min(Cap, Base*2^(n-1)) plus a uniform random jitter in
// [0, Jitter).
type Policy struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter time.Duration
}

// Delay returns the backoff duration before the given retry attempt.
// Attempt numbers start at 1; values below 1 are treated as 1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := Exponential(p.Base, attempt-1)
	if p.Cap > 0 && delay > p.Cap {
		delay = p.Cap
	}

	return delay + jitter(p.Jitter)
}

// Exponential calculates base * 2^exponent with overflow protection.
// Negative exponents are treated as 0.
func Exponential(base time.Duration, exponent int) time.Duration {
	if base <= 0 {
		return 0
	}

	if exponent < 0 {
		exponent = 0
	} else if exponent > maxShift {
		exponent = maxShift
	}

	multiplier := int64(1 << exponent)

	baseInt := int64(base)
	if baseInt > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(baseInt * multiplier)
}

// jitter returns a random duration in [0, limit). Returns 0 when limit is
// zero or negative.
func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}

	return time.Duration(rand.Int64N(int64(limit)))
}

// SleepWithContext sleeps for the given duration but respects context
// cancellation. Returns immediately for zero or negative durations.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
