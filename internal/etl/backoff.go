package etl

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Delay returns how long to wait after the given failed attempt (1-based):
//
//	min(MaxDelay, BaseDelay * BackoffFactor^(attempt-1)) + jitter
//
// With a fixed jitter the result never decreases as attempt grows.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if d > float64(p.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d) + p.jitter()
}

func (p RetryPolicy) jitter() time.Duration {
	if p.Jitter <= 0 {
		return 0
	}
	if p.RandomJitter {
		return time.Duration(rand.Int64N(int64(p.Jitter) + 1))
	}
	return p.Jitter
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
