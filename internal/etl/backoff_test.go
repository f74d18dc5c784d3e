package etl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Delay_Doubling(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, BackoffFactor: 2, MaxDelay: 10 * time.Second}

	require.Equal(t, 1*time.Second, p.Delay(1))
	require.Equal(t, 2*time.Second, p.Delay(2))
	require.Equal(t, 4*time.Second, p.Delay(3))
}

func TestRetryPolicy_Delay_CappedAndMonotonic(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 50, BaseDelay: 250 * time.Millisecond, BackoffFactor: 3, MaxDelay: 5 * time.Second, Jitter: 100 * time.Millisecond}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 200; attempt++ {
		d := p.Delay(attempt)
		require.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		require.LessOrEqual(t, d, p.MaxDelay+p.Jitter, "attempt %d", attempt)
		prev = d
	}
	require.Equal(t, p.MaxDelay+p.Jitter, p.Delay(200))
}

func TestRetryPolicy_Delay_RandomJitterBounded(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, BackoffFactor: 2, MaxDelay: 10 * time.Second, Jitter: 50 * time.Millisecond, RandomJitter: true}

	for i := 0; i < 500; i++ {
		d := p.Delay(2)
		require.GreaterOrEqual(t, d, 2*time.Second)
		require.LessOrEqual(t, d, 2*time.Second+p.Jitter)
	}
}

func TestRetryPolicy_Delay_AttemptBelowOne(t *testing.T) {
	p := DefaultRetryPolicy()
	require.Equal(t, p.Delay(1), p.Delay(0))
}

func TestRetryPolicy_Validate(t *testing.T) {
	require.NoError(t, DefaultRetryPolicy().validate())

	bad := DefaultRetryPolicy()
	bad.MaxAttempts = 0
	require.ErrorIs(t, bad.validate(), ErrInvalidConfig)

	bad = DefaultRetryPolicy()
	bad.BackoffFactor = 1
	require.ErrorIs(t, bad.validate(), ErrInvalidConfig)
}
