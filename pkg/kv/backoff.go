package kv

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy calculates the delay before retry attempt n (starting at 1).
type BackoffStrategy interface {
	NextInterval(attempt int) time.Duration
}

// ExponentialBackoff grows the delay geometrically and spreads it with jitter,
// so writers that collided once do not collide again on the next attempt.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	JitterFactor    float64
}

// NextInterval returns min(Initial * Multiplier^(attempt-1) * (1 ± Jitter), Max).
func (e ExponentialBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	initial := e.InitialInterval
	if initial == 0 {
		initial = 5 * time.Millisecond
	}
	maxInterval := e.MaxInterval
	if maxInterval == 0 {
		maxInterval = 500 * time.Millisecond
	}
	multiplier := e.Multiplier
	if multiplier == 0 {
		multiplier = 2
	}

	interval := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if e.JitterFactor > 0 {
		interval *= 1 + (rand.Float64()*2-1)*e.JitterFactor
	}
	if interval > float64(maxInterval) {
		interval = float64(maxInterval)
	}
	return time.Duration(interval)
}

// FixedBackoff waits the same interval before every retry.
type FixedBackoff struct {
	Interval time.Duration
}

func (f FixedBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return f.Interval
}

// RetryPolicy bounds the optimistic retry loop of Update.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffStrategy
}

// DefaultRetryPolicy tolerates short bursts of contention on one tenant.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 10,
		Backoff: ExponentialBackoff{
			InitialInterval: 5 * time.Millisecond,
			MaxInterval:     250 * time.Millisecond,
			Multiplier:      2,
			JitterFactor:    0.3,
		},
	}
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
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

// Do calls fn until it succeeds, retryable reports false, attempts run out or ctx is done.
// A nil retryable retries every error. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error, retryable func(error) bool) error {
	attempts := max(p.MaxAttempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if p.Backoff != nil {
			if serr := sleep(ctx, p.Backoff.NextInterval(attempt)); serr != nil {
				return errors.Join(err, serr)
			}
		}
	}
	return err
}
