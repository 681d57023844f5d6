package routingslip

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds how often an activity is re-invoked after an
// infrastructure fault before the fault is treated as a business fault.
type RetryPolicy struct {
	// Limit is the number of retries after the first attempt. Zero disables
	// retries.
	Limit int

	// Interval is the delay before the first retry.
	// Default: 100ms
	Interval time.Duration

	// Multiplier grows the delay after each retry. Values below 1 keep the
	// delay constant.
	// Default: 2
	Multiplier float64

	// MaxInterval caps the delay. Zero means no cap.
	MaxInterval time.Duration

	// Jitter adds randomness to each delay (0.0-1.0).
	Jitter float64
}

// DefaultRetryPolicy retries three times, starting at 100ms and doubling up to
// 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Limit:       3,
		Interval:    100 * time.Millisecond,
		Multiplier:  2,
		MaxInterval: 5 * time.Second,
	}
}

// NoRetry never retries.
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

// Attempts returns the total number of invocations the policy allows.
func (p RetryPolicy) Attempts() int {
	if p.Limit < 0 {
		return 1
	}
	return p.Limit + 1
}

// Backoff returns the delay before retry number retry (1-based).
func (p RetryPolicy) Backoff(retry int) time.Duration {
	if retry < 1 || p.Interval <= 0 {
		return 0
	}
	delay := float64(p.Interval)
	if p.Multiplier > 1 {
		for i := 1; i < retry; i++ {
			delay *= p.Multiplier
			if p.MaxInterval > 0 && delay >= float64(p.MaxInterval) {
				break
			}
		}
	}
	if p.Jitter > 0 {
		delay += delay * p.Jitter * (rand.Float64()*2 - 1)
	}
	if p.MaxInterval > 0 && delay > float64(p.MaxInterval) {
		delay = float64(p.MaxInterval)
	}
	return time.Duration(delay)
}

// wait sleeps for the backoff of retry or until ctx is done.
func (p RetryPolicy) wait(ctx context.Context, retry int) error {
	delay := p.Backoff(retry)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
