package whisper

import (
	"context"
	"math/rand"
	"time"
)

// jitterFraction bounds the randomization applied to each backoff delay.
const jitterFraction = 0.1

// SleepWithContext blocks for the given duration, returning early if the
// context is cancelled.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffDelay computes the wait before the attempt following the given
// zero-based attempt number: base doubled per attempt, capped at the maximum,
// then jittered by up to ±10% so simultaneous clients fan out.
func (c *Client) backoffDelay(attempt int) time.Duration {
	base := c.retryBaseDelay
	maxDelay := c.retryMaxDelay
	if base <= 0 {
		return 0
	}
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}

	delay := base
	for i := 0; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	jittered := time.Duration(float64(delay) * (1 + jitterFraction*c.jitterValue()))
	if jittered < 0 {
		return 0
	}
	return jittered
}

func (c *Client) jitterValue() float64 {
	if c == nil || c.jitter == nil {
		return defaultJitter()
	}
	value := c.jitter()
	if value < -1 {
		return -1
	}
	if value > 1 {
		return 1
	}
	return value
}

func defaultJitter() float64 {
	return rand.Float64()*2 - 1
}
