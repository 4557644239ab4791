package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy computes the delay before a given retry attempt.
type BackoffStrategy interface {
	// NextDelay returns the delay before the given attempt (1-based).
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements capped exponential backoff with
// multiplicative jitter: delay = min(base * factor^(attempt-1), max) * j,
// j drawn uniformly from [JitterLow, JitterHigh).
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Factor     float64
	JitterLow  float64
	JitterHigh float64

	// rng lets tests pin the jitter; nil uses the shared source.
	rng *rand.Rand
}

// DefaultExponentialBackoff returns a backoff with sensible defaults.
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:  1 * time.Second,
		MaxDelay:   60 * time.Second,
		Factor:     2.0,
		JitterLow:  0.5,
		JitterHigh: 1.0,
	}
}

// WithRand returns a copy using the given random source, for
// deterministic tests.
func (eb *ExponentialBackoff) WithRand(rng *rand.Rand) *ExponentialBackoff {
	cp := *eb
	cp.rng = rng
	return &cp
}

// NextDelay calculates the capped, jittered delay before an attempt.
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(eb.BaseDelay) * math.Pow(eb.Factor, float64(attempt-1))
	if delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}

	delay *= eb.jitter()
	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// Raw returns the un-jittered delay for an attempt, the deterministic
// schedule NextDelay randomizes around.
func (eb *ExponentialBackoff) Raw(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := float64(eb.BaseDelay) * math.Pow(eb.Factor, float64(attempt-1))
	if delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}
	return time.Duration(delay)
}

func (eb *ExponentialBackoff) jitter() float64 {
	low, high := eb.JitterLow, eb.JitterHigh
	if high <= low {
		return 1.0
	}
	var f float64
	if eb.rng != nil {
		f = eb.rng.Float64()
	} else {
		f = rand.Float64()
	}
	return low + f*(high-low)
}

// ConstantBackoff waits the same delay every attempt.
type ConstantBackoff struct {
	Delay time.Duration
}

func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

// Wait sleeps for the delay or returns early when the context is done.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
