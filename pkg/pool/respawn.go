package pool

import (
	"math"
	"math/rand/v2"
	"time"
)

// RespawnPolicy decides whether, and after how long, a dead worker's
// connection is reopened. Without a policy a pool shrinks permanently.
type RespawnPolicy interface {
	// NextDelay returns the delay before reconnect attempt number attempt
	// (0-based) and whether to attempt it at all.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)
}

// ExponentialBackoff grows the delay by Multiplier after every failed attempt.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// MaxAttempts is the maximum number of reconnect attempts (0 for infinite)
	MaxAttempts int

	// JitterFactor is the maximum jitter as a fraction of the delay (0.0 to 1.0)
	JitterFactor float64
}

// NewExponentialBackoff returns a policy starting at 100ms, capped at 10s,
// giving up after 10 attempts.
func NewExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  10,
		JitterFactor: 0.3,
	}
}

func (r *ExponentialBackoff) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxAttempts > 0 && attempt >= r.MaxAttempts {
		return 0, false
	}

	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if r.MaxDelay > 0 && delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.JitterFactor > 0 {
		//nolint:gosec // jitter is not security sensitive
		delay += delay * r.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}

	return time.Duration(delay), true
}

// FixedDelay waits the same Delay before every attempt.
type FixedDelay struct {
	Delay time.Duration

	// MaxAttempts is the maximum number of reconnect attempts (0 for infinite)
	MaxAttempts int
}

func (r *FixedDelay) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxAttempts > 0 && attempt >= r.MaxAttempts {
		return 0, false
	}
	return r.Delay, true
}
