// Package reconnect provides the exponential backoff schedule the
// controller uses between reconnect attempts.
package reconnect

import "time"

// Backoff describes the retry schedule: the first retry waits Initial, each
// subsequent retry multiplies the delay by Multiplier up to Max, and the
// controller gives up after MaxAttempts.
type Backoff struct {
	Initial     time.Duration
	Multiplier  float64
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff matches the documented configuration defaults.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:     500 * time.Millisecond,
		Multiplier:  2.0,
		Max:         30 * time.Second,
		MaxAttempts: 10,
	}
}

// Delay returns the wait before the given attempt, counted from 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * b.Multiplier)
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}
