// Package backoff computes reconnect delays: exponential growth from an
// initial delay up to a cap, with an optional attempt budget and jitter.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy holds backoff configuration.
type Policy struct {
	Initial     time.Duration // delay before the first retry
	Max         time.Duration // cap applied to every computed delay
	Multiplier  float64       // growth factor per attempt (typically 2.0)
	MaxAttempts int           // 0 means unlimited
	Jitter      bool          // add up to 25% random jitter
}

// Default returns the reconnect policy used by the session manager.
func Default() Policy {
	return Policy{
		Initial:     1 * time.Second,
		Max:         30 * time.Second,
		Multiplier:  2.0,
		MaxAttempts: 10,
	}
}

// Delay returns the wait before the given attempt. Attempts are numbered
// from 1; attempt 1 waits Initial, each following attempt grows by
// Multiplier until Max. Out-of-range input is clamped to attempt 1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.Max) {
		d = float64(p.Max)
	}

	if p.Jitter {
		d += d * 0.25 * rand.Float64()
		if d > float64(p.Max) {
			d = float64(p.Max)
		}
	}

	return time.Duration(d)
}

// Exhausted reports whether the attempt budget is spent.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}
