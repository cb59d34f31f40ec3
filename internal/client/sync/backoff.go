package sync

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes the delay before a retry attempt: exponential growth from
// Base by Multiplier, capped at Max, with ±20% jitter so a fleet of devices
// recovering from the same outage does not retry in lockstep.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

const jitterFraction = 0.2

// Delay returns the wait before attempt (0-based: attempt 0 is the delay
// after the first failure).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := float64(b.Base) * math.Pow(b.Multiplier, float64(attempt))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}

	jitter := 1 + (rand.Float64()*2-1)*jitterFraction
	return time.Duration(d * jitter)
}
