package backoff

import (
	rand "math/rand/v2"
	"time"
)

// Jitter computes decorrelated-jitter delays between Base and Cap.
// The zero value uses 50ms / x2 / 5s.
type Jitter struct {
	Base       time.Duration
	Multiplier float64
	Cap        time.Duration
}

// Next returns the delay that follows prev. Pass 0 for the first attempt.
func (j Jitter) Next(prev time.Duration) time.Duration {
	base, mult, capDur := j.Base, j.Multiplier, j.Cap
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if mult < 1.0 {
		mult = 2.0
	}
	if capDur <= 0 {
		capDur = 5 * time.Second
	}
	if capDur < base {
		return capDur
	}
	if prev <= 0 {
		return base
	}
	span := time.Duration(float64(prev)*mult) - base
	if span <= 0 {
		span = base
	}
	next := base + time.Duration(rand.Int64N(int64(span))) //nolint:gosec // non-crypto backoff jitter
	if next > capDur {
		return capDur
	}
	return next
}
