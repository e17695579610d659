// Package backoff computes retry wait schedules and performs
// cancellable sleeps.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines an exponential schedule of the form
// (Base^attempt + Offset) * Unit, clamped to Max.
type Policy struct {
	// Unit is the duration of one schedule unit.
	Unit time.Duration
	// Base is the exponential base applied per attempt.
	Base float64
	// Offset is added to the exponential term before scaling.
	Offset float64
	// Max caps a single wait. Zero means no cap.
	Max time.Duration
	// Jitter is the randomization factor (0.0 to 1.0) applied to the wait.
	Jitter float64
}

// DefaultPolicy returns the 2^attempt + 1 seconds schedule.
func DefaultPolicy() Policy {
	return Policy{
		Unit:   time.Second,
		Base:   2,
		Offset: 1,
		Max:    time.Minute,
	}
}

// Delay returns the wait after failed attempt number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand is Delay with a caller-supplied random value in [0.0, 1.0),
// for deterministic tests.
func (p Policy) DelayWithRand(attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt), 0)
	units := math.Pow(p.Base, exp) + p.Offset
	units += units * p.Jitter * randomValue

	d := time.Duration(units * float64(p.Unit))
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Schedule returns the waits between maxAttempts attempts.
// There is no wait after the final attempt.
func (p Policy) Schedule(maxAttempts int) []time.Duration {
	if maxAttempts <= 1 {
		return nil
	}
	out := make([]time.Duration, maxAttempts-1)
	for i := range out {
		out[i] = p.DelayWithRand(i, 0)
	}
	return out
}

// RateLimitPolicy describes how long to wait after a rate-limit signal.
type RateLimitPolicy struct {
	// Margin is added to the service-advised wait.
	Margin time.Duration
	// Fallback is used when the service gives no advice.
	Fallback time.Duration
	// Max caps a single wait. Zero means no cap.
	Max time.Duration
}

// DefaultRateLimitPolicy returns a 1s margin with a 2s fallback and a 2m cap.
func DefaultRateLimitPolicy() RateLimitPolicy {
	return RateLimitPolicy{
		Margin:   time.Second,
		Fallback: 2 * time.Second,
		Max:      2 * time.Minute,
	}
}

// Wait returns advised + Margin, or Fallback + Margin when advised <= 0.
func (p RateLimitPolicy) Wait(advised time.Duration) time.Duration {
	if advised <= 0 {
		advised = p.Fallback
	}
	d := advised + p.Margin
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}
