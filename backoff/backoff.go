// Package backoff computes retry delays for failed tasks and activity
// calls. Strategies are stateless, so one instance can serve every
// worker concurrently.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// DefaultStrategy is the executor's default: exponential growth from 1s
// with full jitter, capped at a minute. Jitter matters here because a
// directory outage fails whole batches at once, and the retries should
// not land back on it in lockstep.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(1*time.Second, 1*time.Minute)
}

// capped limits d to max; a zero or negative max means uncapped.
func capped(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}

// Constant waits the same Interval before every retry.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Linear grows the delay in even steps: Initial * attempt, capped at
// Max.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	return capped(l.Initial*time.Duration(attempt), l.Max)
}

// Exponential multiplies the delay by Factor each attempt:
// Initial * Factor^(attempt-1), capped at Max. A Factor of zero or less
// doubles.
type Exponential struct {
	Initial time.Duration
	Factor  float64
	Max     time.Duration
}

// NewExponential creates a doubling exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Factor: 2, Max: maxDelay}
}

// NewExponentialWithFactor creates an exponential backoff with a custom
// growth factor. Activity retry policies use this to honor their
// configured backoff multiplier.
func NewExponentialWithFactor(initial time.Duration, factor float64, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Factor: factor, Max: maxDelay}
}

// Delay returns Initial * Factor^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	factor := e.Factor
	if factor <= 0 {
		factor = 2
	}
	raw := float64(e.Initial) * math.Pow(factor, float64(attempt-1))
	return capped(time.Duration(raw), e.Max)
}

// ExponentialWithJitter draws a uniform delay from [0, b] where b is
// the capped doubling curve min(Initial * 2^(attempt-1), Max). The
// randomness spreads simultaneous retries apart.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	raw := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	base := capped(time.Duration(raw), e.Max)
	return time.Duration(rand.Float64() * float64(base)) //nolint:gosec // jitter intentionally uses non-crypto rand
}
