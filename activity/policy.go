package activity

import (
	"time"

	"github.com/calshift/calshift/backoff"
)

// RetryPolicy controls how many times a failing activity is retried and
// how long the executor waits between attempts.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration

	// BackoffMultiplier scales the delay after each failed attempt.
	// Zero or negative values default to 2.
	BackoffMultiplier float64

	// MaxInterval caps the delay between attempts. Zero means no cap.
	MaxInterval time.Duration
}

// DefaultRetryPolicy returns the policy applied when a definition does not
// set one: 3 attempts with exponential backoff from 1s capped at 1m.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialInterval:   1 * time.Second,
		BackoffMultiplier: 2,
		MaxInterval:       1 * time.Minute,
	}
}

// strategy converts the policy into a backoff strategy.
func (p RetryPolicy) strategy() backoff.Strategy {
	initial := p.InitialInterval
	if initial <= 0 {
		initial = 1 * time.Second
	}
	return backoff.NewExponentialWithFactor(initial, p.BackoffMultiplier, p.MaxInterval)
}

// attempts returns the effective attempt count.
func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}
