package worker

import (
	"math/rand/v2"
	"time"
)

// RetryPolicy decides how long a failed message waits before redelivery and
// when it is given up on.
type RetryPolicy struct {
	// MaxAttempts is the number of attempts after which a failing message is
	// dead-lettered. Zero means unlimited.
	MaxAttempts int

	// BaseDelay is the delay after the first failed attempt. It doubles with each attempt.
	BaseDelay time.Duration

	// MaxDelay caps the delay.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns a RetryPolicy with reasonable defaults
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 0,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
	}
}

// Exhausted reports whether a message that has failed attempts times should be dead-lettered.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// Delay returns the backoff before redelivering a message that has failed attempts times:
// BaseDelay doubled per earlier attempt, plus up to BaseDelay of jitter, capped at MaxDelay.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempts < 1 {
		attempts = 1
	}
	// 2^30 * BaseDelay overflows well before any sane MaxDelay is reached
	shift := attempts - 1
	if shift > 30 {
		shift = 30
	}

	delay := p.BaseDelay << shift
	if delay <= 0 || (p.MaxDelay > 0 && delay > p.MaxDelay) {
		delay = p.MaxDelay
	}
	delay += time.Duration(rand.Int64N(int64(p.BaseDelay)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}
