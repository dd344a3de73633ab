package webhooks

import (
	"math"
	"time"
)

// RetryPolicy computes retry delays with the exact exponential backoff
// formula: delay = min(initialDelay * multiplier^(attempt-1), maxDelay).
// attempt is 1-indexed (the first retry after the initial failed attempt).
type RetryPolicy struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// NextDelay returns the delay to wait before the given attempt number.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	scaled := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt-1))
	if scaled > float64(p.Max) {
		return p.Max
	}
	return time.Duration(scaled)
}

// Exhausted reports whether attempt has used up the configured retry budget.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxRetries
}
