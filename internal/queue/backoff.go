package queue

import (
	"math"
	"time"
)

// BackoffType selects how the retry delay grows.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// maxBackoff caps exponential growth so large attempt counts cannot overflow.
const maxBackoff = 6 * time.Hour

// Backoff is a queue's retry delay policy.
type Backoff struct {
	Type      BackoffType
	BaseDelay time.Duration
}

// Delay returns the wait before the retry that follows failed attempt n (1-indexed).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	switch b.Type {
	case BackoffExponential:
		exp := float64(b.BaseDelay) * math.Pow(2, float64(attempt-1))
		if exp > float64(maxBackoff) {
			return maxBackoff
		}
		return time.Duration(exp)
	default:
		return b.BaseDelay
	}
}
