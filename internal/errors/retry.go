package errors

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig holds configuration for exponential backoff between
// download retry attempts.
type BackoffConfig struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  bool
}

// DefaultBackoff returns the backoff used for transient download failures.
func DefaultBackoff() *BackoffConfig {
	return &BackoffConfig{
		Initial: 1 * time.Second,
		Max:     5 * time.Minute,
		Factor:  2.0,
		Jitter:  true,
	}
}

// Backoff calculates the delay before retry attempt n (0-based).
func (c *BackoffConfig) Backoff(attempt int) time.Duration {
	if c == nil {
		c = DefaultBackoff()
	}

	backoff := float64(c.Initial) * math.Pow(c.Factor, float64(attempt))
	if backoff > float64(c.Max) {
		backoff = float64(c.Max)
	}

	// ±25% jitter
	if c.Jitter {
		backoff += backoff * 0.25 * (rand.Float64()*2 - 1)
	}

	return time.Duration(backoff)
}
