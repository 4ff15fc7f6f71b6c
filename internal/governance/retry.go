package governance

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig defines retry behavior for model calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retries).
	MaxRetries int
	// BaseBackoff is the delay before the first retry; attempt n waits
	// BaseBackoff × Multiplier^n.
	BaseBackoff time.Duration
	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration
	// Multiplier is the factor by which backoff grows per attempt.
	Multiplier float64
	// Jitter adds up to 25% randomness to prevent thundering herd.
	Jitter bool
}

// DefaultRetryConfig returns the engine defaults: two retries with
// exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  2,
		BaseBackoff: 250 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// RetryPolicy computes backoff delays and attempt budgets.
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a retry policy, filling unset fields with defaults.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = 250 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 5 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	return &RetryPolicy{config: config}
}

// Config returns a copy of the current configuration.
func (rp *RetryPolicy) Config() RetryConfig {
	return rp.config
}

// AllowRetry reports whether another attempt fits the budget. attempt is
// zero-based: AllowRetry(0) asks whether the first retry may run.
func (rp *RetryPolicy) AllowRetry(attempt int) bool {
	return attempt < rp.config.MaxRetries
}

// CalculateBackoff returns the delay before retry number attempt (zero-based).
func (rp *RetryPolicy) CalculateBackoff(attempt int) time.Duration {
	backoff := time.Duration(float64(rp.config.BaseBackoff) * math.Pow(rp.config.Multiplier, float64(attempt)))
	if backoff > rp.config.MaxBackoff {
		backoff = rp.config.MaxBackoff
	}
	if rp.config.Jitter {
		// #nosec G404 - Non-cryptographic random is acceptable for jitter
		backoff += time.Duration(rand.Int63n(int64(backoff/4) + 1))
	}
	return backoff
}

// Wait sleeps for the attempt's backoff, returning early with the context
// error when the caller's context ends first.
func (rp *RetryPolicy) Wait(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(rp.CalculateBackoff(attempt)):
		return nil
	}
}
