// Package retry implements the explicit backoff policy applied to
// per-directory submission attempts.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/listpilot/listpilot/internal/failure"
)

// Policy is an explicit retry policy object rather than hidden decorator
// magic: callers pass it into Run and every parameter is visible in config.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	Cap         time.Duration
	// Jitter is the symmetric random fraction applied to each delay
	// (0.25 means ±25%) so concurrently-failing tasks desynchronize.
	Jitter float64
}

// Default returns the production policy: 3 attempts, 1s/2s/4s capped at 60s,
// ±25% jitter.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Factor:      2,
		Cap:         60 * time.Second,
		Jitter:      0.25,
	}
}

// Delay returns the jittered backoff before retry attempt n (1-indexed:
// attempt 1 is the first retry after the initial failure).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt-1))
	if p.Cap > 0 && base > float64(p.Cap) {
		base = float64(p.Cap)
	}
	if p.Jitter > 0 {
		// uniform in [1-jitter, 1+jitter]
		base *= 1 + p.Jitter*(2*rand.Float64()-1)
	}
	return time.Duration(base)
}

// Run executes fn up to MaxAttempts times, sleeping the jittered backoff
// between attempts. Only retryable failure kinds re-enter the loop; a
// non-retryable error and the final attempt's error return immediately.
// Context cancellation during a backoff wait aborts with ctx.Err().
func (p Policy) Run(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !failure.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
