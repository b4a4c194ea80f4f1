// Package resilience implements the exponential-backoff retry policy
// shared by vendor fetches, persistence batches, and notification
// delivery (spec.md §4.A: base 1s, factor 2, jitter ±25%, cap 30s, max 3
// attempts). Adapted from the teacher's infrastructure/resilience package.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/cleanfleet/telemetry-core/pkg/ferrors"
)

// RetryConfig configures backoff behavior.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // fraction, e.g. 0.25 for ±25%
}

// DefaultRetryConfig matches spec.md §4.A's shared backoff policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.25,
	}
}

// Retry runs fn up to cfg.MaxAttempts times, sleeping with jittered
// exponential backoff between attempts. It stops early and returns the
// underlying error unretried if fn's error is not classified as
// ferrors.KindTransient.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !ferrors.Is(err, ferrors.KindTransient) {
			return err
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(addJitter(delay, cfg.Jitter)):
		}
		delay = nextDelay(delay, cfg)
	}
	return lastErr
}

func nextDelay(current time.Duration, cfg RetryConfig) time.Duration {
	next := time.Duration(float64(current) * cfg.Multiplier)
	if next > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return next
}

func addJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := float64(d) * jitter
	return d + time.Duration(rand.Float64()*delta*2-delta)
}
