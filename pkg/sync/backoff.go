// Copyright 2025 QNet Project
//
// Retry-with-backoff, translated from the reference's retry_with_backoff
// decorator into an explicit supervisor-task helper (Design Notes:
// "coroutine-style async chains become explicit supervisor tasks with
// bounded channels and per-call deadlines"): instead of wrapping a function
// in a decorator that sleeps inline, the caller passes a context.Context
// with its own deadline and this helper respects cancellation between
// attempts.
package sync

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls Retry's attempt count and backoff curve.
type RetryConfig struct {
	MaxAttempts    int
	BackoffFactor  float64
	BaseDelay      time.Duration
	JitterFraction float64 // additional uniform jitter as a fraction of the computed delay
}

// DefaultRetryConfig mirrors the reference's retry_with_backoff(max_tries=3,
// backoff_factor=2) defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:    3,
	BackoffFactor:  2,
	BaseDelay:      time.Second,
	JitterFraction: 0.1,
}

// Retry calls fn until it succeeds, ctx is cancelled, or MaxAttempts is
// reached, sleeping cfg.BackoffFactor^attempt * BaseDelay (plus jitter)
// between attempts. It returns the last error on exhaustion.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(cfg.BackoffFactor, float64(attempt)))
		delay += time.Duration(rand.Float64() * cfg.JitterFraction * float64(delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
