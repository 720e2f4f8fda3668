// Package resilience provides the retry/backoff policy applied around every
// upstream API call and a context-based timeout wrapper.
package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/logger"
)

type RetryConfig struct {
	// MaxRetries bounds the retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Sleep waits between attempts. Defaults to a ctx-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is invoked before each delayed retry.
	OnRetry func(attempt int, err error, delay time.Duration)
	// Jitter returns a value in [0, BaseDelay). Defaults to math/rand.
	Jitter func(base time.Duration) time.Duration
}

func defaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 4,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   8 * time.Second,
		Sleep:      sleepContext,
		Jitter:     uniformJitter,
	}
}

// Retry runs fn until it succeeds, fails with a non-transient error, or the
// retry budget is spent. Only errors classified as transient are retried; a
// Retry-After hint carried by the error replaces the computed delay.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	defaults := defaultRetryConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaults.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaults.MaxDelay
	}
	if cfg.Sleep == nil {
		cfg.Sleep = defaults.Sleep
	}
	if cfg.Jitter == nil {
		cfg.Jitter = defaults.Jitter
	}
	log := logger.FromContext(ctx).With("component", "retry", "operation", name)
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			if attempt > 0 {
				log.Info("succeeded after retry", "attempt", attempt+1)
			}
			return nil
		}
		if !apperrors.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		}
		delay := ComputeDelay(attempt, cfg, lastErr)
		log.Warn("operation failed, retrying",
			"attempt", attempt+1,
			"max_retries", cfg.MaxRetries,
			"status_code", apperrors.StatusCode(lastErr),
			"error", lastErr,
			"next_delay", delay,
		)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr, delay)
		}
		if err := cfg.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry aborted during backoff: %w", err)
		}
	}
	return fmt.Errorf("all %d attempts failed for %s: %w", cfg.MaxRetries+1, name, lastErr)
}

// ComputeDelay returns min(base*2^attempt + jitter, max) for a zero-based
// attempt, or the server's Retry-After (capped at max) when err carries one.
func ComputeDelay(attempt int, cfg RetryConfig, err error) time.Duration {
	if d, ok := apperrors.RetryAfter(err); ok {
		return min(d, cfg.MaxDelay)
	}
	backoff := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if cfg.Jitter != nil {
		backoff += float64(cfg.Jitter(cfg.BaseDelay))
	}
	if backoff > float64(cfg.MaxDelay) || math.IsInf(backoff, 0) {
		backoff = float64(cfg.MaxDelay)
	}
	return time.Duration(backoff)
}

func uniformJitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(base)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
