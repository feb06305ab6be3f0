package faults

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-ads/types"
)

// Do executes op up to MaxAttempts times, sleeping between attempts on a
// capped exponential curve. Non-retryable faults abort immediately. The
// last fault is re-tagged High severity after exhaustion.
func Do(ctx context.Context, logger types.Logger, cfg *types.RetryConfig, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, logger, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func DoValue[T any](ctx context.Context, logger types.Logger, cfg *types.RetryConfig, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if cfg == nil {
		cfg = DefaultRetryConfig()
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		fault := From(err)

		if !fault.Retryable {
			return zero, fault
		}

		if attempt == maxAttempts {
			break
		}

		delay := backoffDelay(cfg, attempt)
		if fault.Kind == KindRateLimited && fault.RetryAfter > delay {
			delay = fault.RetryAfter
		}

		if logger != nil {
			logger.Debug("Retrying operation",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.String("kind", string(fault.Kind)))
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, From(ctx.Err())
		}
	}

	exhausted := From(lastErr)
	exhausted.Severity = SeverityHigh
	return zero, exhausted
}

func backoffDelay(cfg *types.RetryConfig, attempt int) time.Duration {
	multiplier := cfg.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}

	delay := float64(cfg.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.Jitter {
		// uniform [0.5, 1.0) factor, avoids herd correlation across callers
		delay *= 0.5 + rand.Float64()*0.5
	}

	return time.Duration(delay)
}

func DefaultRetryConfig() *types.RetryConfig {
	return &types.RetryConfig{
		MaxAttempts:       3,
		BaseDelay:         200 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            true,
	}
}
