package faults

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-ads/types"
)

func fastRetryConfig(attempts int) *types.RetryConfig {
	return &types.RetryConfig{
		MaxAttempts:       attempts,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestDoValueSucceedsAfterRetries(t *testing.T) {
	calls := 0

	result, err := DoValue(context.Background(), nil, fastRetryConfig(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", New(KindNetwork, "flaky", nil)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestDoNonRetryableAbortsImmediately(t *testing.T) {
	calls := 0

	err := Do(context.Background(), nil, fastRetryConfig(5), func(ctx context.Context) error {
		calls++
		return New(KindAuthFailure, "bad key", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)

	fault := From(err)
	assert.Equal(t, KindAuthFailure, fault.Kind)
	assert.Equal(t, SeverityHigh, fault.Severity)
}

func TestDoExhaustionRetagsSeverityHigh(t *testing.T) {
	calls := 0

	err := Do(context.Background(), nil, fastRetryConfig(3), func(ctx context.Context) error {
		calls++
		return New(KindNetwork, "down", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)

	fault := From(err)
	assert.Equal(t, KindNetwork, fault.Kind)
	assert.Equal(t, SeverityHigh, fault.Severity)
}

func TestDoContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	cfg := &types.RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
	}

	err := Do(ctx, nil, cfg, func(ctx context.Context) error {
		return New(KindNetwork, "down", nil)
	})

	require.Error(t, err)
	assert.Equal(t, KindTimeout, From(err).Kind)
}

func TestDoDefaultConfigWhenNil(t *testing.T) {
	calls := 0

	err := Do(context.Background(), nil, &types.RetryConfig{MaxAttempts: 1}, func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRateLimitHonorsRetryAfter(t *testing.T) {
	calls := 0
	start := time.Now()

	err := Do(context.Background(), nil, fastRetryConfig(2), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			fault := New(KindRateLimited, "slow down", nil)
			fault.RetryAfter = 30 * time.Millisecond
			return fault
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	cfg := &types.RetryConfig{
		BaseDelay:         10 * time.Millisecond,
		MaxDelay:          35 * time.Millisecond,
		BackoffMultiplier: 2,
	}

	assert.Equal(t, 10*time.Millisecond, backoffDelay(cfg, 1))
	assert.Equal(t, 20*time.Millisecond, backoffDelay(cfg, 2))
	assert.Equal(t, 35*time.Millisecond, backoffDelay(cfg, 3))
	assert.Equal(t, 35*time.Millisecond, backoffDelay(cfg, 4))
}

func TestBackoffJitterStaysBounded(t *testing.T) {
	cfg := &types.RetryConfig{
		BaseDelay:         100 * time.Millisecond,
		BackoffMultiplier: 2,
		Jitter:            true,
	}

	for i := 0; i < 50; i++ {
		delay := backoffDelay(cfg, 1)
		assert.GreaterOrEqual(t, delay, 50*time.Millisecond)
		assert.Less(t, delay, 100*time.Millisecond)
	}
}
