package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-ads/logger"
	"github.com/saiset-co/sai-ads/types"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()

	s, err := NewScheduler(context.Background(), logger.NewZapWrapper(zap.NewNop()), nil, &types.CronConfig{
		Enabled:  true,
		Timezone: "UTC",
	})
	require.NoError(t, err)
	return s
}

func TestSchedulerAddValidation(t *testing.T) {
	s := newTestScheduler(t)

	assert.ErrorIs(t, s.Add("", "@every 1s", func() {}), types.ErrJobNameIsEmpty)
	assert.ErrorIs(t, s.Add("job", "", func() {}), types.ErrCronExpressionInvalid)
	assert.ErrorIs(t, s.Add("job", "@every 1s", nil), types.ErrJobIsNil)
}

func TestSchedulerRejectsDuplicateJob(t *testing.T) {
	s := newTestScheduler(t)

	require.NoError(t, s.Add("job", "@every 1s", func() {}))
	assert.ErrorIs(t, s.Add("job", "@every 1s", func() {}), types.ErrJobExists)
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := newTestScheduler(t)

	assert.Error(t, s.Add("job", "not a cron spec", func() {}))
}

func TestSchedulerRunsJob(t *testing.T) {
	s := newTestScheduler(t)

	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "@every 100ms", func() {
		runs.Add(1)
	}))

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, 3*time.Second, 20*time.Millisecond)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "tick", jobs[0].Name)
	assert.GreaterOrEqual(t, jobs[0].RunCount, int64(2))
	assert.NoError(t, jobs[0].Error)
}

func TestSchedulerIsolatesPanickingJob(t *testing.T) {
	s := newTestScheduler(t)

	var healthyRuns atomic.Int32
	require.NoError(t, s.Add("panicky", "@every 100ms", func() {
		panic("boom")
	}))
	require.NoError(t, s.Add("healthy", "@every 100ms", func() {
		healthyRuns.Add(1)
	}))

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return healthyRuns.Load() >= 2
	}, 3*time.Second, 20*time.Millisecond, "a panicking job must not break the scheduler")

	for _, job := range s.Jobs() {
		if job.Name == "panicky" && job.RunCount > 0 {
			assert.Error(t, job.Error)
		}
	}
}

func TestSchedulerLifecycle(t *testing.T) {
	s := newTestScheduler(t)

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(), types.ErrSchedulerRunning)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())

	assert.ErrorIs(t, s.Add("late", "@every 1s", func() {}), types.ErrSchedulerStopped)
}
