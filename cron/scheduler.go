package cron

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-ads/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Scheduler runs the SDK's periodic maintenance: cache sweeps, report
// flushes, performance sampling. Jobs are panic-isolated and bounded by
// a per-run timeout so a stuck job cannot wedge the cron loop.
type Scheduler struct {
	ctx          context.Context
	cancel       context.CancelFunc
	logger       types.Logger
	metrics      types.MetricsManager
	cron         *cron.Cron
	timezone     *time.Location
	jobs         map[string]*types.JobEntry
	state        atomic.Value
	mu           sync.RWMutex
	shutdown     chan struct{}
	shutdownOnce sync.Once
	jobTimeout   time.Duration
}

func NewScheduler(ctx context.Context, logger types.Logger, metrics types.MetricsManager, config *types.CronConfig) (*Scheduler, error) {
	timezoneStr := ""
	if config != nil {
		timezoneStr = config.Timezone
	}

	timezone, err := time.LoadLocation(timezoneStr)
	if err != nil {
		timezone = time.UTC
	}

	cronL := safeCronLogger{logger: logger}

	schedulerCtx, cancel := context.WithCancel(ctx)

	s := &Scheduler{
		ctx:     schedulerCtx,
		cancel:  cancel,
		logger:  logger,
		metrics: metrics,
		cron: cron.New(
			cron.WithLocation(timezone),
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronL)),
		),
		timezone:   timezone,
		jobs:       make(map[string]*types.JobEntry),
		shutdown:   make(chan struct{}),
		jobTimeout: 5 * time.Minute,
	}

	s.state.Store(StateStopped)

	return s, nil
}

func (s *Scheduler) Add(jobName, spec string, job func()) error {
	if jobName == "" {
		return types.ErrJobNameIsEmpty
	}
	if spec == "" {
		return types.ErrCronExpressionInvalid
	}
	if job == nil {
		return types.ErrJobIsNil
	}

	return s.addJob(jobName, spec, s.wrapJob(jobName, job))
}

func (s *Scheduler) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrSchedulerRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	s.cron.Start()

	s.logger.Info("Scheduler started",
		zap.String("timezone", s.timezone.String()),
		zap.Int("jobs", len(s.jobs)))

	return nil
}

func (s *Scheduler) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) &&
		!s.transitionState(StateStarting, StateStopping) {
		return types.ErrComponentNotRunning
	}

	s.shutdownOnce.Do(func() {
		defer func() {
			s.setState(StateStopped)
			s.cancel()
		}()

		close(s.shutdown)

		stopCtx := s.cron.Stop()
		select {
		case <-stopCtx.Done():
			s.logger.Info("Scheduler stopped gracefully")
		case <-time.After(10 * time.Second):
			s.logger.Warn("Scheduler stop timeout, running jobs abandoned")
		}
	})

	return nil
}

func (s *Scheduler) IsRunning() bool {
	return s.getState() == StateRunning
}

// Jobs snapshots the registered entries for diagnostics.
func (s *Scheduler) Jobs() []types.JobEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.JobEntry, 0, len(s.jobs))
	for _, entry := range s.jobs {
		out = append(out, *entry)
	}
	return out
}

func (s *Scheduler) addJob(jobName, spec string, job func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.shutdown:
		return types.ErrSchedulerStopped
	default:
	}

	if _, exists := s.jobs[jobName]; exists {
		return types.ErrJobExists
	}

	entryID, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return types.WrapError(err, "failed to add cron job")
	}

	entry := &types.JobEntry{
		ID:      entryID,
		Name:    jobName,
		Spec:    spec,
		Job:     job,
		AddedAt: time.Now(),
	}

	if cronEntry := s.cron.Entry(entryID); cronEntry.ID != 0 {
		entry.NextRun = cronEntry.Next
	}

	s.jobs[jobName] = entry

	s.logger.Info("Cron job added",
		zap.String("job_name", jobName),
		zap.String("spec", spec))

	return nil
}

// wrapJob bounds the run with jobTimeout and records per-job stats and
// metrics. The job body runs on its own goroutine so a timeout hands
// control back even if the body is stuck.
func (s *Scheduler) wrapJob(jobName string, job func()) func() {
	return func() {
		select {
		case <-s.shutdown:
			s.logger.Info("Job skipped due to shutdown", zap.String("job_name", jobName))
			return
		default:
		}

		startTime := time.Now()
		s.updateJobStart(jobName, startTime)

		jobCtx, cancel := context.WithTimeout(s.ctx, s.jobTimeout)
		defer cancel()

		var err error
		done := make(chan struct{})

		go func() {
			defer func() {
				if r := recover(); r != nil {
					err = types.Errorf(types.ErrJobFailed, "job panic: %v", r)
					s.logger.Error("Cron job panicked",
						zap.String("job_name", jobName),
						zap.Any("panic", r))
				}
				close(done)
			}()
			job()
		}()

		select {
		case <-done:
		case <-jobCtx.Done():
			if types.IsError(jobCtx.Err(), context.DeadlineExceeded) {
				err = types.Errorf(types.ErrJobTimeout, "timeout after %v", s.jobTimeout)
			} else {
				err = types.WrapError(jobCtx.Err(), "job canceled")
			}
			s.logger.Error("Cron job interrupted",
				zap.String("job_name", jobName),
				zap.Error(err))
		}

		duration := time.Since(startTime)

		result := "success"
		if err != nil {
			result = "error"
		}

		s.recordJob(jobName, result, duration)
		s.updateJobFinish(jobName, duration, err)

		s.logger.Debug("Cron job finished",
			zap.String("job_name", jobName),
			zap.String("result", result),
			zap.Duration("duration", duration))
	}
}

func (s *Scheduler) updateJobStart(jobName string, startTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.jobs[jobName]
	if !exists {
		return
	}

	entry.LastRun = startTime
	entry.Error = nil
}

func (s *Scheduler) updateJobFinish(jobName string, duration time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.jobs[jobName]
	if !exists {
		return
	}

	entry.LastDuration = duration
	entry.TotalDuration += duration
	entry.RunCount++
	entry.Error = err

	if entry.RunCount > 0 {
		entry.AvgDuration = entry.TotalDuration / time.Duration(entry.RunCount)
	}

	if cronEntry := s.cron.Entry(entry.ID); cronEntry.ID != 0 {
		entry.NextRun = cronEntry.Next
	}
}

func (s *Scheduler) recordJob(jobName, result string, duration time.Duration) {
	if s.metrics == nil {
		return
	}

	s.metrics.Counter("cron_job_executions_total", map[string]string{
		"job_name": jobName,
		"result":   result,
	}).Inc()

	s.metrics.Histogram("cron_job_duration_seconds",
		[]float64{0.01, 0.1, 1.0, 10.0, 60.0},
		map[string]string{"job_name": jobName},
	).Observe(duration.Seconds())
}

func (s *Scheduler) getState() State {
	return s.state.Load().(State)
}

func (s *Scheduler) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Scheduler) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

type safeCronLogger struct {
	logger types.Logger
}

func (l safeCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, kvFields(keysAndValues)...)
}

func (l safeCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(kvFields(keysAndValues), zap.Error(err))
	l.logger.Error(msg, fields...)
}

func kvFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
