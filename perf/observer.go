package perf

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-ads/types"
)

type ObserverState int32

const (
	ObserverStateStopped ObserverState = iota
	ObserverStateStarting
	ObserverStateRunning
	ObserverStateStopping
)

// Metric names the observer understands. Duration metrics compare
// against upper bounds, rate metrics against the direction encoded in
// the threshold table.
const (
	MetricAdRequestTime = "ad_request_time"
	MetricRenderTime    = "render_time"
	MetricCacheHitRate  = "cache_hit_rate"
	MetricMemoryBytes   = "memory_bytes"
	MetricErrorRate     = "error_rate"
)

type sample struct {
	count uint64
	sum   float64
	max   float64
	last  float64
}

// Observer collects named measurements, compares them against the
// configured static thresholds, and turns sustained violations into
// deduplicated optimization suggestions. It never changes SDK behavior
// on its own unless auto-apply is enabled and a handler is registered.
type Observer struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   types.Logger
	metrics  types.MetricsManager
	config   *types.PerfConfig
	state    atomic.Value
	stopCh   chan struct{}
	doneCh   chan struct{}
	requests atomic.Uint64
	errors   atomic.Uint64

	mu          sync.Mutex
	starts      map[string]time.Time
	samples     map[string]*sample
	suggestions map[SuggestionType]OptimizationSuggestion
	applyFns    map[SuggestionType]func()
}

func NewObserver(ctx context.Context, logger types.Logger, metrics types.MetricsManager, config *types.PerfConfig) *Observer {
	if config == nil {
		config = &types.PerfConfig{}
	}
	if config.ReportInterval <= 0 {
		config.ReportInterval = time.Minute
	}
	if config.AdRequestTime <= 0 {
		config.AdRequestTime = 500 * time.Millisecond
	}
	if config.RenderTime <= 0 {
		config.RenderTime = 100 * time.Millisecond
	}
	if config.MinCacheHitRate <= 0 {
		config.MinCacheHitRate = 0.3
	}
	if config.MaxErrorRate <= 0 {
		config.MaxErrorRate = 0.1
	}
	if config.MaxSuggestionCount <= 0 {
		config.MaxSuggestionCount = 20
	}

	observerCtx, cancel := context.WithCancel(ctx)

	o := &Observer{
		ctx:         observerCtx,
		cancel:      cancel,
		logger:      logger,
		metrics:     metrics,
		config:      config,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		starts:      make(map[string]time.Time),
		samples:     make(map[string]*sample),
		suggestions: make(map[SuggestionType]OptimizationSuggestion),
		applyFns:    make(map[SuggestionType]func()),
	}

	o.state.Store(ObserverStateStopped)

	return o
}

func (o *Observer) Start() error {
	if !o.transitionState(ObserverStateStopped, ObserverStateStarting) {
		return types.ErrComponentAlreadyRunning
	}

	defer func() {
		if o.getState() == ObserverStateStarting {
			o.setState(ObserverStateRunning)
		}
	}()

	if o.config.Enabled {
		go o.reportLoop()
	}

	o.logger.Info("Performance observer started",
		zap.Duration("report_interval", o.config.ReportInterval),
		zap.Bool("auto_apply", o.config.AutoApply))

	return nil
}

func (o *Observer) Stop() error {
	if !o.transitionState(ObserverStateRunning, ObserverStateStopping) {
		return types.ErrComponentNotRunning
	}

	defer func() {
		o.setState(ObserverStateStopped)
		o.cancel()
	}()

	if o.config.Enabled {
		close(o.stopCh)
		<-o.doneCh
	}

	o.logger.Info("Performance observer stopped")
	return nil
}

func (o *Observer) IsRunning() bool {
	return o.getState() == ObserverStateRunning
}

// StartMeasure opens a named measurement. A second StartMeasure with the
// same name before EndMeasure overwrites the opening mark.
func (o *Observer) StartMeasure(name string) {
	o.mu.Lock()
	o.starts[name] = time.Now()
	o.mu.Unlock()
}

// EndMeasure closes a named measurement and feeds the duration into the
// threshold evaluation. Returns zero when no matching StartMeasure exists.
func (o *Observer) EndMeasure(name string) time.Duration {
	o.mu.Lock()
	started, ok := o.starts[name]
	if ok {
		delete(o.starts, name)
	}
	o.mu.Unlock()

	if !ok {
		return 0
	}

	elapsed := time.Since(started)
	o.recordDuration(name, elapsed)
	return elapsed
}

// Time is the closure form of StartMeasure/EndMeasure, safe under
// concurrent callers of the same name.
func (o *Observer) Time(name string) func() time.Duration {
	started := time.Now()
	if name == MetricAdRequestTime {
		o.requests.Add(1)
	}

	return func() time.Duration {
		elapsed := time.Since(started)
		o.recordDuration(name, elapsed)
		return elapsed
	}
}

// CountError feeds the error-rate metric.
func (o *Observer) CountError() {
	o.errors.Add(1)
}

// Sample records an externally computed gauge value (cache hit rate,
// queue depth) and evaluates it against its threshold.
func (o *Observer) Sample(name string, value float64) {
	o.record(name, value)
	o.evaluate(name, value)
}

func (o *Observer) recordDuration(name string, elapsed time.Duration) {
	o.record(name, elapsed.Seconds())
	o.evaluate(name, elapsed.Seconds())

	if o.metrics != nil {
		o.metrics.Histogram("perf_measurement_seconds",
			[]float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0},
			map[string]string{"name": name},
		).Observe(elapsed.Seconds())
	}
}

func (o *Observer) record(name string, value float64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.samples[name]
	if !ok {
		s = &sample{}
		o.samples[name] = s
	}

	s.count++
	s.sum += value
	s.last = value
	if value > s.max {
		s.max = value
	}
}

// reportLoop periodically snapshots derived metrics and logs the current
// report. Derived metrics (error rate, memory) only exist through this
// loop, so a stopped observer raises no suggestions for them.
func (o *Observer) reportLoop() {
	defer close(o.doneCh)

	ticker := time.NewTicker(o.config.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.sampleDerived()
			o.logReport()
		case <-o.stopCh:
			return
		case <-o.ctx.Done():
			return
		}
	}
}

func (o *Observer) sampleDerived() {
	requests := o.requests.Load()
	if requests > 0 {
		o.Sample(MetricErrorRate, float64(o.errors.Load())/float64(requests))
	}

	if o.config.MaxMemoryBytes > 0 {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		o.Sample(MetricMemoryBytes, float64(memStats.HeapAlloc))
	}
}

func (o *Observer) logReport() {
	report := o.Report()

	fields := []zap.Field{
		zap.Int("suggestions", len(report.Suggestions)),
		zap.Uint64("requests", report.Requests),
		zap.Uint64("errors", report.Errors),
	}
	for name, m := range report.Measurements {
		fields = append(fields, zap.Float64(name+"_avg", m.Avg))
	}

	o.logger.Info("Performance report", fields...)
}

func (o *Observer) getState() ObserverState {
	return o.state.Load().(ObserverState)
}

func (o *Observer) setState(newState ObserverState) bool {
	currentState := o.getState()
	return o.state.CompareAndSwap(currentState, newState)
}

func (o *Observer) transitionState(from, to ObserverState) bool {
	return o.state.CompareAndSwap(from, to)
}
