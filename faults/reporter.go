package faults

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-ads/types"
	"github.com/saiset-co/sai-ads/utils"
)

type ReporterState int32

const (
	ReporterStateStopped ReporterState = iota
	ReporterStateStarting
	ReporterStateRunning
	ReporterStateStopping
)

// Transport delivers a serialized fault batch to the reporting endpoint.
type Transport interface {
	PostReport(ctx context.Context, payload []byte) error
}

type reportBatch struct {
	Errors []*Fault `json:"errors"`
}

// Reporter batches classified faults and flushes them when the queue
// reaches the batch size or on the periodic flush job, whichever first.
// Critical faults bypass the queue and are delivered synchronously.
// Transient delivery failures are retried on the capped backoff curve
// before the batch is re-queued.
type Reporter struct {
	ctx          context.Context
	cancel       context.CancelFunc
	logger       types.Logger
	metrics      types.MetricsManager
	config       *types.ReportingConfig
	retry        *types.RetryConfig
	transport    Transport
	queue        []*Fault
	mu           sync.Mutex
	state        atomic.Value
	flushTimeout time.Duration
}

func NewReporter(ctx context.Context, logger types.Logger, metrics types.MetricsManager, config *types.ReportingConfig, retry *types.RetryConfig, transport Transport) (*Reporter, error) {
	if config == nil {
		config = &types.ReportingConfig{}
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 20
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 30 * time.Second
	}
	if config.MaxQueue <= 0 {
		config.MaxQueue = 200
	}

	reporterCtx, cancel := context.WithCancel(ctx)

	r := &Reporter{
		ctx:          reporterCtx,
		cancel:       cancel,
		logger:       logger,
		metrics:      metrics,
		config:       config,
		retry:        retry,
		transport:    transport,
		queue:        make([]*Fault, 0, config.BatchSize),
		flushTimeout: 10 * time.Second,
	}

	r.state.Store(ReporterStateStopped)

	return r, nil
}

func (r *Reporter) Start() error {
	if !r.transitionState(ReporterStateStopped, ReporterStateStarting) {
		return types.ErrComponentAlreadyRunning
	}

	defer func() {
		if r.getState() == ReporterStateStarting {
			r.setState(ReporterStateRunning)
		}
	}()

	r.logger.Info("Fault reporter started",
		zap.Int("batch_size", r.config.BatchSize),
		zap.Duration("flush_interval", r.config.FlushInterval))
	return nil
}

func (r *Reporter) Stop() error {
	if !r.transitionState(ReporterStateRunning, ReporterStateStopping) {
		return types.ErrComponentNotRunning
	}

	defer func() {
		r.setState(ReporterStateStopped)
		r.cancel()
	}()

	r.Flush()
	r.logger.Info("Fault reporter stopped")
	return nil
}

func (r *Reporter) IsRunning() bool {
	return r.getState() == ReporterStateRunning
}

// Report enqueues a fault for batched delivery. Critical faults are sent
// immediately and never batched.
func (r *Reporter) Report(f *Fault) {
	if f == nil || !r.config.Enabled {
		return
	}

	if r.metrics != nil {
		r.metrics.Counter("fault_reported_total", map[string]string{
			"kind":     string(f.Kind),
			"severity": string(f.Severity),
		}).Inc()
	}

	if f.Severity == SeverityCritical {
		r.reportNow(f)
		return
	}

	var full bool
	r.mu.Lock()
	r.queue = append(r.queue, f)
	if len(r.queue) > r.config.MaxQueue {
		dropped := len(r.queue) - r.config.MaxQueue
		r.queue = r.queue[dropped:]
		r.incDropped(dropped)
	}
	full = len(r.queue) >= r.config.BatchSize
	r.mu.Unlock()

	if full {
		go r.Flush()
	}
}

// Flush drains the queue and posts one batch. A failed post re-queues the
// batch, bounded to the most recent MaxQueue entries.
func (r *Reporter) Flush() {
	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.queue
	r.queue = make([]*Fault, 0, r.config.BatchSize)
	r.mu.Unlock()

	if err := r.post(batch); err != nil {
		r.logger.Warn("Fault batch flush failed, re-queueing",
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
		r.incFlush("error")

		r.mu.Lock()
		r.queue = append(batch, r.queue...)
		if len(r.queue) > r.config.MaxQueue {
			dropped := len(r.queue) - r.config.MaxQueue
			r.queue = r.queue[dropped:]
		}
		r.mu.Unlock()
		return
	}

	r.incFlush("success")
	r.logger.Debug("Fault batch flushed", zap.Int("batch_size", len(batch)))
}

// QueueLen is exposed for tests and perf snapshots.
func (r *Reporter) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *Reporter) reportNow(f *Fault) {
	if err := r.post([]*Fault{f}); err != nil {
		r.logger.Error("Synchronous critical fault report failed",
			zap.String("kind", string(f.Kind)),
			zap.Error(err))
	}
}

func (r *Reporter) post(batch []*Fault) error {
	if r.transport == nil {
		return types.ErrReporterFlushFailed
	}

	sanitized := make([]*Fault, len(batch))
	for i, f := range batch {
		sanitized[i] = r.sanitize(f)
	}

	payload, err := utils.Marshal(&reportBatch{Errors: sanitized})
	if err != nil {
		return types.WrapError(err, "failed to marshal fault batch")
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.flushTimeout)
	defer cancel()

	if r.retry == nil {
		return r.transport.PostReport(ctx, payload)
	}

	return Do(ctx, r.logger, r.retry, func(ctx context.Context) error {
		return r.transport.PostReport(ctx, payload)
	})
}

// sanitize strips sensitive fields unless the config explicitly allows
// them. Works on a shallow copy; the original fault is never mutated.
func (r *Reporter) sanitize(f *Fault) *Fault {
	clean := *f
	if !r.config.AllowUserID {
		clean.UserID = ""
	}
	if !r.config.AllowAdditionalData {
		clean.Extra = nil
	}
	return &clean
}

func (r *Reporter) getState() ReporterState {
	return r.state.Load().(ReporterState)
}

func (r *Reporter) setState(newState ReporterState) bool {
	currentState := r.getState()
	return r.state.CompareAndSwap(currentState, newState)
}

func (r *Reporter) transitionState(from, to ReporterState) bool {
	return r.state.CompareAndSwap(from, to)
}

func (r *Reporter) incFlush(result string) {
	if r.metrics == nil {
		return
	}
	r.metrics.Counter("fault_flush_total", map[string]string{"result": result}).Inc()
}

func (r *Reporter) incDropped(n int) {
	if r.metrics == nil {
		return
	}
	r.metrics.Counter("fault_dropped_total", map[string]string{"reason": "overflow"}).Add(float64(n))
}
