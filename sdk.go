package saiAds

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-ads/ads"
	"github.com/saiset-co/sai-ads/cache"
	"github.com/saiset-co/sai-ads/client"
	"github.com/saiset-co/sai-ads/config"
	"github.com/saiset-co/sai-ads/cron"
	"github.com/saiset-co/sai-ads/faults"
	"github.com/saiset-co/sai-ads/logger"
	"github.com/saiset-co/sai-ads/metrics"
	"github.com/saiset-co/sai-ads/perf"
	"github.com/saiset-co/sai-ads/types"
	"github.com/saiset-co/sai-ads/validate"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// SDK is the composition root: it wires the cache, the ad-server client,
// fault reporting, performance observation, and the scheduler into one
// lifecycle. Construct it once per process.
type SDK struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          *types.SDKConfig
	logger          types.Logger
	metrics         types.MetricsManager
	store           types.AdCache
	mirror          *cache.RedisMirror
	responseCache   *cache.AdResponseCache
	preloader       *cache.Preloader
	client          *client.AdServerClient
	reporter        *faults.Reporter
	observer        *perf.Observer
	scheduler       *cron.Scheduler
	manager         *ads.Manager
	state           atomic.Value
	shutdownTimeout time.Duration
}

// NewSDK loads the YAML config at configPath and builds the SDK.
func NewSDK(ctx context.Context, configPath string) (*SDK, error) {
	cfg, err := config.NewLoader().LoadFromFile(configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to load SDK configuration")
	}

	return NewSDKWithConfig(ctx, cfg)
}

// NewSDKWithConfig builds the SDK from an already validated config.
func NewSDKWithConfig(ctx context.Context, cfg *types.SDKConfig) (*SDK, error) {
	if cfg == nil {
		return nil, types.ErrConfigIsNil
	}
	if cfg.Client == nil {
		return nil, types.NewErrorf("client configuration is required")
	}

	sdkCtx, cancel := context.WithCancel(ctx)

	sdk := &SDK{
		ctx:             sdkCtx,
		cancel:          cancel,
		config:          cfg,
		shutdownTimeout: 30 * time.Second,
	}

	sdk.state.Store(StateStopped)

	if err := sdk.buildComponents(); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to build SDK components")
	}

	return sdk, nil
}

func (s *SDK) buildComponents() error {
	log, err := logger.NewDefaultLogger(s.config.Logger)
	if err != nil {
		return types.WrapError(err, "failed to build logger")
	}
	s.logger = log

	s.metrics, err = metrics.NewManager(s.ctx, log, s.config.Metrics)
	if err != nil && !types.IsError(err, types.ErrMetricsIsDisabled) {
		return types.WrapError(err, "failed to build metrics manager")
	}

	s.store, err = cache.NewCacheManager(s.ctx, log, s.metrics, s.config.Cache)
	if err != nil && !types.IsError(err, types.ErrCacheIsDisabled) {
		return types.WrapError(err, "failed to build cache")
	}

	if s.store != nil && s.config.Cache.Mirror != nil && s.config.Cache.Mirror.Enabled {
		s.mirror, err = cache.NewRedisMirror(s.ctx, log, s.config.Cache.Mirror)
		if err != nil {
			return types.WrapError(err, "failed to build cache mirror")
		}
	}

	if s.store != nil {
		s.responseCache = cache.NewAdResponseCache(s.store, s.mirror, log)

		if s.config.Cache.Preload != nil && s.config.Cache.Preload.Enabled {
			s.preloader = cache.NewPreloader(s.ctx, log, s.metrics, s.config.Cache.Preload, s.responseCache)
		}
	}

	s.client = client.NewAdServerClient(s.ctx, log, s.metrics, s.config.Client)

	var transport faults.Transport
	if s.config.Reporting != nil && s.config.Reporting.Enabled {
		transport = client.NewReportTransport(s.client, s.config.Reporting.Endpoint)
	}

	s.reporter, err = faults.NewReporter(s.ctx, log, s.metrics, s.config.Reporting, s.config.Retry, transport)
	if err != nil {
		return types.WrapError(err, "failed to build fault reporter")
	}

	s.observer = perf.NewObserver(s.ctx, log, s.metrics, s.config.Perf)

	if s.config.Cron != nil && s.config.Cron.Enabled {
		s.scheduler, err = cron.NewScheduler(s.ctx, log, s.metrics, s.config.Cron)
		if err != nil {
			return types.WrapError(err, "failed to build scheduler")
		}
	}

	s.manager, err = ads.NewManager(s.ctx, log, s.metrics, s.config.Fallback,
		s.client, s.responseCache, s.preloader, s.reporter, s.observer)
	if err != nil {
		return types.WrapError(err, "failed to build ad manager")
	}

	return nil
}

func (s *SDK) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrComponentAlreadyRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	for _, component := range s.components() {
		if err := component.Start(); err != nil {
			s.setState(StateStopped)
			return types.WrapError(err, "failed to start SDK component")
		}
	}

	if s.scheduler != nil {
		if err := s.registerJobs(); err != nil {
			s.setState(StateStopped)
			return types.WrapError(err, "failed to register maintenance jobs")
		}
		if err := s.scheduler.Start(); err != nil {
			s.setState(StateStopped)
			return types.WrapError(err, "failed to start scheduler")
		}
	}

	s.logger.Info("SDK started",
		zap.String("name", s.config.Name),
		zap.String("version", s.config.Version))

	return nil
}

// Stop shuts the components down in reverse order of start, bounded by
// the shutdown timeout. The reporter flushes its remaining queue before
// the client closes.
func (s *SDK) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrComponentNotRunning
	}

	defer func() {
		s.setState(StateStopped)
		s.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		s.stopComponents()
		return nil
	})

	if err := awaitGroup(ctx, &g); err != nil {
		s.logger.Warn("SDK stop timeout, some components may not have stopped gracefully")
		return err
	}

	s.logger.Info("SDK stopped gracefully")
	return nil
}

func (s *SDK) stopComponents() {
	if s.scheduler != nil {
		if err := s.scheduler.Stop(); err != nil {
			s.logger.Error("Failed to stop scheduler", zap.Error(err))
		}
	}

	components := s.components()
	for i := len(components) - 1; i >= 0; i-- {
		if err := components[i].Stop(); err != nil {
			s.logger.Error("Failed to stop SDK component", zap.Error(err))
		}
	}

	s.client.Close()
}

// awaitGroup waits for the group until ctx expires. A hung component
// keeps its goroutine, but the caller gets control back at the deadline.
func awaitGroup(ctx context.Context, g *errgroup.Group) error {
	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SDK) IsRunning() bool {
	return s.getState() == StateRunning
}

// RequestAd resolves one ad for the placement against the current
// conversation context.
func (s *SDK) RequestAd(ctx context.Context, placement types.Placement, cctx types.ConversationContext, opts *ads.RequestOptions) (*types.Ad, error) {
	if !s.IsRunning() {
		return nil, types.ErrComponentNotRunning
	}
	return s.manager.RequestAd(ctx, placement, cctx, opts)
}

// ValidateResponse exposes the response validator for callers that fetch
// payloads through their own transport.
func (s *SDK) ValidateResponse(raw []byte) (*types.AdResponse, error) {
	return validate.AdResponse(raw)
}

// ReportFault feeds an externally detected error into classification and
// batched reporting.
func (s *SDK) ReportFault(err error) {
	if err == nil {
		return
	}
	s.reporter.Report(faults.From(err))
}

func (s *SDK) CacheStats() types.CacheStats {
	if s.responseCache == nil {
		return types.CacheStats{}
	}
	return s.responseCache.Stats()
}

func (s *SDK) PerformanceReport() *perf.Report {
	return s.observer.Report()
}

func (s *SDK) Suggestions() []perf.OptimizationSuggestion {
	return s.observer.Suggestions()
}

func (s *SDK) Observer() *perf.Observer {
	return s.observer
}

func (s *SDK) Logger() types.Logger {
	return s.logger
}

// components lists the lifecycle-managed parts in start order. The
// scheduler is handled separately because jobs must be registered after
// their targets are running.
func (s *SDK) components() []types.LifecycleManager {
	components := make([]types.LifecycleManager, 0, 6)

	if s.metrics != nil {
		components = append(components, s.metrics)
	}
	if s.store != nil {
		components = append(components, s.store)
	}
	if s.mirror != nil {
		components = append(components, s.mirror)
	}
	components = append(components, s.reporter)
	components = append(components, s.observer)
	components = append(components, s.manager)

	return components
}

// registerJobs wires the periodic maintenance work: fault flushing and
// performance sampling. Cache sweeping runs inside the store itself.
func (s *SDK) registerJobs() error {
	if s.config.Reporting != nil && s.config.Reporting.Enabled {
		spec := everySpec(s.config.Reporting.FlushInterval)
		if err := s.scheduler.Add("fault_flush", spec, s.reporter.Flush); err != nil {
			return err
		}
	}

	if s.config.Perf != nil && s.config.Perf.Enabled && s.responseCache != nil {
		spec := everySpec(s.config.Perf.ReportInterval)
		err := s.scheduler.Add("perf_cache_sample", spec, func() {
			stats := s.responseCache.Stats()
			if stats.Hits+stats.Misses > 0 {
				s.observer.Sample(perf.MetricCacheHitRate, stats.HitRate)
			}
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func everySpec(interval time.Duration) string {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return fmt.Sprintf("@every %s", interval)
}

func (s *SDK) getState() State {
	return s.state.Load().(State)
}

func (s *SDK) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *SDK) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}
