package ads

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-ads/cache"
	"github.com/saiset-co/sai-ads/faults"
	"github.com/saiset-co/sai-ads/perf"
	"github.com/saiset-co/sai-ads/types"
	"github.com/saiset-co/sai-ads/validate"
)

type ManagerState int32

const (
	ManagerStateStopped ManagerState = iota
	ManagerStateStarting
	ManagerStateRunning
	ManagerStateStopping
)

// AdRequester performs the network round trip to the ad server and
// returns the raw response body. Failures come back already classified.
type AdRequester interface {
	RequestAds(ctx context.Context, req *types.AdRequest) ([]byte, error)
}

// RequestOptions carries the optional per-request caller inputs. Absent
// privacy settings are defaulted conservatively.
type RequestOptions struct {
	User    *types.UserProfile
	Privacy *types.PrivacySettings
	Device  *types.DeviceInfo
}

// Manager orchestrates the ad request pipeline: cache lookup, the
// timeout-bounded network call, validation, fallback, and the speculative
// preload burst behind a successful response.
type Manager struct {
	ctx       context.Context
	cancel    context.CancelFunc
	logger    types.Logger
	metrics   types.MetricsManager
	fallback  *types.FallbackConfig
	client    AdRequester
	cache     *cache.AdResponseCache
	preloader *cache.Preloader
	reporter  *faults.Reporter
	observer  *perf.Observer
	sessionID string
	state     atomic.Value
}

func NewManager(
	ctx context.Context,
	logger types.Logger,
	metrics types.MetricsManager,
	fallback *types.FallbackConfig,
	adClient AdRequester,
	responseCache *cache.AdResponseCache,
	preloader *cache.Preloader,
	reporter *faults.Reporter,
	observer *perf.Observer,
) (*Manager, error) {
	if adClient == nil {
		return nil, types.NewErrorf("ad server client is required")
	}
	if fallback == nil {
		fallback = &types.FallbackConfig{}
	}
	if fallback.RetryDelay <= 0 {
		fallback.RetryDelay = 500 * time.Millisecond
	}
	if fallback.Strategy == "" {
		fallback.Strategy = types.FallbackCachedAds
	}

	managerCtx, cancel := context.WithCancel(ctx)

	m := &Manager{
		ctx:       managerCtx,
		cancel:    cancel,
		logger:    logger,
		metrics:   metrics,
		fallback:  fallback,
		client:    adClient,
		cache:     responseCache,
		preloader: preloader,
		reporter:  reporter,
		observer:  observer,
		sessionID: uuid.NewString(),
	}

	m.state.Store(ManagerStateStopped)

	return m, nil
}

func (m *Manager) Start() error {
	if !m.transitionState(ManagerStateStopped, ManagerStateStarting) {
		return types.ErrComponentAlreadyRunning
	}

	defer func() {
		if m.getState() == ManagerStateStarting {
			m.setState(ManagerStateRunning)
		}
	}()

	m.logger.Info("Ad manager started", zap.String("session_id", m.sessionID))
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(ManagerStateRunning, ManagerStateStopping) {
		return types.ErrComponentNotRunning
	}

	defer func() {
		m.setState(ManagerStateStopped)
		m.cancel()
	}()

	m.logger.Info("Ad manager stopped")
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == ManagerStateRunning
}

// RequestAd resolves one ad for the placement. The caller always gets
// either an ad (possibly a fallback one, indistinguishable in shape) or
// the originating classified fault, never a silent empty result.
func (m *Manager) RequestAd(ctx context.Context, placement types.Placement, cctx types.ConversationContext, opts *RequestOptions) (*types.Ad, error) {
	if placement.ID == "" {
		return nil, faults.New(faults.KindSDKIntegration, "placement id is required", types.ErrPlacementInvalid)
	}

	if m.observer != nil {
		defer m.observer.Time(perf.MetricAdRequestTime)()
	}

	if m.preloader != nil {
		m.preloader.Observe(cctx)
	}

	if m.cache != nil {
		if resp, ok := m.cache.CachedResponse(placement, cctx); ok && len(resp.Ads) > 0 {
			m.recordRequest("cache_hit")
			return &resp.Ads[0], nil
		}
	}

	req := m.buildRequest(placement, cctx, opts)

	resp, err := m.attempt(ctx, req)
	if err == nil {
		m.finishSuccess(placement, cctx, resp)
		m.recordRequest("network")
		return &resp.Ads[0], nil
	}

	fault := faults.From(err)
	m.report(fault)

	ad, source, fbErr := m.runFallback(ctx, placement, cctx, req, fault)
	if fbErr != nil {
		m.recordRequest("error")
		return nil, fbErr
	}

	m.recordRequest(source)
	return ad, nil
}

// attempt performs one network round trip plus validation. An empty ads
// list is a distinguishable no-inventory failure, not a validation error.
func (m *Manager) attempt(ctx context.Context, req *types.AdRequest) (*types.AdResponse, error) {
	raw, err := m.client.RequestAds(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := validate.AdResponse(raw)
	if err != nil {
		return nil, err
	}

	if len(resp.Ads) == 0 {
		return nil, faults.New(faults.KindNoInventory, "ad server returned no inventory", types.ErrNoAdAvailable).
			WithContext("request_id", req.RequestID)
	}

	return resp, nil
}

// finishSuccess writes through the cache and fires the preload burst.
// Preloading is started, never awaited; its outcome only touches the
// cache.
func (m *Manager) finishSuccess(placement types.Placement, cctx types.ConversationContext, resp *types.AdResponse) {
	if m.cache != nil {
		m.cache.CacheResponse(placement, cctx, resp)
	}

	if m.preloader != nil {
		go m.preloader.Preload(placement, cctx, m.preloadFetcher())
	}
}

// preloadFetcher adapts the network pipeline for speculative warming.
func (m *Manager) preloadFetcher() cache.Fetcher {
	return func(ctx context.Context, placement types.Placement, cctx types.ConversationContext) (*types.AdResponse, error) {
		req := m.buildRequest(placement, cctx, nil)
		return m.attempt(ctx, req)
	}
}

func (m *Manager) buildRequest(placement types.Placement, cctx types.ConversationContext, opts *RequestOptions) *types.AdRequest {
	req := &types.AdRequest{
		RequestID: uuid.NewString(),
		SessionID: m.sessionID,
		Placement: placement,
		Context:   cctx,
		Device: types.DeviceInfo{
			Platform: runtime.GOOS,
		},
		Privacy: types.PrivacySettings{
			Consent:              false,
			AllowPersonalization: false,
			DoNotSell:            true,
		},
		Timestamp: time.Now(),
	}

	if opts != nil {
		if opts.Device != nil {
			req.Device = *opts.Device
		}
		if opts.User != nil {
			req.User = opts.User
		}
		if opts.Privacy != nil {
			req.Privacy = *opts.Privacy
		}
	}

	return req
}

func (m *Manager) report(fault *faults.Fault) {
	if m.reporter != nil {
		m.reporter.Report(fault)
	}

	if m.observer != nil {
		m.observer.CountError()
	}
}

func (m *Manager) recordRequest(result string) {
	if m.metrics == nil {
		return
	}

	m.metrics.Counter("ad_requests_total", map[string]string{
		"result": result,
	}).Inc()
}

func (m *Manager) getState() ManagerState {
	return m.state.Load().(ManagerState)
}

func (m *Manager) setState(newState ManagerState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to ManagerState) bool {
	return m.state.CompareAndSwap(from, to)
}
