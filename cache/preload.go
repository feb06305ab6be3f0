package cache

import (
	"context"
	"math"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-ads/types"
)

// Fetcher loads a fresh response for a speculative context. The preloader
// only ever writes its results to the cache.
type Fetcher func(ctx context.Context, placement types.Placement, cctx types.ConversationContext) (*types.AdResponse, error)

// Preloader speculatively warms keys related to the current context. It
// only runs while the hit rate sits below the configured threshold, and
// its failures never reach the foreground request.
type Preloader struct {
	ctx        context.Context
	config     *types.PreloadConfig
	logger     types.Logger
	metrics    types.MetricsManager
	cache      *AdResponseCache
	history    []types.ConversationContext
	histMu     sync.Mutex
	inflight   map[string]struct{}
	inflightMu sync.Mutex
}

func NewPreloader(ctx context.Context, logger types.Logger, metrics types.MetricsManager, config *types.PreloadConfig, cache *AdResponseCache) *Preloader {
	if config == nil {
		config = &types.PreloadConfig{}
	}
	if config.HitRateThreshold <= 0 {
		config.HitRateThreshold = 0.5
	}
	if config.SimilarityThreshold <= 0 {
		config.SimilarityThreshold = 0.6
	}
	if config.HistorySize <= 0 {
		config.HistorySize = 50
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 3
	}
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = 6
	}

	return &Preloader{
		ctx:      ctx,
		config:   config,
		logger:   logger,
		metrics:  metrics,
		cache:    cache,
		history:  make([]types.ConversationContext, 0, config.HistorySize),
		inflight: make(map[string]struct{}),
	}
}

// Observe records a context for later similarity scoring.
func (p *Preloader) Observe(cctx types.ConversationContext) {
	p.histMu.Lock()
	defer p.histMu.Unlock()

	p.history = append(p.history, cctx)
	if len(p.history) > p.config.HistorySize {
		p.history = p.history[len(p.history)-p.config.HistorySize:]
	}
}

// Preload warms related keys for the given placement. Best-effort: every
// failure is logged and discarded. Intended to run on its own goroutine,
// decoupled from the request that triggered it.
func (p *Preloader) Preload(placement types.Placement, cctx types.ConversationContext, fetch Fetcher) {
	if !p.config.Enabled || fetch == nil {
		return
	}

	stats := p.cache.Stats()
	if stats.Hits+stats.Misses > 0 && stats.HitRate >= p.config.HitRateThreshold {
		return
	}

	candidates := p.candidates(cctx)

	selected := make([]types.ConversationContext, 0, p.config.MaxCandidates)
	for _, candidate := range candidates {
		if len(selected) >= p.config.MaxCandidates {
			break
		}

		key := BuildAdCacheKey(placement, candidate)
		if p.cache.Contains(placement, candidate) {
			continue
		}
		if !p.claim(key) {
			continue
		}
		selected = append(selected, candidate)
	}

	if len(selected) == 0 {
		return
	}

	g, gCtx := errgroup.WithContext(p.ctx)
	g.SetLimit(p.config.MaxConcurrency)

	for _, candidate := range selected {
		candidate := candidate
		key := BuildAdCacheKey(placement, candidate)

		g.Go(func() error {
			defer p.release(key)

			resp, err := fetch(gCtx, placement, candidate)
			if err != nil {
				p.logger.Debug("Preload fetch failed",
					zap.String("key", key),
					zap.Error(err))
				p.recordPreload("error")
				return nil
			}

			p.cache.CacheResponse(placement, candidate, resp)
			p.recordPreload("success")
			return nil
		})
	}

	_ = g.Wait()
}

// candidates generates topical variations plus historically similar
// contexts, most useful first.
func (p *Preloader) candidates(cctx types.ConversationContext) []types.ConversationContext {
	var out []types.ConversationContext

	// each topic alone
	for _, topic := range cctx.Topics {
		variant := cctx
		variant.Topics = []string{topic}
		out = append(out, variant)
	}

	// drop-one subsets
	if len(cctx.Topics) > 1 {
		for i := range cctx.Topics {
			subset := make([]string, 0, len(cctx.Topics)-1)
			subset = append(subset, cctx.Topics[:i]...)
			subset = append(subset, cctx.Topics[i+1:]...)

			variant := cctx
			variant.Topics = subset
			out = append(out, variant)
		}
	}

	p.histMu.Lock()
	for _, past := range p.history {
		if Similarity(cctx, past) >= p.config.SimilarityThreshold {
			out = append(out, past)
		}
	}
	p.histMu.Unlock()

	return out
}

func (p *Preloader) claim(key string) bool {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()

	if _, busy := p.inflight[key]; busy {
		return false
	}
	p.inflight[key] = struct{}{}
	return true
}

func (p *Preloader) release(key string) {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	delete(p.inflight, key)
}

func (p *Preloader) recordPreload(result string) {
	if p.metrics == nil {
		return
	}
	p.metrics.Counter("cache_preload_total", map[string]string{"result": result}).Inc()
}

// Similarity scores two contexts in [0,1] over equally weighted
// components: topic Jaccard overlap, intent equality, sentiment
// closeness, stage equality. A component only counts when both sides
// carry the field.
func Similarity(a, b types.ConversationContext) float64 {
	var sum float64
	var parts int

	if len(a.Topics) > 0 && len(b.Topics) > 0 {
		sum += jaccard(a.Topics, b.Topics)
		parts++
	}

	if a.Intent != "" && b.Intent != "" {
		if a.Intent == b.Intent {
			sum += 1
		}
		parts++
	}

	// sentiment spans [-1,1]; normalize distance into [0,1]
	sum += 1 - math.Abs(a.Sentiment-b.Sentiment)/2
	parts++

	if a.Stage != "" && b.Stage != "" {
		if a.Stage == b.Stage {
			sum += 1
		}
		parts++
	}

	if parts == 0 {
		return 0
	}

	return sum / float64(parts)
}

func jaccard(a, b []string) float64 {
	set := make(map[string]struct{}, len(a))
	for _, item := range a {
		set[item] = struct{}{}
	}

	var intersection int
	union := len(set)
	seen := make(map[string]struct{}, len(b))
	for _, item := range b {
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}

		if _, ok := set[item]; ok {
			intersection++
		} else {
			union++
		}
	}

	if union == 0 {
		return 0
	}

	return float64(intersection) / float64(union)
}
