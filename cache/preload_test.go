package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-ads/logger"
	"github.com/saiset-co/sai-ads/types"
)

func newTestResponseCache(t *testing.T) *AdResponseCache {
	t.Helper()

	store := newTestCache(t, &types.CacheConfig{Enabled: true})
	return NewAdResponseCache(store, nil, logger.NewZapWrapper(zap.NewNop()))
}

func testResponse(id string) *types.AdResponse {
	return &types.AdResponse{
		RequestID:  id,
		Ads:        []types.Ad{{ID: "ad-" + id, Title: "t"}},
		Timestamp:  time.Now(),
		TTLSeconds: 300,
	}
}

type countingFetcher struct {
	mu    sync.Mutex
	calls int
}

func (f *countingFetcher) fetch(ctx context.Context, placement types.Placement, cctx types.ConversationContext) (*types.AdResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return testResponse("preload"), nil
}

func (f *countingFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestSimilarityIdenticalContexts(t *testing.T) {
	cctx := types.ConversationContext{
		Topics:    []string{"travel", "hotels"},
		Intent:    "purchase",
		Sentiment: 0.5,
		Stage:     "consideration",
	}

	assert.InDelta(t, 1.0, Similarity(cctx, cctx), 0.001)
}

func TestSimilarityTopicOverlap(t *testing.T) {
	a := types.ConversationContext{Topics: []string{"travel", "hotels"}}
	b := types.ConversationContext{Topics: []string{"travel", "flights"}}

	// jaccard 1/3 plus full sentiment agreement, averaged over two parts
	assert.InDelta(t, (1.0/3.0+1.0)/2.0, Similarity(a, b), 0.001)
}

func TestSimilaritySkipsIncomparableFields(t *testing.T) {
	a := types.ConversationContext{Intent: "purchase", Sentiment: 1}
	b := types.ConversationContext{Sentiment: -1}

	// only sentiment is comparable: distance 2 normalizes to score 0
	assert.InDelta(t, 0.0, Similarity(a, b), 0.001)
}

func TestSimilarityIntentMismatch(t *testing.T) {
	a := types.ConversationContext{Intent: "purchase"}
	b := types.ConversationContext{Intent: "support"}

	// intent disagrees, sentiment agrees
	assert.InDelta(t, 0.5, Similarity(a, b), 0.001)
}

func TestPreloaderObserveBoundsHistory(t *testing.T) {
	p := NewPreloader(context.Background(), logger.NewZapWrapper(zap.NewNop()), nil,
		&types.PreloadConfig{Enabled: true, HistorySize: 3}, newTestResponseCache(t))

	for i := 0; i < 10; i++ {
		p.Observe(types.ConversationContext{Intent: "x"})
	}

	p.histMu.Lock()
	defer p.histMu.Unlock()
	assert.Len(t, p.history, 3)
}

func TestPreloadWarmsRelatedKeys(t *testing.T) {
	responseCache := newTestResponseCache(t)
	fetcher := &countingFetcher{}

	p := NewPreloader(context.Background(), logger.NewZapWrapper(zap.NewNop()), nil,
		&types.PreloadConfig{Enabled: true}, responseCache)

	placement := types.Placement{ID: "p1"}
	cctx := types.ConversationContext{Topics: []string{"travel", "hotels"}}

	p.Preload(placement, cctx, fetcher.fetch)

	assert.Greater(t, fetcher.count(), 0)
	assert.True(t, responseCache.Contains(placement, types.ConversationContext{Topics: []string{"travel"}}),
		"single-topic variant should be warmed")
}

func TestPreloadSkipsWhenHitRateHealthy(t *testing.T) {
	responseCache := newTestResponseCache(t)
	fetcher := &countingFetcher{}

	placement := types.Placement{ID: "p1"}
	warm := types.ConversationContext{Topics: []string{"warm"}}
	responseCache.CacheResponse(placement, warm, testResponse("warm"))
	_, ok := responseCache.CachedResponse(placement, warm)
	require.True(t, ok)

	p := NewPreloader(context.Background(), logger.NewZapWrapper(zap.NewNop()), nil,
		&types.PreloadConfig{Enabled: true, HitRateThreshold: 0.5}, responseCache)

	p.Preload(placement, types.ConversationContext{Topics: []string{"a", "b"}}, fetcher.fetch)

	assert.Zero(t, fetcher.count())
}

func TestPreloadDisabled(t *testing.T) {
	fetcher := &countingFetcher{}

	p := NewPreloader(context.Background(), logger.NewZapWrapper(zap.NewNop()), nil,
		&types.PreloadConfig{Enabled: false}, newTestResponseCache(t))

	p.Preload(types.Placement{ID: "p1"}, types.ConversationContext{Topics: []string{"a"}}, fetcher.fetch)

	assert.Zero(t, fetcher.count())
}

func TestPreloadSkipsAlreadyCachedCandidates(t *testing.T) {
	responseCache := newTestResponseCache(t)
	fetcher := &countingFetcher{}

	placement := types.Placement{ID: "p1"}
	variant := types.ConversationContext{Topics: []string{"travel"}}
	responseCache.CacheResponse(placement, variant, testResponse("cached"))

	p := NewPreloader(context.Background(), logger.NewZapWrapper(zap.NewNop()), nil,
		&types.PreloadConfig{Enabled: true, MaxCandidates: 1}, responseCache)

	p.Preload(placement, types.ConversationContext{Topics: []string{"travel", "hotels"}}, fetcher.fetch)

	// the only selected candidate must not be the one already cached
	assert.LessOrEqual(t, fetcher.count(), 1)
	assert.True(t, responseCache.Contains(placement, variant))
}

func TestPreloadSelectionLeavesStatsUntouched(t *testing.T) {
	responseCache := newTestResponseCache(t)
	fetcher := &countingFetcher{}

	placement := types.Placement{ID: "p1"}
	variant := types.ConversationContext{Topics: []string{"travel"}}
	responseCache.CacheResponse(placement, variant, testResponse("cached"))

	// one real miss keeps the hit rate below threshold so preload runs
	_, ok := responseCache.CachedResponse(placement, types.ConversationContext{Topics: []string{"cold"}})
	require.False(t, ok)
	before := responseCache.Stats()

	p := NewPreloader(context.Background(), logger.NewZapWrapper(zap.NewNop()), nil,
		&types.PreloadConfig{Enabled: true}, responseCache)

	p.Preload(placement, types.ConversationContext{Topics: []string{"travel", "hotels"}}, fetcher.fetch)

	after := responseCache.Stats()
	assert.Equal(t, before.Hits, after.Hits, "candidate scanning must not count hits")
	assert.Equal(t, before.Misses, after.Misses, "candidate scanning must not count misses")
	assert.Greater(t, fetcher.count(), 0)
}

func TestPreloadCapsCandidates(t *testing.T) {
	responseCache := newTestResponseCache(t)
	fetcher := &countingFetcher{}

	p := NewPreloader(context.Background(), logger.NewZapWrapper(zap.NewNop()), nil,
		&types.PreloadConfig{Enabled: true, MaxCandidates: 2},
		responseCache)

	cctx := types.ConversationContext{Topics: []string{"a", "b", "c", "d"}}
	p.Preload(types.Placement{ID: "p1"}, cctx, fetcher.fetch)

	assert.LessOrEqual(t, fetcher.count(), 2)
}
