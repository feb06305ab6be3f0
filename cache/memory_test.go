package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-ads/logger"
	"github.com/saiset-co/sai-ads/types"
)

func newTestCache(t *testing.T, config *types.CacheConfig) *MemoryCache {
	t.Helper()

	c, err := NewMemoryCache(context.Background(), logger.NewZapWrapper(zap.NewNop()), config)
	require.NoError(t, err)
	return c
}

func TestMemoryCacheSetGet(t *testing.T) {
	c := newTestCache(t, nil)

	require.NoError(t, c.Set("k1", "value", time.Minute))

	value, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "value", value)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, 1, stats.Entries)
}

func TestMemoryCacheMissCounts(t *testing.T) {
	c := newTestCache(t, nil)

	_, ok := c.Get("absent")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Zero(t, stats.Hits)
}

func TestMemoryCacheEmptyKeyRejected(t *testing.T) {
	c := newTestCache(t, nil)

	assert.ErrorIs(t, c.Set("", "x", time.Minute), types.ErrCacheKeyEmpty)
}

func TestMemoryCacheExpiryCountsMissAndEviction(t *testing.T) {
	c := newTestCache(t, nil)

	require.NoError(t, c.Set("short", "v", 10*time.Millisecond))
	time.Sleep(25 * time.Millisecond)

	_, ok := c.Get("short")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Entries)
}

func TestMemoryCacheContainsIsStatNeutral(t *testing.T) {
	c := newTestCache(t, nil)

	require.NoError(t, c.Set("live", "v", time.Minute))
	require.NoError(t, c.Set("dead", "v", 10*time.Millisecond))
	time.Sleep(25 * time.Millisecond)

	assert.True(t, c.Contains("live"))
	assert.False(t, c.Contains("dead"))
	assert.False(t, c.Contains("absent"))

	stats := c.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
	assert.Zero(t, stats.Evictions, "a peek at an expired entry does not evict it")
	assert.Equal(t, 2, stats.Entries)
}

func TestMemoryCacheContainsDoesNotRefreshLRU(t *testing.T) {
	c := newTestCache(t, &types.CacheConfig{
		Enabled:    true,
		MaxEntries: 3,
	})

	require.NoError(t, c.Set("a", "1", time.Minute))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, c.Set("b", "2", time.Minute))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, c.Set("c", "3", time.Minute))
	time.Sleep(2 * time.Millisecond)

	// unlike Get, a peek must leave "a" the eviction victim
	assert.True(t, c.Contains("a"))

	require.NoError(t, c.Set("d", "4", time.Minute))

	assert.False(t, c.Contains("a"))
	assert.True(t, c.Contains("b"))
	assert.True(t, c.Contains("d"))
}

func TestMemoryCacheLRUEviction(t *testing.T) {
	c := newTestCache(t, &types.CacheConfig{
		Enabled:    true,
		MaxEntries: 3,
	})

	require.NoError(t, c.Set("a", "1", time.Minute))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, c.Set("b", "2", time.Minute))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, c.Set("c", "3", time.Minute))
	time.Sleep(2 * time.Millisecond)

	// touching "a" makes "b" the least recently used
	_, ok := c.Get("a")
	require.True(t, ok)
	time.Sleep(2 * time.Millisecond)

	require.NoError(t, c.Set("d", "4", time.Minute))

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")

	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("d")
	assert.True(t, ok)

	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestMemoryCacheSizeCeiling(t *testing.T) {
	c := newTestCache(t, &types.CacheConfig{
		Enabled:      true,
		MaxEntries:   100,
		MaxSizeBytes: 40,
	})

	// each JSON-encoded value is 12 bytes
	require.NoError(t, c.Set("a", "aaaaaaaaaa", time.Minute))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, c.Set("b", "bbbbbbbbbb", time.Minute))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, c.Set("c", "cccccccccc", time.Minute))
	time.Sleep(2 * time.Millisecond)

	require.NoError(t, c.Set("d", "dddddddddd", time.Minute))

	stats := c.Stats()
	assert.LessOrEqual(t, stats.SizeBytes, int64(40))
	assert.GreaterOrEqual(t, stats.Evictions, uint64(1))

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should make room for the newest")
}

func TestMemoryCacheRefusesOversizedValue(t *testing.T) {
	c := newTestCache(t, &types.CacheConfig{
		Enabled:      true,
		MaxSizeBytes: 10,
	})

	require.NoError(t, c.Set("big", "this value is far too large", time.Minute))

	_, ok := c.Get("big")
	assert.False(t, ok)
}

func TestMemoryCacheReplaceSameKey(t *testing.T) {
	c := newTestCache(t, nil)

	require.NoError(t, c.Set("k", "old", time.Minute))
	require.NoError(t, c.Set("k", "new", time.Minute))

	value, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", value)
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestMemoryCacheTTLClampedToDefault(t *testing.T) {
	c := newTestCache(t, &types.CacheConfig{
		Enabled:    true,
		DefaultTTL: 50 * time.Millisecond,
	})

	require.NoError(t, c.Set("k", "v", 0))
	time.Sleep(70 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok, "zero TTL should fall back to the default")
}

func TestMemoryCacheRangeSkipsExpired(t *testing.T) {
	c := newTestCache(t, nil)

	require.NoError(t, c.Set("live", "v", time.Minute))
	require.NoError(t, c.Set("dead", "v", 10*time.Millisecond))
	time.Sleep(25 * time.Millisecond)

	var seen []string
	c.Range(func(key string, value interface{}) bool {
		seen = append(seen, key)
		return true
	})

	assert.Equal(t, []string{"live"}, seen)
}

func TestMemoryCacheSweep(t *testing.T) {
	c := newTestCache(t, nil)

	require.NoError(t, c.Set("a", "v", 10*time.Millisecond))
	require.NoError(t, c.Set("b", "v", time.Minute))
	time.Sleep(25 * time.Millisecond)

	c.Sweep()

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, uint64(1), stats.Evictions)
}

func TestMemoryCacheClearResetsStats(t *testing.T) {
	c := newTestCache(t, nil)

	require.NoError(t, c.Set("k", "v", time.Minute))
	c.Get("k")
	c.Get("absent")

	c.Clear()

	stats := c.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
	assert.Zero(t, stats.Evictions)
	assert.Zero(t, stats.Entries)
	assert.Zero(t, stats.SizeBytes)
}

func TestMemoryCacheHitRate(t *testing.T) {
	c := newTestCache(t, nil)

	require.NoError(t, c.Set("k", "v", time.Minute))
	c.Get("k")
	c.Get("absent")

	assert.InDelta(t, 0.5, c.Stats().HitRate, 0.001)
}

func TestMemoryCacheLifecycle(t *testing.T) {
	c := newTestCache(t, &types.CacheConfig{
		Enabled:       true,
		SweepInterval: 10 * time.Millisecond,
	})

	require.NoError(t, c.Start())
	assert.True(t, c.IsRunning())
	assert.ErrorIs(t, c.Start(), types.ErrComponentAlreadyRunning)

	require.NoError(t, c.Set("short", "v", 15*time.Millisecond))
	assert.Eventually(t, func() bool {
		return c.Stats().Entries == 0
	}, time.Second, 5*time.Millisecond, "sweep routine should expire the entry")

	require.NoError(t, c.Stop())
	assert.False(t, c.IsRunning())
}
