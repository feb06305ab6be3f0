package cache

import (
	"context"
	"time"

	"github.com/saiset-co/sai-ads/types"
)

func NewCacheManager(ctx context.Context, logger types.Logger, metrics types.MetricsManager, config *types.CacheConfig) (types.AdCache, error) {
	if config == nil || !config.Enabled {
		return nil, types.ErrCacheIsDisabled
	}

	impl, err := NewMemoryCache(ctx, logger, config)
	if err != nil {
		return nil, err
	}

	if metrics == nil {
		return impl, nil
	}

	return newInstrumentedCache(metrics, impl), nil
}

type instrumentedCache struct {
	impl    types.AdCache
	metrics types.MetricsManager
}

func newInstrumentedCache(metrics types.MetricsManager, impl types.AdCache) types.AdCache {
	return &instrumentedCache{
		impl:    impl,
		metrics: metrics,
	}
}

func (ic *instrumentedCache) Get(key string) (interface{}, bool) {
	start := time.Now()
	value, exists := ic.impl.Get(key)

	result := "miss"
	if exists {
		result = "hit"
	}

	ic.recordMetric("get", result, time.Since(start))
	return value, exists
}

func (ic *instrumentedCache) Contains(key string) bool {
	return ic.impl.Contains(key)
}

func (ic *instrumentedCache) Set(key string, value interface{}, ttl time.Duration) error {
	start := time.Now()
	err := ic.impl.Set(key, value, ttl)

	result := "success"
	if err != nil {
		result = "error"
	}

	ic.recordMetric("set", result, time.Since(start))
	return err
}

func (ic *instrumentedCache) Delete(key string) error {
	start := time.Now()
	err := ic.impl.Delete(key)

	result := "success"
	if err != nil {
		result = "error"
	}

	ic.recordMetric("delete", result, time.Since(start))
	return err
}

func (ic *instrumentedCache) Range(fn func(key string, value interface{}) bool) {
	ic.impl.Range(fn)
}

func (ic *instrumentedCache) Stats() types.CacheStats {
	stats := ic.impl.Stats()

	ic.metrics.Gauge("cache_hit_rate", nil).Set(stats.HitRate)
	ic.metrics.Gauge("cache_entries", nil).Set(float64(stats.Entries))
	ic.metrics.Gauge("cache_size_bytes", nil).Set(float64(stats.SizeBytes))

	return stats
}

func (ic *instrumentedCache) Clear() {
	ic.impl.Clear()
}

func (ic *instrumentedCache) Start() error {
	return ic.impl.Start()
}

func (ic *instrumentedCache) Stop() error {
	return ic.impl.Stop()
}

func (ic *instrumentedCache) IsRunning() bool {
	return ic.impl.IsRunning()
}

func (ic *instrumentedCache) recordMetric(operation, result string, duration time.Duration) {
	opCounter := ic.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	})
	opCounter.Inc()

	opDuration := ic.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	)
	opDuration.Observe(duration.Seconds())
}
