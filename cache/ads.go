package cache

import (
	"go.uber.org/zap"

	"github.com/saiset-co/sai-ads/types"
)

// AdResponseCache is the domain-level view over the key-value store: it
// derives keys from (placement, context) and honors the response's own
// TTL over the store default.
type AdResponseCache struct {
	store  types.AdCache
	mirror *RedisMirror
	logger types.Logger
}

func NewAdResponseCache(store types.AdCache, mirror *RedisMirror, logger types.Logger) *AdResponseCache {
	return &AdResponseCache{
		store:  store,
		mirror: mirror,
		logger: logger,
	}
}

func (c *AdResponseCache) CacheResponse(placement types.Placement, cctx types.ConversationContext, resp *types.AdResponse) {
	if resp == nil {
		return
	}

	key := BuildAdCacheKey(placement, cctx)
	if err := c.store.Set(key, resp, resp.TTL()); err != nil {
		c.logger.Warn("Failed to cache ad response",
			zap.String("key", key),
			zap.Error(err))
	}

	if c.mirror != nil {
		go c.mirror.Store(key, resp, resp.TTL())
	}
}

func (c *AdResponseCache) CachedResponse(placement types.Placement, cctx types.ConversationContext) (*types.AdResponse, bool) {
	key := BuildAdCacheKey(placement, cctx)

	if value, ok := c.store.Get(key); ok {
		if resp, ok := value.(*types.AdResponse); ok {
			return resp, true
		}
		return nil, false
	}

	// local miss; the mirror may still hold a live copy
	if c.mirror != nil {
		if resp, ok := c.mirror.Fetch(key); ok {
			if err := c.store.Set(key, resp, resp.TTL()); err != nil {
				c.logger.Debug("Failed to rehydrate from mirror", zap.String("key", key), zap.Error(err))
			}
			return resp, true
		}
	}

	return nil, false
}

// Contains checks the local store only: no hit/miss accounting, no LRU
// refresh, and never a round-trip to the mirror. The preloader leans on
// this while scanning candidates.
func (c *AdResponseCache) Contains(placement types.Placement, cctx types.ConversationContext) bool {
	return c.store.Contains(BuildAdCacheKey(placement, cctx))
}

// AnyCachedResponse scans every live entry, not just the current key, and
// returns the first response carrying at least one ad. Feeds the
// cached-ads fallback.
func (c *AdResponseCache) AnyCachedResponse() (*types.AdResponse, bool) {
	var found *types.AdResponse

	c.store.Range(func(key string, value interface{}) bool {
		resp, ok := value.(*types.AdResponse)
		if !ok || len(resp.Ads) == 0 {
			return true
		}
		found = resp
		return false
	})

	return found, found != nil
}

func (c *AdResponseCache) Stats() types.CacheStats {
	return c.store.Stats()
}

func (c *AdResponseCache) Clear() {
	c.store.Clear()
}
