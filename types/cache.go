package types

import (
	"time"
)

type AdCache interface {
	LifecycleManager
	Get(key string) (interface{}, bool)
	// Contains reports key liveness without counting toward hit/miss
	// stats or refreshing access order.
	Contains(key string) bool
	Set(key string, value interface{}, ttl time.Duration) error
	Delete(key string) error
	Range(fn func(key string, value interface{}) bool)
	Stats() CacheStats
	Clear()
}

// CacheEntry is mutated on every read (access tracking feeds LRU eviction)
// and replaced wholesale on write.
type CacheEntry struct {
	Key            string        `json:"key"`
	Value          interface{}   `json:"value"`
	TTL            time.Duration `json:"ttl"`
	CreatedAt      time.Time     `json:"created_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
	AccessCount    uint64        `json:"access_count"`
	SizeBytes      int64         `json:"size_bytes"`
}

type CacheStats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
	Entries   int     `json:"entries"`
	SizeBytes int64   `json:"size_bytes"`
}
