package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-ads/types"
	"github.com/saiset-co/sai-ads/utils"
)

type MemoryState int32

const (
	MemoryStateStopped MemoryState = iota
	MemoryStateStarting
	MemoryStateRunning
	MemoryStateStopping
)

const (
	MaxTTL     = 24 * time.Hour
	DefaultTTL = 5 * time.Minute
)

const (
	DefaultMaxEntries   = 1000
	DefaultMaxSizeBytes = 10 << 20
)

// MemoryCache is an in-process store with lazy TTL expiry and true LRU
// eviction bounded by both an entry-count and a byte-size ceiling. Both
// ceilings hold after every Set.
type MemoryCache struct {
	ctx         context.Context
	cancel      context.CancelFunc
	config      *types.CacheConfig
	logger      types.Logger
	data        map[string]*types.CacheEntry
	currentSize int64
	hits        uint64
	misses      uint64
	evictions   uint64
	mu          sync.Mutex
	state       atomic.Value
	stopSweep   chan struct{}
	sweepDone   chan struct{}
}

func NewMemoryCache(ctx context.Context, logger types.Logger, config *types.CacheConfig) (*MemoryCache, error) {
	if config == nil {
		config = &types.CacheConfig{Enabled: true}
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultMaxEntries
	}
	if config.MaxSizeBytes <= 0 {
		config.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultTTL
	}

	cacheCtx, cancel := context.WithCancel(ctx)

	cache := &MemoryCache{
		ctx:       cacheCtx,
		cancel:    cancel,
		config:    config,
		logger:    logger,
		data:      make(map[string]*types.CacheEntry),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	cache.state.Store(MemoryStateStopped)

	return cache, nil
}

// Get returns the live value for key. Expired entries are evicted on
// lookup and counted as a miss plus an eviction, never a hit.
func (m *MemoryCache) Get(key string) (interface{}, bool) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.data[key]
	if !exists {
		m.misses++
		return nil, false
	}

	if !entry.ExpiresAt.IsZero() && now.After(entry.ExpiresAt) {
		m.removeEntryUnsafe(key)
		m.evictions++
		m.misses++
		return nil, false
	}

	entry.AccessCount++
	entry.LastAccessedAt = now
	m.hits++

	return entry.Value, true
}

// Contains is a stat-neutral presence peek: no hit/miss accounting, no
// access refresh, no eviction of what it finds expired.
func (m *MemoryCache) Contains(key string) bool {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.data[key]
	if !exists {
		return false
	}

	return entry.ExpiresAt.IsZero() || now.Before(entry.ExpiresAt)
}

// Set inserts or replaces an entry. Oversized or unserializable values are
// refused as a no-op; the store never corrupts state over bad input.
func (m *MemoryCache) Set(key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	size := utils.SizeOf(value)
	if size == 0 {
		m.logger.Warn("Refusing unserializable cache value", zap.String("key", key))
		return nil
	}
	if size > m.config.MaxSizeBytes {
		m.logger.Warn("Refusing oversized cache value",
			zap.String("key", key),
			zap.Int64("size_bytes", size),
			zap.Int64("max_size_bytes", m.config.MaxSizeBytes))
		return nil
	}

	if ttl <= 0 {
		ttl = m.config.DefaultTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	now := time.Now()
	entry := &types.CacheEntry{
		Key:            key,
		Value:          value,
		TTL:            ttl,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
		SizeBytes:      size,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, exists := m.data[key]; exists {
		m.currentSize -= old.SizeBytes
		delete(m.data, key)
	}

	m.evictForUnsafe(size)

	m.data[key] = entry
	m.currentSize += size
	return nil
}

func (m *MemoryCache) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeEntryUnsafe(key)
	return nil
}

// Range visits a snapshot of live entries. Expired entries are skipped but
// not evicted here; the sweep and lazy expiry own that.
func (m *MemoryCache) Range(fn func(key string, value interface{}) bool) {
	now := time.Now()

	m.mu.Lock()
	snapshot := make([]*types.CacheEntry, 0, len(m.data))
	for _, entry := range m.data {
		if !entry.ExpiresAt.IsZero() && now.After(entry.ExpiresAt) {
			continue
		}
		snapshot = append(snapshot, entry)
	}
	m.mu.Unlock()

	for _, entry := range snapshot {
		if !fn(entry.Key, entry.Value) {
			return
		}
	}
}

func (m *MemoryCache) Stats() types.CacheStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := types.CacheStats{
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
		Entries:   len(m.data),
		SizeBytes: m.currentSize,
	}

	if total := m.hits + m.misses; total > 0 {
		stats.HitRate = float64(m.hits) / float64(total)
	}

	return stats
}

// Clear drops every entry and resets the counters. The only operation
// that resets stats.
func (m *MemoryCache) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string]*types.CacheEntry)
	m.currentSize = 0
	m.hits = 0
	m.misses = 0
	m.evictions = 0
}

func (m *MemoryCache) Start() error {
	if !m.transitionState(MemoryStateStopped, MemoryStateStarting) {
		m.logger.Warn("Memory cache is already running")
		return types.ErrComponentAlreadyRunning
	}

	defer func() {
		if m.getState() == MemoryStateStarting {
			m.setState(MemoryStateRunning)
		}
	}()

	if m.config.SweepInterval > 0 {
		go m.startSweepRoutine()
	} else {
		close(m.sweepDone)
	}

	m.logger.Info("Memory cache started",
		zap.Int("max_entries", m.config.MaxEntries),
		zap.Int64("max_size_bytes", m.config.MaxSizeBytes))
	return nil
}

func (m *MemoryCache) Stop() error {
	if !m.transitionState(MemoryStateRunning, MemoryStateStopping) {
		m.logger.Warn("Memory cache is not running")
		return types.ErrComponentNotRunning
	}

	defer func() {
		m.setState(MemoryStateStopped)
	}()

	m.cancel()

	select {
	case m.stopSweep <- struct{}{}:
	case <-time.After(time.Second):
	}

	select {
	case <-m.sweepDone:
		m.logger.Debug("Sweep routine stopped")
	case <-time.After(5 * time.Second):
		m.logger.Warn("Sweep routine stop timeout")
	}

	m.Clear()
	m.logger.Info("Memory cache stopped")
	return nil
}

func (m *MemoryCache) IsRunning() bool {
	return m.getState() == MemoryStateRunning
}

// Sweep removes expired entries in one pass. Idempotent; safe to invoke
// concurrently with foreground reads and writes.
func (m *MemoryCache) Sweep() {
	now := time.Now()

	m.mu.Lock()
	expired := make([]string, 0, 8)
	for key, entry := range m.data {
		if !entry.ExpiresAt.IsZero() && now.After(entry.ExpiresAt) {
			expired = append(expired, key)
		}
	}

	for _, key := range expired {
		m.removeEntryUnsafe(key)
		m.evictions++
	}
	m.mu.Unlock()

	if len(expired) > 0 {
		m.logger.Debug("Cache sweep completed", zap.Int("expired_entries", len(expired)))
	}
}

func (m *MemoryCache) startSweepRoutine() {
	defer close(m.sweepDone)

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// evictForUnsafe frees room for an incoming entry of the given size,
// removing least-recently-accessed entries until both ceilings hold.
func (m *MemoryCache) evictForUnsafe(incomingSize int64) {
	for len(m.data) > 0 &&
		(len(m.data) >= m.config.MaxEntries || m.currentSize+incomingSize > m.config.MaxSizeBytes) {
		victim := m.findLRUVictimUnsafe()
		if victim == "" {
			return
		}
		m.removeEntryUnsafe(victim)
		m.evictions++
	}
}

func (m *MemoryCache) findLRUVictimUnsafe() string {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range m.data {
		if oldestKey == "" || entry.LastAccessedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.LastAccessedAt
		}
	}

	return oldestKey
}

func (m *MemoryCache) removeEntryUnsafe(key string) {
	if entry, exists := m.data[key]; exists {
		m.currentSize -= entry.SizeBytes
		delete(m.data, key)
	}
}

func (m *MemoryCache) getState() MemoryState {
	return m.state.Load().(MemoryState)
}

func (m *MemoryCache) setState(newState MemoryState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryCache) transitionState(from, to MemoryState) bool {
	return m.state.CompareAndSwap(from, to)
}
