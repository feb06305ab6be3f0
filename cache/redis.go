package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-ads/types"
	"github.com/saiset-co/sai-ads/utils"
)

// RedisMirror keeps a best-effort copy of cached ad responses in redis.
// It is an availability optimization only: an unreachable mirror degrades
// to ordinary cache misses, never errors.
type RedisMirror struct {
	ctx       context.Context
	cancel    context.CancelFunc
	logger    types.Logger
	config    *types.MirrorConfig
	client    *redis.Client
	running   int32
	opTimeout time.Duration
}

func NewRedisMirror(ctx context.Context, logger types.Logger, config *types.MirrorConfig) (*RedisMirror, error) {
	if config == nil || !config.Enabled {
		return nil, types.ErrCacheIsDisabled
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "sai-ads:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	mirrorCtx, cancel := context.WithCancel(ctx)

	return &RedisMirror{
		ctx:       mirrorCtx,
		cancel:    cancel,
		logger:    logger,
		config:    config,
		client:    client,
		opTimeout: 2 * time.Second,
	}, nil
}

func (r *RedisMirror) Start() error {
	if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.opTimeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		// mirror stays up; every op is best-effort anyway
		r.logger.Warn("Cache mirror unreachable at startup", zap.Error(err))
	}

	r.logger.Info("Cache mirror started", zap.String("addr", r.config.Addr))
	return nil
}

func (r *RedisMirror) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.running, 1, 0) {
		return types.ErrComponentNotRunning
	}

	r.cancel()

	if err := r.client.Close(); err != nil {
		r.logger.Warn("Cache mirror close failed", zap.Error(err))
	}

	r.logger.Info("Cache mirror stopped")
	return nil
}

func (r *RedisMirror) IsRunning() bool {
	return atomic.LoadInt32(&r.running) == 1
}

// Store writes a response copy with the same TTL as the local entry.
func (r *RedisMirror) Store(key string, resp *types.AdResponse, ttl time.Duration) {
	if !r.IsRunning() || resp == nil {
		return
	}

	payload, err := utils.Marshal(resp)
	if err != nil {
		r.logger.Warn("Cache mirror marshal failed", zap.String("key", key), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.opTimeout)
	defer cancel()

	if err := r.client.Set(ctx, r.config.KeyPrefix+key, payload, ttl).Err(); err != nil {
		r.logger.Debug("Cache mirror store failed", zap.String("key", key), zap.Error(err))
	}
}

// Fetch returns a mirrored response if one is still live.
func (r *RedisMirror) Fetch(key string) (*types.AdResponse, bool) {
	if !r.IsRunning() {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.opTimeout)
	defer cancel()

	payload, err := r.client.Get(ctx, r.config.KeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Debug("Cache mirror fetch failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var resp types.AdResponse
	if err := utils.Unmarshal(payload, &resp); err != nil {
		r.logger.Warn("Cache mirror payload corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	return &resp, true
}
