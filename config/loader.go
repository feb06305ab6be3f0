package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-ads/types"
)

// Env variables that override file values. The API key in particular
// should never have to live in a checked-in config file.
const (
	envAPIKey   = "SAI_ADS_API_KEY"
	envBaseURL  = "SAI_ADS_BASE_URL"
	envLogLevel = "SAI_ADS_LOG_LEVEL"
	envRedis    = "SAI_ADS_REDIS_ADDR"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// LoadFromFile reads, defaults, env-overrides, and validates an SDK
// config.
func (l *Loader) LoadFromFile(configPath string) (*types.SDKConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.WrapError(err, "file not found: "+configPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := l.readFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	return l.Load(data)
}

// Load parses raw YAML into a defaulted, validated config.
func (l *Loader) Load(data []byte) (*types.SDKConfig, error) {
	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	l.applyEnv(config)

	if err := l.validator.Struct(config); err != nil {
		return nil, types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}

	return config, nil
}

func (l *Loader) Validate(config *types.SDKConfig) error {
	if config == nil {
		return types.ErrConfigIsNil
	}

	if err := l.validator.Struct(config); err != nil {
		return types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}

	return nil
}

func (l *Loader) applyEnv(config *types.SDKConfig) {
	if v := os.Getenv(envAPIKey); v != "" && config.Client != nil {
		config.Client.APIKey = v
	}
	if v := os.Getenv(envBaseURL); v != "" && config.Client != nil {
		config.Client.BaseURL = v
	}
	if v := os.Getenv(envLogLevel); v != "" && config.Logger != nil {
		config.Logger.Level = v
	}
	if v := os.Getenv(envRedis); v != "" && config.Cache != nil && config.Cache.Mirror != nil {
		config.Cache.Mirror.Addr = v
	}
}

func (l *Loader) readFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.SDKConfig {
	return &types.SDKConfig{
		Name:    "sai-ads",
		Version: "1.0.0",
		Logger: &types.LoggerConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Cache: &types.CacheConfig{
			Enabled:       true,
			DefaultTTL:    5 * time.Minute,
			MaxEntries:    1000,
			MaxSizeBytes:  10 * 1024 * 1024,
			SweepInterval: time.Minute,
			Preload: &types.PreloadConfig{
				Enabled:             false,
				HitRateThreshold:    0.5,
				SimilarityThreshold: 0.6,
				HistorySize:         50,
				MaxConcurrency:      3,
				MaxCandidates:       6,
			},
			Mirror: &types.MirrorConfig{
				Enabled: false,
			},
		},
		Client: &types.ClientConfig{
			Timeout: 10 * time.Second,
			CircuitBreaker: &types.CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				RecoveryTimeout:  60 * time.Second,
				HalfOpenRequests: 3,
			},
		},
		Fallback: &types.FallbackConfig{
			Enabled:    true,
			MaxRetries: 3,
			RetryDelay: 500 * time.Millisecond,
			Strategy:   types.FallbackCachedAds,
		},
		Retry: &types.RetryConfig{
			MaxAttempts:       3,
			BaseDelay:         200 * time.Millisecond,
			MaxDelay:          5 * time.Second,
			BackoffMultiplier: 2,
			Jitter:            true,
		},
		Reporting: &types.ReportingConfig{
			Enabled:       false,
			BatchSize:     20,
			FlushInterval: 30 * time.Second,
			MaxQueue:      200,
		},
		Perf: &types.PerfConfig{
			Enabled:         false,
			ReportInterval:  time.Minute,
			AdRequestTime:   500 * time.Millisecond,
			RenderTime:      100 * time.Millisecond,
			MinCacheHitRate: 0.3,
			MaxErrorRate:    0.1,
		},
		Cron: &types.CronConfig{
			Enabled:  true,
			Timezone: "UTC",
		},
		Metrics: &types.MetricsConfig{
			Enabled:   false,
			Namespace: "sai_ads",
		},
	}
}
