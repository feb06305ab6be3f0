package types

import (
	"time"
)

type SDKConfig struct {
	Name      string           `yaml:"name" json:"name" validate:"required"`
	Version   string           `yaml:"version" json:"version"`
	Logger    *LoggerConfig    `yaml:"logger" json:"logger"`
	Cache     *CacheConfig     `yaml:"cache" json:"cache"`
	Client    *ClientConfig    `yaml:"client" json:"client" validate:"required"`
	Fallback  *FallbackConfig  `yaml:"fallback" json:"fallback"`
	Retry     *RetryConfig     `yaml:"retry" json:"retry"`
	Reporting *ReportingConfig `yaml:"reporting" json:"reporting"`
	Perf      *PerfConfig      `yaml:"perf" json:"perf"`
	Cron      *CronConfig      `yaml:"cron" json:"cron"`
	Metrics   *MetricsConfig   `yaml:"metrics" json:"metrics"`
}

type LoggerConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
	File   string `yaml:"file" json:"file"`
}

type CacheConfig struct {
	Enabled       bool           `yaml:"enabled" json:"enabled"`
	DefaultTTL    time.Duration  `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
	MaxEntries    int            `yaml:"max_entries" json:"max_entries" validate:"min=0"`
	MaxSizeBytes  int64          `yaml:"max_size_bytes" json:"max_size_bytes" validate:"min=0"`
	SweepInterval time.Duration  `yaml:"sweep_interval" json:"sweep_interval"`
	Preload       *PreloadConfig `yaml:"preload" json:"preload"`
	Mirror        *MirrorConfig  `yaml:"mirror" json:"mirror"`
}

type PreloadConfig struct {
	Enabled             bool    `yaml:"enabled" json:"enabled"`
	HitRateThreshold    float64 `yaml:"hit_rate_threshold" json:"hit_rate_threshold" validate:"min=0,max=1"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold" validate:"min=0,max=1"`
	HistorySize         int     `yaml:"history_size" json:"history_size" validate:"min=0"`
	MaxConcurrency      int     `yaml:"max_concurrency" json:"max_concurrency" validate:"min=1"`
	MaxCandidates       int     `yaml:"max_candidates" json:"max_candidates" validate:"min=1"`
}

// MirrorConfig enables the optional redis mirror of the in-process cache.
// The mirror is an availability optimization only; a lost or unreachable
// mirror degrades to ordinary cache misses, never errors.
type MirrorConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

type ClientConfig struct {
	BaseURL        string                `yaml:"base_url" json:"base_url" validate:"required,url"`
	APIKey         string                `yaml:"api_key" json:"api_key" validate:"required"`
	Timeout        time.Duration         `yaml:"timeout" json:"timeout"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	HalfOpenRequests int           `yaml:"half_open_requests" json:"half_open_requests"`
}

type FallbackConfig struct {
	Enabled     bool             `yaml:"enabled" json:"enabled"`
	MaxRetries  int              `yaml:"max_retries" json:"max_retries" validate:"min=0"`
	RetryDelay  time.Duration    `yaml:"retry_delay" json:"retry_delay"`
	Strategy    FallbackStrategy `yaml:"strategy" json:"strategy"`
	FallbackAds []Ad             `yaml:"fallback_ads" json:"fallback_ads"`
}

// RetryConfig governs the generic backoff curve. Immutable per invocation;
// callers may pass a per-call override.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts" json:"max_attempts" validate:"min=1"`
	BaseDelay         time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay" json:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	Jitter            bool          `yaml:"jitter" json:"jitter"`
}

type ReportingConfig struct {
	Enabled             bool          `yaml:"enabled" json:"enabled"`
	Endpoint            string        `yaml:"endpoint" json:"endpoint" validate:"required_if=Enabled true"`
	BatchSize           int           `yaml:"batch_size" json:"batch_size" validate:"min=1"`
	FlushInterval       time.Duration `yaml:"flush_interval" json:"flush_interval"`
	MaxQueue            int           `yaml:"max_queue" json:"max_queue" validate:"min=1"`
	AllowUserID         bool          `yaml:"allow_user_id" json:"allow_user_id"`
	AllowAdditionalData bool          `yaml:"allow_additional_data" json:"allow_additional_data"`
}

type PerfConfig struct {
	Enabled            bool          `yaml:"enabled" json:"enabled"`
	ReportInterval     time.Duration `yaml:"report_interval" json:"report_interval"`
	AdRequestTime      time.Duration `yaml:"ad_request_time" json:"ad_request_time"`
	RenderTime         time.Duration `yaml:"render_time" json:"render_time"`
	MinCacheHitRate    float64       `yaml:"min_cache_hit_rate" json:"min_cache_hit_rate" validate:"min=0,max=1"`
	MaxMemoryBytes     int64         `yaml:"max_memory_bytes" json:"max_memory_bytes"`
	MaxErrorRate       float64       `yaml:"max_error_rate" json:"max_error_rate" validate:"min=0,max=1"`
	AutoApply          bool          `yaml:"auto_apply" json:"auto_apply"`
	MaxSuggestionCount int           `yaml:"max_suggestion_count" json:"max_suggestion_count"`
}

type CronConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Timezone string `yaml:"timezone" json:"timezone"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace"`
}
