package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrCacheKeyEmpty        = errors.New("cache key empty")
	ErrCacheEntryTooLarge   = errors.New("cache entry too large")
	ErrCacheOperationFailed = errors.New("cache operation failed")
	ErrCacheIsDisabled      = errors.New("cache is disabled")
	ErrCacheMirrorFailed    = errors.New("cache mirror operation failed")
)

var (
	ErrClientNotRunning      = errors.New("client not running")
	ErrClientRequestFailed   = errors.New("client request failed")
	ErrClientResponseInvalid = errors.New("client response invalid")
	ErrClientTimeout         = errors.New("client timeout")
	ErrCircuitBreakerOpen    = errors.New("circuit breaker open")
)

var (
	ErrSchedulerStopped      = errors.New("scheduler stopped")
	ErrSchedulerRunning      = errors.New("scheduler running")
	ErrJobNameIsEmpty        = errors.New("job name is empty")
	ErrJobIsNil              = errors.New("job is nil")
	ErrJobExists             = errors.New("job exists")
	ErrJobFailed             = errors.New("job failed")
	ErrJobTimeout            = errors.New("job timeout")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
)

var (
	ErrReporterQueueFull   = errors.New("reporter queue full")
	ErrReporterFlushFailed = errors.New("reporter flush failed")
)

var (
	ErrNoAdAvailable     = errors.New("no ad available")
	ErrFallbackExhausted = errors.New("fallback exhausted")
	ErrPlacementInvalid  = errors.New("placement invalid")
)

var (
	ErrComponentAlreadyRunning = errors.New("component already running")
	ErrComponentNotRunning     = errors.New("component not running")
	ErrComponentStartFailed    = errors.New("component start failed")
	ErrMetricsIsDisabled       = errors.New("metrics manager is disabled")
	ErrLoggerTypeUnknown       = errors.New("logger type unknown")
	ErrLogFileIsEmpty          = errors.New("log file is empty")
	ErrLogFileWrongFormat      = errors.New("log file wrong format")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
