package client

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-ads/types"
)

type CircuitBreakerState int32

const (
	StateBreakerClosed CircuitBreakerState = iota
	StateBreakerOpen
	StateBreakerHalfOpen
	StateBreakerDisabled
)

// CircuitBreaker guards the ad-server endpoint: it opens after a run of
// failures and probes with a limited number of half-open requests after
// the recovery timeout.
type CircuitBreaker struct {
	config    *types.CircuitBreakerConfig
	logger    types.Logger
	state     atomic.Value
	failures  atomic.Int32
	successes atomic.Int32
	lastFail  atomic.Int64
	mutex     sync.Mutex
}

func NewCircuitBreaker(config *types.CircuitBreakerConfig, logger types.Logger) *CircuitBreaker {
	cb := &CircuitBreaker{
		logger: logger,
	}

	if config == nil || !config.Enabled {
		cb.config = &types.CircuitBreakerConfig{Enabled: false}
		cb.state.Store(StateBreakerDisabled)
		return cb
	}

	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.HalfOpenRequests <= 0 {
		config.HalfOpenRequests = 3
	}

	cb.config = config
	cb.state.Store(StateBreakerClosed)

	return cb
}

func (cb *CircuitBreaker) CanExecute() bool {
	if cb == nil || !cb.config.Enabled {
		return true
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.getStateUnsafe() {
	case StateBreakerClosed, StateBreakerHalfOpen:
		return true
	case StateBreakerOpen:
		if time.Since(time.Unix(cb.lastFail.Load(), 0)) > cb.config.RecoveryTimeout {
			cb.transitionToHalfOpen()
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil || !cb.config.Enabled {
		return
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.getStateUnsafe() {
	case StateBreakerClosed:
		cb.failures.Store(0)
	case StateBreakerHalfOpen:
		if cb.successes.Add(1) >= int32(cb.config.HalfOpenRequests) {
			cb.transitionToClosed()
		}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil || !cb.config.Enabled {
		return
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.lastFail.Store(time.Now().Unix())

	switch cb.getStateUnsafe() {
	case StateBreakerClosed:
		if cb.failures.Add(1) >= int32(cb.config.FailureThreshold) {
			cb.transitionToOpen()
		}
	case StateBreakerHalfOpen:
		cb.transitionToOpen()
	}
}

func (cb *CircuitBreaker) State() CircuitBreakerState {
	return cb.state.Load().(CircuitBreakerState)
}

func (cb *CircuitBreaker) getStateUnsafe() CircuitBreakerState {
	return cb.state.Load().(CircuitBreakerState)
}

func (cb *CircuitBreaker) transitionToOpen() {
	cb.state.Store(StateBreakerOpen)
	cb.successes.Store(0)
	cb.logger.Warn("Circuit breaker opened",
		zap.Int32("failures", cb.failures.Load()))
}

func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.state.Store(StateBreakerHalfOpen)
	cb.successes.Store(0)
	cb.logger.Info("Circuit breaker half-open, probing")
}

func (cb *CircuitBreaker) transitionToClosed() {
	cb.state.Store(StateBreakerClosed)
	cb.failures.Store(0)
	cb.successes.Store(0)
	cb.logger.Info("Circuit breaker closed")
}
