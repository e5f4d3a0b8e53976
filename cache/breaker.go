package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/metrics"
	"github.com/saiset-co/sai-pipeline/types"
)

type BreakerState int32

const (
	StateBreakerClosed BreakerState = iota
	StateBreakerOpen
	StateBreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateBreakerClosed:
		return "closed"
	case StateBreakerOpen:
		return "open"
	case StateBreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker opens after FailureThreshold consecutive failures and
// rejects calls until RecoveryTimeout has passed. It then lets calls through
// half-open and closes after HalfOpenRequests successes.
type CircuitBreaker struct {
	settings types.BreakerSettings
	logger   types.Logger
	metrics  *metrics.Registry
	name     string
	mutex    sync.Mutex
	state    BreakerState
	failures int
	success  int
	lastFail time.Time
	now      func() time.Time
}

func NewCircuitBreaker(settings types.BreakerSettings, name string, logger types.Logger, registry *metrics.Registry) *CircuitBreaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.RecoveryTimeout <= 0 {
		settings.RecoveryTimeout = 10 * time.Second
	}
	if settings.HalfOpenRequests <= 0 {
		settings.HalfOpenRequests = 1
	}

	cb := &CircuitBreaker{
		settings: settings,
		logger:   logger,
		metrics:  registry,
		name:     name,
		now:      time.Now,
	}
	registry.BreakerState(name, int(StateBreakerClosed))

	return cb
}

func (cb *CircuitBreaker) CanExecute() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateBreakerOpen:
		if cb.now().Sub(cb.lastFail) >= cb.settings.RecoveryTimeout {
			cb.transition(StateBreakerHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateBreakerClosed:
		cb.failures = 0
	case StateBreakerHalfOpen:
		cb.success++
		if cb.success >= cb.settings.HalfOpenRequests {
			cb.transition(StateBreakerClosed)
		}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.lastFail = cb.now()

	switch cb.state {
	case StateBreakerClosed:
		cb.failures++
		if cb.failures >= cb.settings.FailureThreshold {
			cb.transition(StateBreakerOpen)
		}
	case StateBreakerHalfOpen:
		cb.transition(StateBreakerOpen)
	}
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return cb.state
}

// transition must be called with the mutex held.
func (cb *CircuitBreaker) transition(to BreakerState) {
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.success = 0

	cb.metrics.BreakerState(cb.name, int(to))

	if to == StateBreakerOpen {
		cb.logger.Warn("Circuit breaker opened",
			zap.String("dependency", cb.name),
			zap.String("from", from.String()),
			zap.Duration("recovery_timeout", cb.settings.RecoveryTimeout))
		return
	}

	cb.logger.Info("Circuit breaker state changed",
		zap.String("dependency", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// breakerCache fails fast with ErrDependencyUnavailable while the breaker is
// open. Only connection failures count against it; a miss is a success.
type breakerCache struct {
	impl    types.SessionCache
	breaker *CircuitBreaker
}

func NewBreakerCache(impl types.SessionCache, breaker *CircuitBreaker) types.SessionCache {
	return &breakerCache{impl: impl, breaker: breaker}
}

func (bc *breakerCache) guard(op, key string) error {
	if bc.breaker.CanExecute() {
		return nil
	}
	return types.Errorf(types.ErrDependencyUnavailable, "%s %s: circuit breaker open", op, key)
}

func (bc *breakerCache) record(err error) {
	if err != nil && types.IsError(err, types.ErrDependencyUnavailable) {
		bc.breaker.RecordFailure()
		return
	}
	bc.breaker.RecordSuccess()
}

func (bc *breakerCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := bc.guard("get", key); err != nil {
		return nil, err
	}
	value, err := bc.impl.Get(ctx, key)
	bc.record(err)
	return value, err
}

func (bc *breakerCache) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := bc.guard("setex", key); err != nil {
		return err
	}
	err := bc.impl.SetEx(ctx, key, value, ttl)
	bc.record(err)
	return err
}

func (bc *breakerCache) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := bc.guard("expire", key); err != nil {
		return false, err
	}
	ok, err := bc.impl.Expire(ctx, key, ttl)
	bc.record(err)
	return ok, err
}

func (bc *breakerCache) Delete(ctx context.Context, key string) (bool, error) {
	if err := bc.guard("delete", key); err != nil {
		return false, err
	}
	ok, err := bc.impl.Delete(ctx, key)
	bc.record(err)
	return ok, err
}

// Ping bypasses the breaker so readiness checks see the real backend.
func (bc *breakerCache) Ping(ctx context.Context) error {
	err := bc.impl.Ping(ctx)
	bc.record(err)
	return err
}

func (bc *breakerCache) Close() error {
	return bc.impl.Close()
}
