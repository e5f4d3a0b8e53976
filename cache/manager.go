package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/saiset-co/sai-pipeline/metrics"
	"github.com/saiset-co/sai-pipeline/types"
)

var (
	creatorsMu          sync.RWMutex
	customCacheCreators = make(map[string]types.SessionCacheCreator)
)

func RegisterCache(cacheType string, creator types.SessionCacheCreator) {
	creatorsMu.Lock()
	customCacheCreators[cacheType] = creator
	creatorsMu.Unlock()
}

// New builds the session cache selected by settings.Redis.Type.
func New(settings *types.Settings, logger types.Logger, registry *metrics.Registry) (types.SessionCache, error) {
	var impl types.SessionCache
	var err error

	switch settings.Redis.Type {
	case "", "redis":
		impl, err = NewRedisCache(settings, logger)
	case "memory":
		memory := NewMemoryCache(logger)
		memory.StartJanitor(time.Minute)
		impl = memory
	default:
		creatorsMu.RLock()
		creator, exists := customCacheCreators[settings.Redis.Type]
		creatorsMu.RUnlock()

		if !exists {
			return nil, fmt.Errorf("%w: %w: type: %s", types.ErrConfiguration, types.ErrCacheTypeUnknown, settings.Redis.Type)
		}
		impl, err = creator(settings, logger)
	}

	if err != nil {
		return nil, err
	}

	if settings.Redis.Breaker.Enabled {
		breaker := NewCircuitBreaker(settings.Redis.Breaker, "session_cache", logger, registry)
		impl = NewBreakerCache(impl, breaker)
	}

	return NewInstrumented(impl, registry), nil
}

type instrumentedCache struct {
	impl    types.SessionCache
	metrics *metrics.Registry
}

func NewInstrumented(impl types.SessionCache, registry *metrics.Registry) types.SessionCache {
	if registry == nil {
		return impl
	}
	return &instrumentedCache{impl: impl, metrics: registry}
}

func (ic *instrumentedCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	value, err := ic.impl.Get(ctx, key)

	result := "hit"
	switch {
	case types.IsError(err, types.ErrCacheNotFound):
		result = "miss"
	case err != nil:
		result = "error"
	}

	ic.metrics.ObserveCacheOp("get", result, time.Since(start))
	return value, err
}

func (ic *instrumentedCache) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := ic.impl.SetEx(ctx, key, value, ttl)
	ic.metrics.ObserveCacheOp("setex", outcome(err), time.Since(start))
	return err
}

func (ic *instrumentedCache) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := ic.impl.Expire(ctx, key, ttl)
	ic.metrics.ObserveCacheOp("expire", outcome(err), time.Since(start))
	return ok, err
}

func (ic *instrumentedCache) Delete(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := ic.impl.Delete(ctx, key)
	ic.metrics.ObserveCacheOp("delete", outcome(err), time.Since(start))
	return ok, err
}

func (ic *instrumentedCache) Ping(ctx context.Context) error {
	return ic.impl.Ping(ctx)
}

func (ic *instrumentedCache) Close() error {
	return ic.impl.Close()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
