package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-pipeline/logger"
	"github.com/saiset-co/sai-pipeline/metrics"
	"github.com/saiset-co/sai-pipeline/types"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	cache := NewRedisCacheFromClient(client, "app", time.Second, logger.NewNop())
	t.Cleanup(func() { _ = cache.Close() })

	return server, cache
}

func TestRedisCacheRoundTrip(t *testing.T) {
	server, cache := newRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.SetEx(ctx, "user_context:s1", []byte(`{"user_id":"u1"}`), time.Hour))

	assert.True(t, server.Exists("app:user_context:s1"))
	assert.Equal(t, time.Hour, server.TTL("app:user_context:s1"))

	value, err := cache.Get(ctx, "user_context:s1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":"u1"}`, string(value))
}

func TestRedisCacheMissingKey(t *testing.T) {
	_, cache := newRedis(t)

	_, err := cache.Get(context.Background(), "user_context:none")

	assert.ErrorIs(t, err, types.ErrCacheNotFound)
	assert.NotErrorIs(t, err, types.ErrDependencyUnavailable)
}

func TestRedisCacheExpireAndDelete(t *testing.T) {
	server, cache := newRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.SetEx(ctx, "k", []byte("v"), time.Minute))

	ok, err := cache.Expire(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, server.TTL("app:k"))

	ok, err = cache.Expire(ctx, "missing", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = cache.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.Delete(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCacheUnavailable(t *testing.T) {
	server, cache := newRedis(t)
	server.Close()

	_, err := cache.Get(context.Background(), "k")

	assert.ErrorIs(t, err, types.ErrDependencyUnavailable)
	assert.ErrorIs(t, err, types.ErrCacheConnectionFailed)
	assert.ErrorIs(t, cache.Ping(context.Background()), types.ErrDependencyUnavailable)
}

func TestRedisCacheEmptyKey(t *testing.T) {
	_, cache := newRedis(t)

	_, err := cache.Get(context.Background(), "")
	assert.ErrorIs(t, err, types.ErrCacheKeyEmpty)
}

func TestMemoryCacheExpiry(t *testing.T) {
	cache := NewMemoryCache(logger.NewNop())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.SetEx(ctx, "k", []byte("v"), time.Minute))

	value, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(value))

	now = now.Add(2 * time.Minute)

	_, err = cache.Get(ctx, "k")
	assert.ErrorIs(t, err, types.ErrCacheNotFound)

	ok, err := cache.Expire(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestMemoryCacheExpireExtends(t *testing.T) {
	cache := NewMemoryCache(logger.NewNop())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.SetEx(ctx, "k", []byte("v"), time.Minute))

	ok, err := cache.Expire(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(30 * time.Minute)
	_, err = cache.Get(ctx, "k")
	assert.NoError(t, err)

	now = now.Add(time.Hour)
	assert.Equal(t, 1, cache.cleanup())
}

func TestNewSelectsImplementation(t *testing.T) {
	settings := &types.Settings{Redis: types.RedisSettings{Type: "memory"}}

	c, err := New(settings, logger.NewNop(), metrics.New(types.MetricsSettings{Namespace: "cache_test"}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, ok := c.(*instrumentedCache)
	assert.True(t, ok)

	settings.Redis.Type = "etcd"
	_, err = New(settings, logger.NewNop(), nil)
	assert.ErrorIs(t, err, types.ErrCacheTypeUnknown)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestRegisterCache(t *testing.T) {
	RegisterCache("custom", func(settings *types.Settings, logger types.Logger) (types.SessionCache, error) {
		return NewMemoryCache(logger), nil
	})

	c, err := New(&types.Settings{Redis: types.RedisSettings{Type: "custom"}}, logger.NewNop(), nil)

	require.NoError(t, err)
	_, ok := c.(*MemoryCache)
	assert.True(t, ok)
}

func TestRedisCacheZeroTimeoutUsesDefault(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	c := NewRedisCacheFromClient(client, "app", 0, logger.NewNop())
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, defaultOpTimeout, c.opTimeout)

	opCtx, cancel := c.withTimeout(context.Background())
	defer cancel()

	_, ok := opCtx.Deadline()
	assert.True(t, ok)
}
