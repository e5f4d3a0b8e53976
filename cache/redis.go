package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/types"
)

type RedisCache struct {
	logger    types.Logger
	client    *redis.Client
	keyPrefix string
	opTimeout time.Duration
}

// NewRedisCache connects to redis. An unreachable server is logged and not
// fatal; individual calls report it as a dependency failure.
func NewRedisCache(settings *types.Settings, logger types.Logger) (*RedisCache, error) {
	cfg := settings.Redis
	if cfg.Host == "" {
		return nil, types.Errorf(types.ErrConfiguration, "redis host is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	cache := NewRedisCacheFromClient(client, cfg.KeyPrefix, cfg.OpTimeout, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.Ping(ctx); err != nil {
		logger.Warn("Redis is not reachable yet", zap.String("addr", cfg.Addr()), zap.Error(err))
	} else {
		logger.Info("Redis cache connected", zap.String("addr", cfg.Addr()), zap.Int("db", cfg.DB))
	}

	return cache, nil
}

const defaultOpTimeout = 2 * time.Second

func NewRedisCacheFromClient(client *redis.Client, keyPrefix string, opTimeout time.Duration, logger types.Logger) *RedisCache {
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &RedisCache{
		logger:    logger,
		client:    client,
		keyPrefix: keyPrefix,
		opTimeout: opTimeout,
	}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	data, err := r.client.Get(ctx, r.buildFullKey(key)).Bytes()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, types.Errorf(types.ErrCacheNotFound, "key: %s", key)
		}
		return nil, unavailable("get", key, err)
	}

	return data, nil
}

func (r *RedisCache) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.client.SetEx(ctx, r.buildFullKey(key), value, ttl).Err(); err != nil {
		return unavailable("setex", key, err)
	}

	return nil
}

func (r *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	ok, err := r.client.Expire(ctx, r.buildFullKey(key), ttl).Result()
	if err != nil {
		return false, unavailable("expire", key, err)
	}

	return ok, nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	n, err := r.client.Del(ctx, r.buildFullKey(key)).Result()
	if err != nil {
		return false, unavailable("delete", key, err)
	}

	return n > 0, nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", "", err)
	}

	return nil
}

func (r *RedisCache) Close() error {
	if err := r.client.Close(); err != nil {
		return types.WrapError(err, "failed to close redis client")
	}
	return nil
}

func (r *RedisCache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, r.opTimeout)
}

func (r *RedisCache) buildFullKey(key string) string {
	if r.keyPrefix != "" {
		return fmt.Sprintf("%s:%s", r.keyPrefix, key)
	}
	return key
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: %w: %s %s: %v", types.ErrDependencyUnavailable, types.ErrCacheConnectionFailed, op, key, err)
}
