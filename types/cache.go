package types

import (
	"context"
	"time"
)

// SessionCache is the narrow key/value surface the session stack needs.
// Get returns ErrCacheNotFound when the key does not exist and
// ErrCacheConnectionFailed (wrapped) when the backend cannot be reached.
type SessionCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

type SessionCacheCreator func(settings *Settings, logger Logger) (SessionCache, error)
