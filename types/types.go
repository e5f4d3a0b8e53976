package types

import "context"

type LifecycleManager interface {
	Start() error
	Stop() error
	IsRunning() bool
}

// Invoker is anything that can be called with the native request of a web
// framework as its first argument.
type Invoker interface {
	Invoke(ctx context.Context, args ...any) (any, error)
}
