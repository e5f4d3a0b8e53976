package middleware

import (
	"sync"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/container"
	"github.com/saiset-co/sai-pipeline/pipeline"
	"github.com/saiset-co/sai-pipeline/types"
)

// ContainerSource yields the resolver placed into the bag by the container
// builder.
type ContainerSource func() (container.Resolver, error)

func StaticSource(r container.Resolver) ContainerSource {
	return func() (container.Resolver, error) {
		return r, nil
	}
}

// CachedSource builds the resolver on first use and keeps it. A failed build
// is retried on the next call.
func CachedSource(build ContainerSource) ContainerSource {
	var (
		mu    sync.Mutex
		built container.Resolver
	)

	return func() (container.Resolver, error) {
		mu.Lock()
		defer mu.Unlock()

		if built != nil {
			return built, nil
		}

		r, err := build()
		if err != nil {
			return nil, err
		}

		built = r
		return built, nil
	}
}

type ContainerBuilderMiddleware struct {
	source ContainerSource
	logger types.Logger
}

// NewContainerBuilder places the resolver into the bag unless an earlier link
// already did. It sits outside the error translator, so build failures are
// answered here with an opaque 500.
func NewContainerBuilder(source ContainerSource, logger types.Logger) *ContainerBuilderMiddleware {
	return &ContainerBuilderMiddleware{
		source: source,
		logger: logger,
	}
}

func (m *ContainerBuilderMiddleware) Name() string                     { return "container_builder" }
func (m *ContainerBuilderMiddleware) Dependencies() []container.AnyKey { return nil }
func (m *ContainerBuilderMiddleware) ProvidesInjector() bool           { return true }

func (m *ContainerBuilderMiddleware) Invoke(ctx *pipeline.Context, next pipeline.Next, _ container.Deps) (any, error) {
	if r, ok := pipeline.InjectorKey.Get(ctx); ok && r != nil {
		return next()
	}

	r, err := m.source()
	if err != nil || r == nil {
		if m.logger != nil {
			m.logger.ErrorWithErrStack("Failed to build dependency container", err,
				zap.String("handler", handlerName(ctx)))
		}
		return types.InternalError(), nil
	}

	pipeline.InjectorKey.Set(ctx, r)

	return next()
}

type InjectorMiddleware struct{}

// NewInjector resolves the dependencies declared by the handler and places
// each one in the bag under its key name.
func NewInjector() *InjectorMiddleware {
	return &InjectorMiddleware{}
}

func (m *InjectorMiddleware) Name() string                     { return "inject_dependency" }
func (m *InjectorMiddleware) Dependencies() []container.AnyKey { return nil }

func (m *InjectorMiddleware) Invoke(ctx *pipeline.Context, next pipeline.Next, _ container.Deps) (any, error) {
	handler := ctx.Handler()
	if handler == nil || len(handler.Dependencies) == 0 {
		return next()
	}

	r, ok := pipeline.InjectorKey.Get(ctx)
	if !ok || r == nil {
		return nil, types.Errorf(types.ErrConfiguration, "no injector available for handler %s", handler.Name)
	}

	deps, err := container.ResolveAll(r, handler.Dependencies)
	if err != nil {
		return nil, types.WrapError(err, "handler "+handler.Name)
	}

	for _, key := range handler.Dependencies {
		ctx.SetValue(key.Name(), deps[key.Name()])
	}

	return next()
}

func handlerName(ctx *pipeline.Context) string {
	if h := ctx.Handler(); h != nil {
		return h.Name
	}
	return ""
}
