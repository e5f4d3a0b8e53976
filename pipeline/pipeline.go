package pipeline

import (
	"context"
	"fmt"

	"github.com/saiset-co/sai-pipeline/container"
	"github.com/saiset-co/sai-pipeline/types"
)

const MaxMiddlewares = 64

// Next continues the chain. A middleware calls it at most once.
type Next func() (any, error)

type Middleware interface {
	Name() string
	Dependencies() []container.AnyKey
	Invoke(ctx *Context, next Next, deps container.Deps) (any, error)
}

// InjectorProvider is implemented by middleware that place a resolver into
// the bag; dependent middleware must follow one of them.
type InjectorProvider interface {
	ProvidesInjector() bool
}

type funcMiddleware struct {
	name string
	deps []container.AnyKey
	fn   func(ctx *Context, next Next, deps container.Deps) (any, error)
}

func (f *funcMiddleware) Name() string                     { return f.name }
func (f *funcMiddleware) Dependencies() []container.AnyKey { return f.deps }

func (f *funcMiddleware) Invoke(ctx *Context, next Next, deps container.Deps) (any, error) {
	return f.fn(ctx, next, deps)
}

func Func(name string, fn func(ctx *Context, next Next, deps container.Deps) (any, error), deps ...container.AnyKey) Middleware {
	return &funcMiddleware{name: name, deps: deps, fn: fn}
}

type Pipeline struct {
	middlewares []Middleware
	resolver    container.Resolver
}

type Option func(*Pipeline)

// WithContainer seeds every invocation with r as the injector.
func WithContainer(r container.Resolver) Option {
	return func(p *Pipeline) {
		p.resolver = r
	}
}

// New validates the ordering of middlewares and returns an immutable
// pipeline. The first middleware is the outermost.
func New(middlewares []Middleware, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{}
	for _, opt := range opts {
		opt(p)
	}

	if len(middlewares) > MaxMiddlewares {
		return nil, types.Errorf(types.ErrConfiguration, "maximum middleware count exceeded: %d", MaxMiddlewares)
	}

	names := make(map[string]struct{}, len(middlewares))
	injected := p.resolver != nil

	for i, mw := range middlewares {
		if mw == nil {
			return nil, types.Errorf(types.ErrMiddlewareInvalidType, "middleware at position %d is nil", i)
		}

		name := mw.Name()
		if _, exists := names[name]; exists {
			return nil, types.Errorf(types.ErrConfiguration, "duplicate middleware %q", name)
		}
		names[name] = struct{}{}

		if len(mw.Dependencies()) > 0 && !injected {
			return nil, fmt.Errorf("%w: %w: middleware %q declares dependencies but no injector precedes it",
				types.ErrConfiguration, types.ErrMiddlewareOrderInvalid, name)
		}

		if provider, ok := mw.(InjectorProvider); ok && provider.ProvidesInjector() {
			injected = true
		}
	}

	copied := make([]Middleware, len(middlewares))
	copy(copied, middlewares)
	p.middlewares = copied

	return p, nil
}

func MustNew(middlewares []Middleware, opts ...Option) *Pipeline {
	p, err := New(middlewares, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Append returns a new pipeline with extra middlewares placed innermost.
func (p *Pipeline) Append(middlewares ...Middleware) (*Pipeline, error) {
	combined := make([]Middleware, 0, len(p.middlewares)+len(middlewares))
	combined = append(combined, p.middlewares...)
	combined = append(combined, middlewares...)

	if p.resolver != nil {
		return New(combined, WithContainer(p.resolver))
	}
	return New(combined)
}

func (p *Pipeline) Names() []string {
	names := make([]string, len(p.middlewares))
	for i, mw := range p.middlewares {
		names[i] = mw.Name()
	}
	return names
}

func (p *Pipeline) Wrap(handler *Handler) (*Composed, error) {
	if handler == nil || handler.Fn == nil {
		return nil, types.ErrHandlerIsNil
	}

	return &Composed{
		middlewares: p.middlewares,
		resolver:    p.resolver,
		handler:     handler,
	}, nil
}

func (p *Pipeline) MustWrap(handler *Handler) *Composed {
	composed, err := p.Wrap(handler)
	if err != nil {
		panic(err)
	}
	return composed
}

// Composed is a handler wrapped by a pipeline. It holds no per-call state
// and is safe for concurrent use.
type Composed struct {
	middlewares []Middleware
	resolver    container.Resolver
	handler     *Handler
}

func (c *Composed) Handler() *Handler {
	return c.handler
}

// Middlewares lists the names of the wrapping chain, outermost first.
func (c *Composed) Middlewares() []string {
	names := make([]string, len(c.middlewares))
	for i, mw := range c.middlewares {
		names[i] = mw.Name()
	}
	return names
}

func (c *Composed) Invoke(ctx context.Context, args ...any) (any, error) {
	pctx := NewContext(ctx, c.handler, args...)
	if c.resolver != nil {
		InjectorKey.Set(pctx, c.resolver)
	}

	next := c.terminal(pctx)
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		next = link(c.middlewares[i], pctx, next)
	}

	return next()
}

func (c *Composed) terminal(pctx *Context) Next {
	return once(c.handler.Name, func() (any, error) {
		return c.handler.Fn(pctx)
	})
}

func link(mw Middleware, pctx *Context, next Next) Next {
	return once(mw.Name(), func() (any, error) {
		deps, err := resolveDependencies(mw, pctx)
		if err != nil {
			return nil, err
		}
		return mw.Invoke(pctx, next, deps)
	})
}

func resolveDependencies(mw Middleware, pctx *Context) (container.Deps, error) {
	keys := mw.Dependencies()
	if len(keys) == 0 {
		return nil, nil
	}

	resolver, ok := InjectorKey.Get(pctx)
	if !ok || resolver == nil {
		return nil, types.Errorf(types.ErrConfiguration, "no injector available for middleware %q", mw.Name())
	}

	deps, err := container.ResolveAll(resolver, keys)
	if err != nil {
		return nil, types.WrapError(err, "middleware "+mw.Name())
	}

	return deps, nil
}

func once(name string, fn Next) Next {
	called := false
	return func() (any, error) {
		if called {
			return nil, types.Errorf(types.ErrNextCalledTwice, "%s", name)
		}
		called = true
		return fn()
	}
}
