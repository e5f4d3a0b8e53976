package container

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/saiset-co/sai-pipeline/types"
)

type Scope int

const (
	Singleton Scope = iota
	Transient
)

func (s Scope) String() string {
	if s == Transient {
		return "transient"
	}
	return "singleton"
}

// AnyKey is the untyped form of a Key, used where middleware declare the
// capabilities they need.
type AnyKey interface {
	Name() string
}

// Key names a capability together with the static type it resolves to.
type Key[T any] struct {
	name string
}

func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

func (k Key[T]) Name() string {
	return k.name
}

type Resolver interface {
	Resolve(name string) (any, error)
	Has(name string) bool
}

type Factory[T any] func(r Resolver) (T, error)

type provider struct {
	name    string
	scope   Scope
	factory func(r Resolver) (any, error)

	built atomic.Bool
	value any
}

// Container resolves keys lazily. Singleton construction is serialized by
// buildMu, held by the outermost build only, so nested resolutions see one
// resolution path and cycles always surface as ErrCircularDependency.
type Container struct {
	mu        sync.RWMutex
	buildMu   sync.Mutex
	providers map[string]*provider
	built     []string
}

func New() *Container {
	return &Container{
		providers: make(map[string]*provider),
	}
}

// Provide registers a factory for key, replacing any earlier registration.
func Provide[T any](c *Container, key Key[T], scope Scope, factory Factory[T]) {
	c.register(&provider{
		name:  key.name,
		scope: scope,
		factory: func(r Resolver) (any, error) {
			return factory(r)
		},
	})
}

// ProvideValue registers an already constructed singleton.
func ProvideValue[T any](c *Container, key Key[T], value T) {
	p := &provider{name: key.name, scope: Singleton, value: value}
	p.built.Store(true)
	c.register(p)
}

func Resolve[T any](r Resolver, key Key[T]) (T, error) {
	var zero T

	value, err := r.Resolve(key.name)
	if err != nil {
		return zero, err
	}

	typed, ok := value.(T)
	if !ok {
		return zero, types.Errorf(types.ErrConfiguration, "dependency %q resolved to %T, expected %T", key.name, value, zero)
	}

	return typed, nil
}

func MustResolve[T any](r Resolver, key Key[T]) T {
	value, err := Resolve(r, key)
	if err != nil {
		panic(err)
	}
	return value
}

func (c *Container) register(p *provider) {
	c.mu.Lock()
	c.providers[p.name] = p
	c.mu.Unlock()
}

func (c *Container) Has(name string) bool {
	c.mu.RLock()
	_, ok := c.providers[name]
	c.mu.RUnlock()
	return ok
}

func (c *Container) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.providers))
	for name := range c.providers {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func (c *Container) Resolve(name string) (any, error) {
	return c.resolve(name, nil, false)
}

// resolve walks one resolution path; building reports whether this path
// already holds buildMu.
func (c *Container) resolve(name string, path []string, building bool) (any, error) {
	for _, seen := range path {
		if seen == name {
			return nil, fmt.Errorf("%w: %w: %s -> %s",
				types.ErrConfiguration, types.ErrCircularDependency, strings.Join(path, " -> "), name)
		}
	}

	c.mu.RLock()
	p, ok := c.providers[name]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", types.ErrConfiguration, types.ErrDependencyNotRegistered, name)
	}

	next := make([]string, len(path), len(path)+1)
	copy(next, path)
	next = append(next, name)

	if p.scope == Transient {
		value, err := p.factory(&pathResolver{container: c, path: next, building: building})
		if err != nil {
			return nil, types.WrapError(err, fmt.Sprintf("failed to construct %s", name))
		}
		return value, nil
	}

	if p.built.Load() {
		return p.value, nil
	}

	if !building {
		c.buildMu.Lock()
		defer c.buildMu.Unlock()

		if p.built.Load() {
			return p.value, nil
		}
	}

	value, err := p.factory(&pathResolver{container: c, path: next, building: true})
	if err != nil {
		return nil, types.WrapError(err, fmt.Sprintf("failed to construct %s", name))
	}

	p.value = value
	p.built.Store(true)

	c.mu.Lock()
	c.built = append(c.built, name)
	c.mu.Unlock()

	return value, nil
}

// Close releases constructed singletons that hold resources, newest first.
func (c *Container) Close() error {
	c.mu.Lock()
	built := c.built
	c.built = nil
	providers := c.providers
	c.mu.Unlock()

	var errs []error
	for i := len(built) - 1; i >= 0; i-- {
		p := providers[built[i]]
		if p == nil {
			continue
		}
		if closer, ok := p.value.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, types.WrapError(err, fmt.Sprintf("failed to close %s", p.name)))
			}
		}
	}

	return errors.Join(errs...)
}

type pathResolver struct {
	container *Container
	path      []string
	building  bool
}

func (r *pathResolver) Resolve(name string) (any, error) {
	return r.container.resolve(name, r.path, r.building)
}

func (r *pathResolver) Has(name string) bool {
	return r.container.Has(name)
}
