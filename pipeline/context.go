package pipeline

import (
	"context"

	"github.com/saiset-co/sai-pipeline/container"
)

// Context is the per-invocation record threaded through a pipeline. It is
// created once per call and never shared between concurrent calls.
type Context struct {
	ctx     context.Context
	Args    []any
	handler *Handler
	keys    []string
	values  map[string]any
}

func NewContext(ctx context.Context, handler *Handler, args ...any) *Context {
	if ctx == nil {
		ctx = context.Background()
	}

	copied := make([]any, len(args))
	copy(copied, args)

	return &Context{
		ctx:     ctx,
		Args:    copied,
		handler: handler,
		values:  make(map[string]any),
	}
}

func (c *Context) Context() context.Context {
	return c.ctx
}

// WithContext replaces the context used for deadlines by inner links.
func (c *Context) WithContext(ctx context.Context) {
	if ctx != nil {
		c.ctx = ctx
	}
}

func (c *Context) Handler() *Handler {
	return c.handler
}

func (c *Context) Arg(i int) any {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

func (c *Context) SetArg(i int, value any) {
	for len(c.Args) <= i {
		c.Args = append(c.Args, nil)
	}
	c.Args[i] = value
}

// Keys returns bag keys in insertion order.
func (c *Context) Keys() []string {
	keys := make([]string, len(c.keys))
	copy(keys, c.keys)
	return keys
}

func (c *Context) Value(name string) (any, bool) {
	v, ok := c.values[name]
	return v, ok
}

func (c *Context) SetValue(name string, value any) {
	if _, exists := c.values[name]; !exists {
		c.keys = append(c.keys, name)
	}
	c.values[name] = value
}

func (c *Context) Delete(name string) {
	if _, exists := c.values[name]; !exists {
		return
	}
	delete(c.values, name)
	for i, k := range c.keys {
		if k == name {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
}

// Key is a typed name in the context bag.
type Key[T any] struct {
	name string
}

func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

func (k Key[T]) Name() string {
	return k.name
}

// Get returns false when the key is absent or holds a value of another type.
func (k Key[T]) Get(c *Context) (T, bool) {
	v, ok := c.values[k.name].(T)
	return v, ok
}

func (k Key[T]) Set(c *Context, value T) {
	c.SetValue(k.name, value)
}

func (k Key[T]) Delete(c *Context) {
	c.Delete(k.name)
}

// Injected reads a handler dependency placed in the bag by the injector.
func Injected[T any](c *Context, key container.Key[T]) (T, bool) {
	v, ok := c.values[key.Name()].(T)
	return v, ok
}
