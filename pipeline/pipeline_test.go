package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-pipeline/container"
	"github.com/saiset-co/sai-pipeline/types"
)

func recorder(name string, trace *[]string) Middleware {
	return Func(name, func(ctx *Context, next Next, deps container.Deps) (any, error) {
		*trace = append(*trace, "before:"+name)
		result, err := next()
		*trace = append(*trace, "after:"+name)
		return result, err
	})
}

func echoHandler(trace *[]string) *Handler {
	return Untyped("echo", func(ctx *Context) (any, error) {
		*trace = append(*trace, "handler")
		return ctx.Arg(0), nil
	})
}

func TestFirstMiddlewareIsOutermost(t *testing.T) {
	var trace []string

	p, err := New([]Middleware{recorder("a", &trace), recorder("b", &trace), recorder("c", &trace)})
	require.NoError(t, err)

	result, err := p.MustWrap(echoHandler(&trace)).Invoke(context.Background(), "payload")

	require.NoError(t, err)
	assert.Equal(t, "payload", result)
	assert.Equal(t, []string{
		"before:a", "before:b", "before:c", "handler", "after:c", "after:b", "after:a",
	}, trace)
}

func TestShortCircuitStopsInnerLinks(t *testing.T) {
	var trace []string
	inner := 0

	stop := Func("stop", func(ctx *Context, next Next, deps container.Deps) (any, error) {
		return "stopped", nil
	})
	counter := Func("counter", func(ctx *Context, next Next, deps container.Deps) (any, error) {
		inner++
		return next()
	})
	handler := Untyped("h", func(ctx *Context) (any, error) {
		inner++
		return nil, nil
	})

	p := MustNew([]Middleware{recorder("outer", &trace), stop, counter})
	result, err := p.MustWrap(handler).Invoke(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "stopped", result)
	assert.Equal(t, 0, inner)
	assert.Equal(t, []string{"before:outer", "after:outer"}, trace)
}

func TestCompositionIsRepeatable(t *testing.T) {
	var first, second []string

	run := func(trace *[]string) {
		p := MustNew([]Middleware{recorder("a", trace), recorder("b", trace)})
		_, err := p.MustWrap(echoHandler(trace)).Invoke(context.Background(), 1)
		require.NoError(t, err)
	}

	run(&first)
	run(&second)

	assert.Equal(t, first, second)
}

func TestBagIsThreadedBetweenLinks(t *testing.T) {
	sessionKey := NewKey[string]("session_id")

	writer := Func("writer", func(ctx *Context, next Next, deps container.Deps) (any, error) {
		sessionKey.Set(ctx, "s1")
		ctx.SetArg(0, "retyped")
		return next()
	})
	handler := Untyped("reader", func(ctx *Context) (any, error) {
		id, ok := sessionKey.Get(ctx)
		require.True(t, ok)
		return fmt.Sprintf("%s/%v", id, ctx.Arg(0)), nil
	})

	result, err := MustNew([]Middleware{writer}).MustWrap(handler).Invoke(context.Background(), "raw")

	require.NoError(t, err)
	assert.Equal(t, "s1/retyped", result)
}

func TestConcurrentInvocationsUseSeparateContexts(t *testing.T) {
	idKey := NewKey[int]("id")

	tagger := Func("tagger", func(ctx *Context, next Next, deps container.Deps) (any, error) {
		idKey.Set(ctx, ctx.Arg(0).(int))
		return next()
	})
	handler := Untyped("h", func(ctx *Context) (any, error) {
		id, _ := idKey.Get(ctx)
		return id, nil
	})

	composed := MustNew([]Middleware{tagger}).MustWrap(handler)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := composed.Invoke(context.Background(), i)
			assert.NoError(t, err)
			assert.Equal(t, i, result)
		}(i)
	}
	wg.Wait()
}

var greetingKey = container.NewKey[string]("greeting")

func injectorFrom(c *container.Container) Middleware {
	return &seedInjector{c: c}
}

type seedInjector struct {
	c *container.Container
}

func (s *seedInjector) Name() string                     { return "seed" }
func (s *seedInjector) Dependencies() []container.AnyKey { return nil }
func (s *seedInjector) ProvidesInjector() bool           { return true }

func (s *seedInjector) Invoke(ctx *Context, next Next, deps container.Deps) (any, error) {
	if _, ok := InjectorKey.Get(ctx); !ok {
		InjectorKey.Set(ctx, s.c)
	}
	return next()
}

func greeter() Middleware {
	return Func("greeter", func(ctx *Context, next Next, deps container.Deps) (any, error) {
		return container.Dep(deps, greetingKey), nil
	}, greetingKey)
}

func TestDependenciesResolvedPerInvocation(t *testing.T) {
	c := container.New()
	container.ProvideValue(c, greetingKey, "hello")

	composed := MustNew([]Middleware{injectorFrom(c), greeter()}).MustWrap(Untyped("h", func(ctx *Context) (any, error) {
		return nil, nil
	}))

	result, err := composed.Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", result)

	container.ProvideValue(c, greetingKey, "bonjour")

	result, err = composed.Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bonjour", result)
}

func TestWithContainerSeedsInjector(t *testing.T) {
	c := container.New()
	container.ProvideValue(c, greetingKey, "double")

	p, err := New([]Middleware{greeter()}, WithContainer(c))
	require.NoError(t, err)

	result, err := p.MustWrap(Untyped("h", func(ctx *Context) (any, error) { return nil, nil })).Invoke(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "double", result)
}

func TestDependentMiddlewareBeforeInjectorIsRejected(t *testing.T) {
	_, err := New([]Middleware{greeter(), injectorFrom(container.New())})

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConfiguration)
	assert.ErrorIs(t, err, types.ErrMiddlewareOrderInvalid)
}

func TestUnregisteredDependencyFailsLoudly(t *testing.T) {
	composed := MustNew([]Middleware{injectorFrom(container.New()), greeter()}).
		MustWrap(Untyped("h", func(ctx *Context) (any, error) { return nil, nil }))

	_, err := composed.Invoke(context.Background())

	assert.ErrorIs(t, err, types.ErrDependencyNotRegistered)
}

func TestNewRejectsInvalidChains(t *testing.T) {
	_, err := New([]Middleware{nil})
	assert.ErrorIs(t, err, types.ErrMiddlewareInvalidType)

	noop := Func("noop", func(ctx *Context, next Next, deps container.Deps) (any, error) { return next() })
	_, err = New([]Middleware{noop, noop})
	assert.ErrorIs(t, err, types.ErrConfiguration)

	_, err = MustNew(nil).Wrap(nil)
	assert.ErrorIs(t, err, types.ErrHandlerIsNil)
}

func TestNextCalledTwice(t *testing.T) {
	twice := Func("twice", func(ctx *Context, next Next, deps container.Deps) (any, error) {
		_, _ = next()
		return next()
	})

	calls := 0
	composed := MustNew([]Middleware{twice}).MustWrap(Untyped("h", func(ctx *Context) (any, error) {
		calls++
		return nil, nil
	}))

	_, err := composed.Invoke(context.Background())

	assert.ErrorIs(t, err, types.ErrNextCalledTwice)
	assert.Equal(t, 1, calls)
}

func TestAppendKeepsOriginalUntouched(t *testing.T) {
	var trace []string
	base := MustNew([]Middleware{recorder("a", &trace)})

	extended, err := base.Append(recorder("b", &trace))
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, base.Names())
	assert.Equal(t, []string{"a", "b"}, extended.Names())
}

type greeting struct {
	Name string
}

func TestTypedHandlerRejectsWrongArgument(t *testing.T) {
	handler := Typed("greet", func(ctx *Context, req *greeting) (any, error) {
		return "Hello " + req.Name, nil
	})

	result, err := MustNew(nil).MustWrap(handler).Invoke(context.Background(), &greeting{Name: "World"})
	require.NoError(t, err)
	assert.Equal(t, "Hello World", result)

	_, err = MustNew(nil).MustWrap(handler).Invoke(context.Background(), "raw")
	assert.True(t, errors.Is(err, types.ErrBinding))
}

func TestContextBagOrdering(t *testing.T) {
	ctx := NewContext(context.Background(), nil)

	ctx.SetValue("b", 1)
	ctx.SetValue("a", 2)
	ctx.SetValue("b", 3)
	ctx.SetValue("c", 4)
	ctx.Delete("a")

	assert.Equal(t, []string{"b", "c"}, ctx.Keys())
	v, ok := ctx.Value("b")
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = NewKey[string]("c").Get(ctx)
	assert.False(t, ok)
}
