package container

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-pipeline/types"
)

type widget struct {
	id int
}

var (
	widgetKey = NewKey[*widget]("widget")
	nameKey   = NewKey[string]("name")
)

func TestSingletonResolvesSameInstance(t *testing.T) {
	c := New()

	var built int32
	Provide(c, widgetKey, Singleton, func(r Resolver) (*widget, error) {
		return &widget{id: int(atomic.AddInt32(&built, 1))}, nil
	})

	first, err := Resolve(c, widgetKey)
	require.NoError(t, err)
	second, err := Resolve(c, widgetKey)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&built))
}

func TestTransientResolvesFreshInstances(t *testing.T) {
	c := New()

	Provide(c, widgetKey, Transient, func(r Resolver) (*widget, error) {
		return &widget{}, nil
	})

	first := MustResolve(c, widgetKey)
	second := MustResolve(c, widgetKey)

	assert.NotSame(t, first, second)
}

func TestSingletonConstructedOnceUnderConcurrency(t *testing.T) {
	c := New()

	var built int32
	Provide(c, widgetKey, Singleton, func(r Resolver) (*widget, error) {
		atomic.AddInt32(&built, 1)
		return &widget{}, nil
	})

	var wg sync.WaitGroup
	results := make([]*widget, 64)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = MustResolve(c, widgetKey)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&built))
	for _, w := range results {
		assert.Same(t, results[0], w)
	}
}

func TestSingletonFailureIsNotCached(t *testing.T) {
	c := New()

	calls := 0
	Provide(c, widgetKey, Singleton, func(r Resolver) (*widget, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("probe failed")
		}
		return &widget{id: calls}, nil
	})

	_, err := Resolve(c, widgetKey)
	require.Error(t, err)

	w, err := Resolve(c, widgetKey)
	require.NoError(t, err)
	assert.Equal(t, 2, w.id)
}

func TestUnregisteredDependency(t *testing.T) {
	c := New()

	_, err := Resolve(c, widgetKey)

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConfiguration)
	assert.ErrorIs(t, err, types.ErrDependencyNotRegistered)
	assert.Contains(t, err.Error(), "widget")
}

func TestTypeMismatch(t *testing.T) {
	c := New()
	ProvideValue(c, NewKey[int]("widget"), 42)

	_, err := Resolve(c, widgetKey)

	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestFactoryResolvesOtherDependencies(t *testing.T) {
	c := New()
	ProvideValue(c, nameKey, "gear")
	Provide(c, widgetKey, Singleton, func(r Resolver) (*widget, error) {
		name, err := Resolve(r, nameKey)
		if err != nil {
			return nil, err
		}
		return &widget{id: len(name)}, nil
	})

	w, err := Resolve(c, widgetKey)

	require.NoError(t, err)
	assert.Equal(t, 4, w.id)
}

func TestCircularDependency(t *testing.T) {
	c := New()
	a := NewKey[string]("a")
	b := NewKey[string]("b")

	Provide(c, a, Singleton, func(r Resolver) (string, error) {
		return Resolve(r, b)
	})
	Provide(c, b, Singleton, func(r Resolver) (string, error) {
		return Resolve(r, a)
	})

	_, err := Resolve(c, a)

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCircularDependency)
	assert.Contains(t, err.Error(), "a -> b -> a")
}

func TestConcurrentCircularResolutionDoesNotDeadlock(t *testing.T) {
	c := New()
	a := NewKey[string]("a")
	b := NewKey[string]("b")

	// The pause lets both first resolutions enter their factories together.
	Provide(c, a, Singleton, func(r Resolver) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return Resolve(r, b)
	})
	Provide(c, b, Singleton, func(r Resolver) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return Resolve(r, a)
	})

	errs := make(chan error, 2)
	for _, key := range []Key[string]{a, b} {
		go func(key Key[string]) {
			_, err := Resolve(c, key)
			errs <- err
		}(key)
	}

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, types.ErrCircularDependency)
		case <-time.After(5 * time.Second):
			t.Fatal("concurrent resolution of a cycle deadlocked")
		}
	}
}

func TestProvideReplacesRegistration(t *testing.T) {
	c := New()
	ProvideValue(c, nameKey, "real")
	ProvideValue(c, nameKey, "double")

	assert.Equal(t, "double", MustResolve(c, nameKey))
	assert.Equal(t, []string{"name"}, c.Names())
}

type closer struct {
	closed *[]string
	name   string
}

func (c *closer) Close() error {
	*c.closed = append(*c.closed, c.name)
	return nil
}

func TestCloseReleasesBuiltSingletonsNewestFirst(t *testing.T) {
	c := New()
	var closed []string

	first := NewKey[*closer]("first")
	second := NewKey[*closer]("second")
	unused := NewKey[*closer]("unused")

	Provide(c, first, Singleton, func(r Resolver) (*closer, error) {
		return &closer{closed: &closed, name: "first"}, nil
	})
	Provide(c, second, Singleton, func(r Resolver) (*closer, error) {
		return &closer{closed: &closed, name: "second"}, nil
	})
	Provide(c, unused, Singleton, func(r Resolver) (*closer, error) {
		return &closer{closed: &closed, name: "unused"}, nil
	})

	MustResolve(c, first)
	MustResolve(c, second)

	require.NoError(t, c.Close())
	assert.Equal(t, []string{"second", "first"}, closed)
}

func TestResolveAll(t *testing.T) {
	c := New()
	ProvideValue(c, nameKey, "gear")
	ProvideValue(c, widgetKey, &widget{id: 7})

	deps, err := ResolveAll(c, Keys(nameKey, widgetKey))

	require.NoError(t, err)
	assert.Equal(t, "gear", Dep(deps, nameKey))
	assert.Equal(t, 7, Dep(deps, widgetKey).id)

	_, err = ResolveAll(c, Keys(NewKey[int]("missing")))
	assert.ErrorIs(t, err, types.ErrDependencyNotRegistered)
}
