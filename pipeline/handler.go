package pipeline

import (
	"reflect"

	"github.com/saiset-co/sai-pipeline/container"
	"github.com/saiset-co/sai-pipeline/types"
)

type HandlerFunc func(ctx *Context) (any, error)

// Handler describes the target of a pipeline. RequestType is nil for
// handlers that take the raw request untouched.
type Handler struct {
	Name         string
	RequestType  reflect.Type
	Dependencies []container.AnyKey
	Fn           HandlerFunc
}

// Typed builds a handler whose first argument is bound to Req before the
// handler runs.
func Typed[Req any](name string, fn func(ctx *Context, req Req) (any, error), deps ...container.AnyKey) *Handler {
	return &Handler{
		Name:         name,
		RequestType:  reflect.TypeFor[Req](),
		Dependencies: deps,
		Fn: func(ctx *Context) (any, error) {
			req, ok := ctx.Arg(0).(Req)
			if !ok {
				return nil, types.Errorf(types.ErrBinding, "handler %s expects %s, got %T", name, reflect.TypeFor[Req](), ctx.Arg(0))
			}
			return fn(ctx, req)
		},
	}
}

func Untyped(name string, fn HandlerFunc, deps ...container.AnyKey) *Handler {
	return &Handler{
		Name:         name,
		Dependencies: deps,
		Fn:           fn,
	}
}
