package middleware

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/saiset-co/sai-pipeline/container"
	"github.com/saiset-co/sai-pipeline/di"
	"github.com/saiset-co/sai-pipeline/pipeline"
	"github.com/saiset-co/sai-pipeline/request"
	"github.com/saiset-co/sai-pipeline/types"
)

var mapBinderType = reflect.TypeFor[request.MapBinder]()

type RequestBinderMiddleware struct{}

// NewRequestBinder replaces argument 0 with the handler's request type built
// from the merged request data. Untyped handlers and arguments that already
// have the right type pass through untouched.
func NewRequestBinder() *RequestBinderMiddleware {
	return &RequestBinderMiddleware{}
}

func (m *RequestBinderMiddleware) Name() string                     { return "typed_request" }
func (m *RequestBinderMiddleware) Dependencies() []container.AnyKey { return nil }

func (m *RequestBinderMiddleware) Invoke(ctx *pipeline.Context, next pipeline.Next, _ container.Deps) (any, error) {
	handler := ctx.Handler()
	if handler == nil || handler.RequestType == nil {
		return next()
	}

	arg := ctx.Arg(0)
	if arg != nil && reflect.TypeOf(arg).AssignableTo(handler.RequestType) {
		return next()
	}

	raw, ok := request.FromArg(arg)
	if !ok {
		return nil, types.Errorf(types.ErrBinding, "unsupported request kind %T for %s", arg, handler.Name)
	}

	if _, exists := pipeline.RawRequestKey.Get(ctx); !exists {
		pipeline.RawRequestKey.Set(ctx, raw)
	}

	bound, err := bind(handler.RequestType, request.Merge(raw))
	if err != nil {
		return nil, err
	}

	ctx.SetArg(0, bound)

	return next()
}

// bind builds a value of type t through its BindMap method. Pointer types get
// a fresh pointee; value types are bound through a temporary pointer.
func bind(t reflect.Type, data map[string]any) (any, error) {
	var target reflect.Value

	switch {
	case t.Kind() == reflect.Pointer && t.Implements(mapBinderType):
		target = reflect.New(t.Elem())
	case reflect.PointerTo(t).Implements(mapBinderType):
		target = reflect.New(t)
	default:
		return nil, types.Errorf(types.ErrBinding, "type %s does not implement BindMap", t)
	}

	if err := target.Interface().(request.MapBinder).BindMap(data); err != nil {
		if types.IsError(err, types.ErrBinding) {
			return nil, err
		}
		return nil, types.Errorf(types.ErrBinding, "%s: %v", t, err)
	}

	if t.Kind() == reflect.Pointer {
		return target.Interface(), nil
	}
	return target.Elem().Interface(), nil
}

type ValidatorMiddleware struct{}

// NewValidator runs struct validation on a bound request argument.
func NewValidator() *ValidatorMiddleware {
	return &ValidatorMiddleware{}
}

func (m *ValidatorMiddleware) Name() string { return "request_validation" }

func (m *ValidatorMiddleware) Dependencies() []container.AnyKey {
	return container.Keys(di.ValidatorKey)
}

func (m *ValidatorMiddleware) Invoke(ctx *pipeline.Context, next pipeline.Next, deps container.Deps) (any, error) {
	handler := ctx.Handler()
	if handler == nil || handler.RequestType == nil {
		return next()
	}

	arg := ctx.Arg(0)
	if !isStruct(arg) {
		return next()
	}

	validate := container.Dep(deps, di.ValidatorKey)
	if err := validate.Struct(arg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, types.Errorf(types.ErrValidation, "%s", describe(verrs))
		}
		return nil, types.Errorf(types.ErrValidation, "%v", err)
	}

	return next()
}

func isStruct(v any) bool {
	t := reflect.TypeOf(v)
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Pointer {
		if reflect.ValueOf(v).IsNil() {
			return false
		}
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}

func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fe.Field()+" failed "+fe.Tag()+"="+fe.Param())
			continue
		}
		parts = append(parts, fe.Field()+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}
