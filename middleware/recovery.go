package middleware

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/container"
	"github.com/saiset-co/sai-pipeline/di"
	"github.com/saiset-co/sai-pipeline/pipeline"
	"github.com/saiset-co/sai-pipeline/types"
	"github.com/saiset-co/sai-pipeline/utils"
)

type ErrorTranslatorMiddleware struct {
	stackBufPool sync.Pool
}

// NewErrorTranslator turns failures of the inner chain into structured
// responses. Only links placed after it are covered.
func NewErrorTranslator() *ErrorTranslatorMiddleware {
	return &ErrorTranslatorMiddleware{
		stackBufPool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 4096)
				return &buf
			},
		},
	}
}

func (e *ErrorTranslatorMiddleware) Name() string { return "error_handling" }

func (e *ErrorTranslatorMiddleware) Dependencies() []container.AnyKey {
	return container.Keys(di.LoggerKey)
}

func (e *ErrorTranslatorMiddleware) Invoke(ctx *pipeline.Context, next pipeline.Next, deps container.Deps) (result any, err error) {
	logger := container.Dep(deps, di.LoggerKey)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Recovered from panic",
				zap.Any("panic", rec),
				zap.String("handler", handlerName(ctx)),
				zap.Strings("args", describeArgs(ctx)),
				zap.Any("context", sanitizedBag(ctx)),
				zap.String("stack", e.getStackTrace()),
			)
			result, err = types.InternalError(), nil
		}
	}()

	result, err = next()
	if err == nil {
		return result, nil
	}

	return e.translate(ctx, logger, err), nil
}

func (e *ErrorTranslatorMiddleware) translate(ctx *pipeline.Context, logger types.Logger, err error) *types.ErrorResponse {
	status, category := types.Classify(err)

	switch status {
	case http.StatusBadRequest:
		logger.Warn("Request rejected", zap.String("handler", handlerName(ctx)), zap.Error(err))
		if !types.IsError(err, types.ErrValidation) {
			// Decoder errors carry Go type paths and echo input.
			return types.NewErrorResponse(status, category, invalidRequestData)
		}
		return types.NewErrorResponse(status, category, detail(err, types.ErrValidation))
	case http.StatusForbidden:
		logger.Warn("Permission denied", zap.String("handler", handlerName(ctx)), zap.Error(err))
		return types.NewErrorResponse(status, category, detail(err, types.ErrAuthorization))
	case http.StatusUnauthorized, http.StatusServiceUnavailable:
		logger.Warn("Request failed", zap.String("handler", handlerName(ctx)), zap.Int("status", status), zap.Error(err))
		return types.NewErrorResponse(status, category, "")
	}

	logger.ErrorWithErrStack("Unhandled error", pkgerrors.WithStack(err),
		zap.String("handler", handlerName(ctx)),
		zap.Strings("args", describeArgs(ctx)),
		zap.Any("context", sanitizedBag(ctx)),
	)

	return types.InternalError()
}

const invalidRequestData = "Invalid request data"

// detail strips the taxonomy prefix from a client-safe error message.
func detail(err error, bases ...error) string {
	msg := err.Error()
	for _, base := range bases {
		marker := base.Error() + ": "
		if i := strings.LastIndex(msg, marker); i >= 0 {
			return msg[i+len(marker):]
		}
	}
	return msg
}

func describeArgs(ctx *pipeline.Context) []string {
	out := make([]string, len(ctx.Args))
	for i, arg := range ctx.Args {
		out[i] = fmt.Sprintf("%T", arg)
	}
	return out
}

func (e *ErrorTranslatorMiddleware) getStackTrace() string {
	buf := e.stackBufPool.Get().(*[]byte)
	defer e.stackBufPool.Put(buf)

	n := runtime.Stack(*buf, false)

	if n == len(*buf) {
		newBuf := make([]byte, 16384)
		n = runtime.Stack(newBuf, false)

		if n == len(newBuf) {
			newBuf = make([]byte, 65536)
			n = runtime.Stack(newBuf, false)
		}

		return string(newBuf[:n])
	}

	return strings.Clone(utils.BytesToString((*buf)[:n]))
}
