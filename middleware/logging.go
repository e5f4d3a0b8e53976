package middleware

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/container"
	"github.com/saiset-co/sai-pipeline/di"
	"github.com/saiset-co/sai-pipeline/pipeline"
	"github.com/saiset-co/sai-pipeline/request"
	"github.com/saiset-co/sai-pipeline/types"
	"github.com/saiset-co/sai-pipeline/utils"
)

const maxLoggedResult = 1000

type LoggingMiddleware struct {
	loggingConfig *LoggingConfig
}

type LoggingConfig struct {
	LogHeaders bool `json:"log_headers"`
	LogResult  bool `json:"log_result"`
}

func NewLoggingMiddleware(loggingConfig *LoggingConfig) *LoggingMiddleware {
	if loggingConfig == nil {
		loggingConfig = &LoggingConfig{}
	}

	return &LoggingMiddleware{loggingConfig: loggingConfig}
}

func (l *LoggingMiddleware) Name() string { return "logger" }

func (l *LoggingMiddleware) Dependencies() []container.AnyKey {
	return container.Keys(di.LoggerKey)
}

func (l *LoggingMiddleware) Invoke(ctx *pipeline.Context, next pipeline.Next, deps container.Deps) (any, error) {
	logger := container.Dep(deps, di.LoggerKey)
	start := time.Now()

	logger.Info("Request started", l.requestFields(ctx)...)

	result, err := next()

	fields := []zap.Field{
		zap.String("handler", handlerName(ctx)),
		zap.Duration("duration", time.Since(start)),
		zap.Int("status", statusOf(result, err)),
	}

	if l.loggingConfig.LogResult && err == nil && result != nil {
		fields = append(fields, resultField(result))
	}

	logger.Info("Request completed", fields...)

	return result, err
}

func (l *LoggingMiddleware) requestFields(ctx *pipeline.Context) []zap.Field {
	fields := []zap.Field{
		zap.String("handler", handlerName(ctx)),
		zap.Strings("context_keys", ctx.Keys()),
	}

	raw, ok := pipeline.RawRequestKey.Get(ctx)
	if !ok {
		raw, ok = request.FromArg(ctx.Arg(0))
	}

	if ok {
		fields = append(fields,
			zap.String("method", raw.Method()),
			zap.String("path", raw.Path()),
			zap.String("remote_addr", raw.RemoteAddr()),
			zap.String("user_agent", raw.UserAgent()),
		)

		if requestID := raw.Header("X-Request-ID"); requestID != "" {
			fields = append(fields, zap.String("request_id", requestID))
		}

		if l.loggingConfig.LogHeaders {
			fields = append(fields, zap.Any("headers", utils.SanitizeHeaders(raw.Headers())))
		}
	} else if arg := ctx.Arg(0); arg != nil {
		fields = append(fields, zap.String("argument", fmt.Sprintf("%T", arg)))
	}

	if sessionID, ok := pipeline.SessionIDKey.Get(ctx); ok {
		fields = append(fields, zap.String("session_id", sessionID))
	}

	return fields
}

func resultField(result any) zap.Field {
	body, err := utils.Marshal(result)
	if err != nil {
		return zap.String("result_type", fmt.Sprintf("%T", result))
	}

	if len(body) > maxLoggedResult {
		return zap.String("result", string(body[:maxLoggedResult])+"...")
	}
	return zap.ByteString("result", body)
}

// statusOf reports the status a result would be written with.
func statusOf(result any, err error) int {
	if err != nil {
		status, _ := types.Classify(err)
		return status
	}
	if coder, ok := result.(types.StatusCoder); ok && coder.StatusCode() > 0 {
		return coder.StatusCode()
	}
	return 200
}

// sanitizedBag renders the bag for diagnostics with credentials redacted.
func sanitizedBag(ctx *pipeline.Context) map[string]string {
	out := make(map[string]string, len(ctx.Keys()))
	for _, key := range ctx.Keys() {
		if key == pipeline.InjectorKey.Name() || key == pipeline.CacheClientKey.Name() {
			continue
		}
		if key == pipeline.JWTTokenKey.Name() || utils.IsSensitiveField(key) {
			out[key] = "[REDACTED]"
			continue
		}
		value, _ := ctx.Value(key)
		out[key] = fmt.Sprintf("%v", value)
	}
	return out
}
