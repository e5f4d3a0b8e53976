package middleware

import (
	"time"

	"github.com/saiset-co/sai-pipeline/pipeline"
	"github.com/saiset-co/sai-pipeline/types"
)

type StackConfig struct {
	Source         ContainerSource
	Logger         types.Logger
	Logging        *LoggingConfig
	SlowThreshold  time.Duration
	Sampler        Sampler
	TokenQueryName string
}

// HTTPStack is the order shared by every plain route. The error translator
// directly follows the container builder so it covers every later link.
func HTTPStack(cfg StackConfig) []pipeline.Middleware {
	return []pipeline.Middleware{
		NewContainerBuilder(cfg.Source, cfg.Logger),
		NewErrorTranslator(),
		NewInjector(),
		NewRequestBinder(),
		NewValidator(),
		NewLoggingMiddleware(cfg.Logging),
		NewTimer(cfg.SlowThreshold),
		NewPerformance(cfg.Sampler),
	}
}

// AuthenticatedStack runs the authentication stages before binding so they
// read the raw request. Each stage short-circuits on failure.
func AuthenticatedStack(cfg StackConfig) []pipeline.Middleware {
	queryName := cfg.TokenQueryName
	if queryName == "" {
		queryName = "token"
	}

	return []pipeline.Middleware{
		NewContainerBuilder(cfg.Source, cfg.Logger),
		NewErrorTranslator(),
		NewInjector(),
		NewJWTAuthenticator(queryName),
		NewSessionLoader(),
		NewSessionValidator(),
		NewRequestBinder(),
		NewValidator(),
		NewLoggingMiddleware(cfg.Logging),
		NewTimer(cfg.SlowThreshold),
		NewPerformance(cfg.Sampler),
	}
}

func NewHTTPPipeline(cfg StackConfig, extra ...pipeline.Middleware) (*pipeline.Pipeline, error) {
	return pipeline.New(append(HTTPStack(cfg), extra...))
}

// NewAuthenticatedPipeline appends extra, usually RequirePermission or
// RequireRole, after the session stages.
func NewAuthenticatedPipeline(cfg StackConfig, extra ...pipeline.Middleware) (*pipeline.Pipeline, error) {
	return pipeline.New(append(AuthenticatedStack(cfg), extra...))
}
