package controllers

import (
	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/documentations"
	"github.com/saiset-co/sai-pipeline/health"
	"github.com/saiset-co/sai-pipeline/metrics"
	"github.com/saiset-co/sai-pipeline/middleware"
	"github.com/saiset-co/sai-pipeline/types"
)

type Controller interface {
	Register(app types.WebApp) error
}

// Bootstrap composes the plain and authenticated stacks once and registers
// every controller route on app. The metrics endpoint and the OpenAPI
// document are mounted when enabled.
func Bootstrap(app types.WebApp, cfg middleware.StackConfig, settings *types.Settings, registry *metrics.Registry, logger types.Logger) error {
	if cfg.TokenQueryName == "" {
		cfg.TokenQueryName = settings.Session.TokenQueryName
	}

	plain, err := middleware.NewHTTPPipeline(cfg)
	if err != nil {
		return err
	}

	authenticated, err := middleware.NewAuthenticatedPipeline(cfg)
	if err != nil {
		return err
	}

	target := app
	var docs *documentations.Manager
	if settings.Docs.Enabled {
		title := settings.Docs.Title
		if title == "" {
			title = settings.LoggerName
		}
		docs = documentations.NewManager(types.SpecInfo{
			Title:       title,
			Description: "Greeting and session endpoints served through the middleware pipeline.",
			Version:     health.CurrentBuild().Short(),
		}, []string{schemeOf(app) + "://" + settings.Addr()}, cfg.TokenQueryName, logger)
		target = docs.Record(app)
	}

	controllers := []Controller{
		NewGreetingController(plain),
		NewAuthenticatedController(authenticated),
		NewAuthController(plain),
	}

	for _, controller := range controllers {
		if err := controller.Register(target); err != nil {
			return types.WrapError(err, "failed to register routes")
		}
	}

	if settings.Metrics.Enabled {
		path := settings.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		app.Mount(path, registry.Handler())
	}

	if docs != nil {
		path := settings.Docs.Path
		if path == "" {
			path = "/docs"
		}
		app.Mount(path, docs.Handler())
	}

	logger.Info("Application bootstrap completed",
		zap.Int("controllers", len(controllers)),
		zap.Int("routes", len(app.Routes())),
		zap.String("framework", app.Name()))

	return nil
}

func schemeOf(app types.WebApp) string {
	if s, ok := app.(interface{ Scheme() string }); ok {
		return s.Scheme()
	}
	return "http"
}
