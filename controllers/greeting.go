package controllers

import (
	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/di"
	"github.com/saiset-co/sai-pipeline/health"
	"github.com/saiset-co/sai-pipeline/pipeline"
	"github.com/saiset-co/sai-pipeline/request"
	"github.com/saiset-co/sai-pipeline/types"
)

type GreetingRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

func (r *GreetingRequest) BindMap(data map[string]any) error {
	return request.Decode(data, r)
}

type GreetingResponse struct {
	Message string `json:"message"`
}

type GreetingController struct {
	pipeline *pipeline.Pipeline
}

func NewGreetingController(p *pipeline.Pipeline) *GreetingController {
	return &GreetingController{pipeline: p}
}

func (g *GreetingController) Register(app types.WebApp) error {
	routes := []struct {
		method  string
		path    string
		handler *pipeline.Handler
	}{
		{"POST", "/say_hello", pipeline.Typed("say_hello", g.sayHello, di.LoggerKey)},
		{"GET", "/health", pipeline.Untyped("health", g.health)},
		{"GET", "/health/ready", pipeline.Untyped("readiness", g.readiness, di.HealthKey)},
		{"GET", "/version", pipeline.Untyped("version", g.version)},
	}

	for _, route := range routes {
		composed, err := g.pipeline.Wrap(route.handler)
		if err != nil {
			return err
		}
		app.Route(route.method, route.path, composed)
	}

	return nil
}

func (g *GreetingController) sayHello(ctx *pipeline.Context, req *GreetingRequest) (any, error) {
	resp := &GreetingResponse{Message: "Hello, " + req.Name + "!"}

	if logger, ok := pipeline.Injected(ctx, di.LoggerKey); ok {
		logger.Info(resp.Message, zap.String("name", req.Name))
	}

	return resp, nil
}

func (g *GreetingController) health(_ *pipeline.Context) (any, error) {
	return map[string]string{"status": "healthy"}, nil
}

// readiness probes the cache and database; the report carries a 503 status
// while any of them fails.
func (g *GreetingController) readiness(ctx *pipeline.Context) (any, error) {
	manager, ok := pipeline.Injected(ctx, di.HealthKey)
	if !ok {
		return types.Unavailable("Health checks unavailable"), nil
	}

	return manager.Check(ctx.Context()), nil
}

func (g *GreetingController) version(_ *pipeline.Context) (any, error) {
	build := health.CurrentBuild()
	return map[string]any{"version": build.Short(), "build_info": build}, nil
}
