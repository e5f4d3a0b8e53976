package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/types"
	"github.com/saiset-co/sai-pipeline/utils"
)

// ChiApp serves pipelines on net/http through a chi router. Handlers
// receive the *http.Request as their only argument.
type ChiApp struct {
	addr     string
	logger   types.Logger
	router   chi.Router
	routes   *routeTable
	server   *http.Server
	listener net.Listener
	options  options
	state    atomic.Value
}

func NewChiApp(addr string, logger types.Logger, opts ...Option) *ChiApp {
	app := &ChiApp{
		addr:    addr,
		logger:  logger,
		options: buildOptions(opts),
		router:  chi.NewRouter(),
		routes:  newRouteTable(),
	}

	app.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		status, body := encodeNotFound()
		utils.WriteHTTP(w, r, status, body)
	})

	app.state.Store(StateStopped)

	return app
}

func (a *ChiApp) Name() string { return FrameworkChi }

func (a *ChiApp) Route(method, path string, handler types.Invoker) {
	a.routes.add(method, path, handler)
	a.router.MethodFunc(method, chiPattern(path), func(w http.ResponseWriter, r *http.Request) {
		result, err := handler.Invoke(r.Context(), r)
		status, body := utils.EncodeResult(result, err)
		utils.WriteHTTP(w, r, status, body)
	})
}

func (a *ChiApp) Mount(path string, handler http.Handler) {
	a.router.Mount(normalizePath(path), handler)
}

func (a *ChiApp) Routes() []types.RouteInfo {
	return a.routes.routes()
}

func (a *ChiApp) Handler() http.Handler {
	return a.router
}

func (a *ChiApp) Addr() string {
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.addr
}

// Scheme is https when the app was built WithTLS.
func (a *ChiApp) Scheme() string {
	return a.options.scheme()
}

func (a *ChiApp) Start() error {
	if !a.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	listener, err := a.options.listen(a.addr)
	if err != nil {
		a.setState(StateStopped)
		return types.WrapError(err, "failed to listen on "+a.addr)
	}

	a.listener = listener
	a.server = &http.Server{
		Handler:      a.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	go func() {
		if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server failed", zap.Error(err))
			a.setState(StateStopped)
		}
	}()

	a.setState(StateRunning)

	a.logger.Info("HTTP server started successfully",
		zap.String("address", listener.Addr().String()),
		zap.String("scheme", a.options.scheme()),
		zap.String("framework", a.Name()))

	return nil
}

func (a *ChiApp) Stop() error {
	if !a.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}
	defer a.setState(StateStopped)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn("Server stop timeout, some connections may not have closed gracefully", zap.Error(err))
		return err
	}

	a.logger.Info("HTTP server stopped gracefully")
	return nil
}

func (a *ChiApp) IsRunning() bool {
	return a.state.Load().(State) == StateRunning
}

func (a *ChiApp) setState(newState State) {
	a.state.Store(newState)
}

func (a *ChiApp) transitionState(from, to State) bool {
	return a.state.CompareAndSwap(from, to)
}

// chiPattern rewrites :name segments into chi's {name} form.
func chiPattern(path string) string {
	segments := parsePathSegments(normalizePath(path))
	if len(segments) == 0 {
		return "/"
	}

	out := ""
	for _, seg := range segments {
		if len(seg) > 1 && seg[0] == ':' {
			seg = "{" + seg[1:] + "}"
		}
		out += "/" + seg
	}
	return out
}

// New builds the web app named by framework, listening on addr.
func New(framework, addr string, logger types.Logger, opts ...Option) (types.WebApp, error) {
	switch framework {
	case "", FrameworkFastHTTP:
		return NewFastHTTPApp(addr, logger, opts...), nil
	case FrameworkChi:
		return NewChiApp(addr, logger, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %w: framework: %s", types.ErrConfiguration, types.ErrWebFrameworkUnknown, framework)
	}
}
