package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-pipeline/types"
	"github.com/saiset-co/sai-pipeline/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	FrameworkFastHTTP = "fasthttp"
	FrameworkChi      = "chi"
)

const (
	readTimeout     = 30 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 5 * time.Second
)

type mount struct {
	prefix  string
	handler fasthttp.RequestHandler
}

// FastHTTPApp serves pipelines on fasthttp. Handlers receive the
// *fasthttp.RequestCtx as their only argument.
type FastHTTPApp struct {
	addr     string
	logger   types.Logger
	routes   *routeTable
	mountsMu sync.RWMutex
	mounts   []mount
	server   *fasthttp.Server
	listener net.Listener
	options  options
	state    atomic.Value

	baseMu     sync.RWMutex
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

func NewFastHTTPApp(addr string, logger types.Logger, opts ...Option) *FastHTTPApp {
	app := &FastHTTPApp{
		addr:    addr,
		logger:  logger,
		options: buildOptions(opts),
		routes:  newRouteTable(),
	}

	app.baseCtx, app.baseCancel = context.WithCancel(context.Background())
	app.state.Store(StateStopped)

	return app
}

func (a *FastHTTPApp) Name() string { return FrameworkFastHTTP }

func (a *FastHTTPApp) Route(method, path string, handler types.Invoker) {
	a.routes.add(method, path, handler)
}

// Mount serves a net/http handler under path, e.g. the metrics endpoint.
func (a *FastHTTPApp) Mount(path string, handler http.Handler) {
	a.mountsMu.Lock()
	a.mounts = append(a.mounts, mount{
		prefix:  normalizePath(path),
		handler: fasthttpadaptor.NewFastHTTPHandler(handler),
	})
	a.mountsMu.Unlock()
}

func (a *FastHTTPApp) Routes() []types.RouteInfo {
	return a.routes.routes()
}

// Addr reports the bound address once started.
func (a *FastHTTPApp) Addr() string {
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.addr
}

func (a *FastHTTPApp) Scheme() string {
	return a.options.scheme()
}

func (a *FastHTTPApp) Start() error {
	if !a.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	listener, err := a.options.listen(a.addr)
	if err != nil {
		a.setState(StateStopped)
		return types.WrapError(err, "failed to listen on "+a.addr)
	}

	a.baseMu.Lock()
	if a.baseCtx.Err() != nil {
		a.baseCtx, a.baseCancel = context.WithCancel(context.Background())
	}
	a.baseMu.Unlock()

	a.listener = listener
	a.server = &fasthttp.Server{
		Handler:                      a.Handler(),
		Name:                         "sai-pipeline",
		ReadTimeout:                  readTimeout,
		WriteTimeout:                 writeTimeout,
		IdleTimeout:                  idleTimeout,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		CloseOnShutdown:              true,
	}

	go func() {
		if err := a.server.Serve(listener); err != nil {
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

func (a *FastHTTPApp) Stop() error {
	if !a.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}
	defer a.setState(StateStopped)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.ShutdownWithContext(gCtx)
	})

	err := g.Wait()

	a.baseMu.RLock()
	a.baseCancel()
	a.baseMu.RUnlock()

	if err != nil {
		a.logger.Warn("Server stop timeout, some connections may not have closed gracefully", zap.Error(err))
		return err
	}

	a.logger.Info("HTTP server stopped gracefully")
	return nil
}

func (a *FastHTTPApp) IsRunning() bool {
	return a.getState() == StateRunning
}

func (a *FastHTTPApp) getState() State {
	return a.state.Load().(State)
}

func (a *FastHTTPApp) setState(newState State) {
	a.state.Store(newState)
}

func (a *FastHTTPApp) transitionState(from, to State) bool {
	return a.state.CompareAndSwap(from, to)
}

// Handler is the root request handler, exposed for in-process use.
func (a *FastHTTPApp) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		method := string(ctx.Method())
		path := string(ctx.Path())

		if handler, params := a.routes.lookup(method, path); handler != nil {
			for name, value := range params {
				ctx.SetUserValue(name, value)
			}
			a.execute(ctx, handler)
			return
		}

		if handler := a.findMount(path); handler != nil {
			handler(ctx)
			return
		}

		status, body := encodeNotFound()
		utils.WriteFastHTTP(ctx, status, body)
	}
}

// requestContext derives the context a pipeline runs under. RequestCtx is not
// usable as one: its Done needs an owning server and only fires on shutdown.
func (a *FastHTTPApp) requestContext() (context.Context, context.CancelFunc) {
	a.baseMu.RLock()
	defer a.baseMu.RUnlock()

	return context.WithCancel(a.baseCtx)
}

func (a *FastHTTPApp) execute(ctx *fasthttp.RequestCtx, handler types.Invoker) {
	reqCtx, cancel := a.requestContext()
	defer cancel()

	result, err := handler.Invoke(reqCtx, ctx)
	status, body := utils.EncodeResult(result, err)
	utils.WriteFastHTTP(ctx, status, body)
}

func (a *FastHTTPApp) findMount(path string) fasthttp.RequestHandler {
	a.mountsMu.RLock()
	defer a.mountsMu.RUnlock()

	for _, m := range a.mounts {
		if path == m.prefix || strings.HasPrefix(path, m.prefix+"/") {
			return m.handler
		}
	}
	return nil
}

func encodeNotFound() (int, []byte) {
	return utils.EncodeResult(types.NewErrorResponse(http.StatusNotFound, "Not found", ""), nil)
}
