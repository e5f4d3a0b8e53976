package middleware

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/sai-pipeline/cache"
	"github.com/saiset-co/sai-pipeline/container"
	"github.com/saiset-co/sai-pipeline/di"
	"github.com/saiset-co/sai-pipeline/logger"
	"github.com/saiset-co/sai-pipeline/metrics"
	"github.com/saiset-co/sai-pipeline/pipeline"
	"github.com/saiset-co/sai-pipeline/request"
	"github.com/saiset-co/sai-pipeline/session"
	"github.com/saiset-co/sai-pipeline/types"
)

type greetingRequest struct {
	Name string `json:"name" validate:"required"`
}

func (g *greetingRequest) BindMap(data map[string]any) error {
	return request.Decode(data, g)
}

type plainRequest struct {
	Name string
}

// countingCache counts reads and can simulate an unreachable backend.
type countingCache struct {
	types.SessionCache
	gets    atomic.Int32
	failGet error
}

func (c *countingCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets.Add(1)
	if c.failGet != nil {
		return nil, c.failGet
	}
	return c.SessionCache.Get(ctx, key)
}

type harness struct {
	container *container.Container
	cache     *countingCache
	sessions  *session.Manager
	registry  *metrics.Registry
	logs      *observer.ObservedLogs
	cfg       StackConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.Wrap("test", zap.New(core))

	cc := &countingCache{SessionCache: cache.NewMemoryCache(log)}

	codec, err := session.NewTokenCodec(types.JWTSettings{Secret: "test-secret", Algorithm: "HS256", ExpiryHours: 1})
	require.NoError(t, err)

	sessions, err := session.NewManager(cc, codec, log)
	require.NoError(t, err)

	registry := metrics.New(types.MetricsSettings{})

	c := container.New()
	container.ProvideValue[types.Logger](c, di.LoggerKey, log)
	container.ProvideValue(c, di.MetricsKey, registry)
	container.ProvideValue(c, di.ValidatorKey, validator.New(validator.WithRequiredStructEnabled()))
	container.ProvideValue(c, di.SessionManagerKey, sessions)
	container.ProvideValue[types.SessionCache](c, di.CacheKey, cc)

	return &harness{
		container: c,
		cache:     cc,
		sessions:  sessions,
		registry:  registry,
		logs:      logs,
		cfg: StackConfig{
			Source:  StaticSource(c),
			Logger:  log,
			Sampler: func() (float64, float64) { return 10, 20 },
		},
	}
}

func (h *harness) login(t *testing.T, user types.UserContext, org types.OrgContext) *session.Session {
	t.Helper()

	sess, err := h.sessions.CreateSession(context.Background(), user, org, session.ClientInfo{})
	require.NoError(t, err)

	return sess
}

func newRequestCtx(method, uri, body string, headers map[string]string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	for k, v := range headers {
		ctx.Request.Header.Set(k, v)
	}
	if body != "" {
		ctx.Request.SetBodyString(body)
	}
	return ctx
}

var (
	demoUser = types.UserContext{
		UserID:      "user-456",
		Username:    "demo_user",
		Email:       "demo@example.com",
		Permissions: []string{"org:read", "user:read"},
		Roles:       []string{"user", "member"},
	}
	demoOrg = types.OrgContext{OrgID: "org-789", OrgName: "Demo Organization", Settings: map[string]any{}}
)

func greet(ctx *pipeline.Context, req *greetingRequest) (any, error) {
	return map[string]string{"message": "Hello " + req.Name}, nil
}

func errorResponse(t *testing.T, result any) *types.ErrorResponse {
	t.Helper()

	resp, ok := result.(*types.ErrorResponse)
	require.True(t, ok, "expected *types.ErrorResponse, got %T", result)

	return resp
}

func TestHTTPStackBindsJSONBody(t *testing.T) {
	h := newHarness(t)
	p, err := NewHTTPPipeline(h.cfg)
	require.NoError(t, err)

	composed := p.MustWrap(pipeline.Typed("say_hello", greet))
	result, err := composed.Invoke(context.Background(), newRequestCtx("POST", "/say_hello", `{"name":"World"}`, nil))

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"message": "Hello World"}, result)
}

func TestBindingPassesThroughMatchingType(t *testing.T) {
	h := newHarness(t)
	p, err := NewHTTPPipeline(h.cfg)
	require.NoError(t, err)

	in := &greetingRequest{Name: "Direct"}
	var seen *greetingRequest

	composed := p.MustWrap(pipeline.Typed("say_hello", func(ctx *pipeline.Context, req *greetingRequest) (any, error) {
		seen = req
		return "ok", nil
	}))

	_, err = composed.Invoke(context.Background(), in)

	require.NoError(t, err)
	assert.Same(t, in, seen)
}

func TestBindingBodyOverridesQueryAndHeaders(t *testing.T) {
	h := newHarness(t)
	p, err := NewHTTPPipeline(h.cfg)
	require.NoError(t, err)

	composed := p.MustWrap(pipeline.Typed("say_hello", greet))

	result, err := composed.Invoke(context.Background(),
		newRequestCtx("POST", "/say_hello?name=Query", `{"name":"Body"}`, nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"message": "Hello Body"}, result)

	result, err = composed.Invoke(context.Background(),
		newRequestCtx("POST", "/say_hello?name=Query", `{broken`, nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"message": "Hello Query"}, result)
}

func TestValidationFailureYields400(t *testing.T) {
	h := newHarness(t)
	p, err := NewHTTPPipeline(h.cfg)
	require.NoError(t, err)

	called := false
	composed := p.MustWrap(pipeline.Typed("say_hello", func(ctx *pipeline.Context, req *greetingRequest) (any, error) {
		called = true
		return nil, nil
	}))

	result, err := composed.Invoke(context.Background(), newRequestCtx("POST", "/say_hello", `{}`, nil))

	require.NoError(t, err)
	resp := errorResponse(t, result)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, "Validation error", resp.Error)
	assert.Contains(t, resp.Message, "Name")
	assert.False(t, called)
}

func TestUnsupportedRequestKindIsBindingError(t *testing.T) {
	h := newHarness(t)
	p, err := NewHTTPPipeline(h.cfg)
	require.NoError(t, err)

	result, err := p.MustWrap(pipeline.Typed("say_hello", greet)).Invoke(context.Background(), 42)

	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, errorResponse(t, result).Status)
}

func TestTypeWithoutBindMapIsBindingError(t *testing.T) {
	h := newHarness(t)
	p, err := NewHTTPPipeline(h.cfg)
	require.NoError(t, err)

	composed := p.MustWrap(pipeline.Typed("plain", func(ctx *pipeline.Context, req plainRequest) (any, error) {
		return req.Name, nil
	}))

	result, err := composed.Invoke(context.Background(), newRequestCtx("POST", "/plain", `{"Name":"x"}`, nil))

	require.NoError(t, err)
	resp := errorResponse(t, result)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, "Invalid request data", resp.Message)
}

func TestDecodeFailureMessageIsFixed(t *testing.T) {
	h := newHarness(t)
	p, err := NewHTTPPipeline(h.cfg)
	require.NoError(t, err)

	composed := p.MustWrap(pipeline.Typed("say_hello", greet))
	result, err := composed.Invoke(context.Background(),
		newRequestCtx("POST", "/say_hello", `{"name":{"secret":"s3cr3t-input"}}`, nil))

	require.NoError(t, err)
	resp := errorResponse(t, result)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, "Invalid request data", resp.Message)
	assert.NotContains(t, resp.Message, "greetingRequest")
	assert.NotContains(t, resp.Message, "s3cr3t-input")
}

func TestUntypedHandlerSeesRawRequest(t *testing.T) {
	h := newHarness(t)
	p, err := NewHTTPPipeline(h.cfg)
	require.NoError(t, err)

	raw := newRequestCtx("GET", "/health", "", nil)
	composed := p.MustWrap(pipeline.Untyped("health", func(ctx *pipeline.Context) (any, error) {
		assert.Same(t, raw, ctx.Arg(0))
		return map[string]string{"status": "healthy"}, nil
	}))

	result, err := composed.Invoke(context.Background(), raw)

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"status": "healthy"}, result)
}

func TestErrorTranslation(t *testing.T) {
	tests := []struct {
		name    string
		fail    func() (any, error)
		status  int
		message string
	}{
		{
			name:    "validation",
			fail:    func() (any, error) { return nil, types.Errorf(types.ErrValidation, "age must be positive") },
			status:  http.StatusBadRequest,
			message: "age must be positive",
		},
		{
			name:    "authorization",
			fail:    func() (any, error) { return nil, types.Errorf(types.ErrAuthorization, "admins only") },
			status:  http.StatusForbidden,
			message: "admins only",
		},
		{
			name:    "unclassified",
			fail:    func() (any, error) { return nil, errors.New("pq: password authentication failed for user app") },
			status:  http.StatusInternalServerError,
			message: "An unexpected error occurred",
		},
		{
			name:    "panic",
			fail:    func() (any, error) { panic("nil map write") },
			status:  http.StatusInternalServerError,
			message: "An unexpected error occurred",
		},
		{
			name:   "dependency",
			fail:   func() (any, error) { return nil, types.Errorf(types.ErrDependencyUnavailable, "redis down at 10.0.0.5") },
			status: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			p, err := NewHTTPPipeline(h.cfg)
			require.NoError(t, err)

			composed := p.MustWrap(pipeline.Untyped("failing", func(ctx *pipeline.Context) (any, error) {
				return tt.fail()
			}))

			result, err := composed.Invoke(context.Background(), newRequestCtx("GET", "/failing", "", nil))

			require.NoError(t, err)
			resp := errorResponse(t, result)
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.message, resp.Message)
			assert.NotContains(t, resp.Message, "pq:")
			assert.NotContains(t, resp.Message, "10.0.0.5")
		})
	}
}

func TestUnhandledErrorIsLoggedWithDiagnostics(t *testing.T) {
	h := newHarness(t)
	p, err := NewHTTPPipeline(h.cfg)
	require.NoError(t, err)

	composed := p.MustWrap(pipeline.Untyped("failing", func(ctx *pipeline.Context) (any, error) {
		return nil, errors.New("boom")
	}))

	_, err = composed.Invoke(context.Background(), newRequestCtx("GET", "/failing", "", nil))
	require.NoError(t, err)

	entries := h.logs.FilterMessage("Unhandled error").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "failing", fields["handler"])
	assert.Equal(t, "boom", fields["error"])
	assert.NotEmpty(t, fields["stack"])
}

func TestContainerBuilderFailureIsOpaque(t *testing.T) {
	h := newHarness(t)
	h.cfg.Source = func() (container.Resolver, error) { return nil, errors.New("dial tcp: refused") }

	p, err := NewHTTPPipeline(h.cfg)
	require.NoError(t, err)

	result, err := p.MustWrap(pipeline.Untyped("x", func(ctx *pipeline.Context) (any, error) {
		t.Fatal("handler must not run")
		return nil, nil
	})).Invoke(context.Background(), newRequestCtx("GET", "/x", "", nil))

	require.NoError(t, err)
	assert.Equal(t, types.InternalError(), result)
}

func TestCachedSourceBuildsOnce(t *testing.T) {
	builds := 0
	source := CachedSource(func() (container.Resolver, error) {
		builds++
		if builds == 1 {
			return nil, errors.New("first attempt fails")
		}
		return container.New(), nil
	})

	_, err := source()
	require.Error(t, err)

	first, err := source()
	require.NoError(t, err)
	second, err := source()
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 2, builds)
}

func TestInjectorPlacesHandlerDependencies(t *testing.T) {
	h := newHarness(t)
	p, err := NewHTTPPipeline(h.cfg)
	require.NoError(t, err)

	composed := p.MustWrap(pipeline.Untyped("uses_logger", func(ctx *pipeline.Context) (any, error) {
		l, ok := pipeline.Injected(ctx, di.LoggerKey)
		assert.True(t, ok)
		assert.NotNil(t, l)
		return "ok", nil
	}, di.LoggerKey))

	result, err := composed.Invoke(context.Background(), newRequestCtx("GET", "/", "", nil))

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestTimerAndPerformanceRecordMetrics(t *testing.T) {
	h := newHarness(t)
	p, err := NewHTTPPipeline(h.cfg)
	require.NoError(t, err)

	composed := p.MustWrap(pipeline.Untyped("measured", func(ctx *pipeline.Context) (any, error) {
		return "ok", nil
	}))

	for i := 0; i < 2; i++ {
		_, err := composed.Invoke(context.Background(), newRequestCtx("GET", "/", "", nil))
		require.NoError(t, err)
	}

	results, err := h.registry.Snapshot("sai_pipeline_handler_results_total")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "measured", results[0].Labels["handler"])
	assert.Equal(t, "200", results[0].Labels["status"])
	assert.Equal(t, 2.0, results[0].Value)

	cpu, err := h.registry.Snapshot("sai_pipeline_handler_cpu_delta_percent")
	require.NoError(t, err)
	require.Len(t, cpu, 1)
	assert.EqualValues(t, 2, cpu[0].Count)
}

func TestSlowHandlerWarning(t *testing.T) {
	h := newHarness(t)
	h.cfg.SlowThreshold = time.Nanosecond
	p, err := NewHTTPPipeline(h.cfg)
	require.NoError(t, err)

	composed := p.MustWrap(pipeline.Untyped("slow", func(ctx *pipeline.Context) (any, error) {
		time.Sleep(time.Millisecond)
		return "ok", nil
	}))

	_, err = composed.Invoke(context.Background(), newRequestCtx("GET", "/", "", nil))
	require.NoError(t, err)

	assert.Equal(t, 1, h.logs.FilterMessage("Slow handler").Len())
}

func TestLoggingRedactsCredentials(t *testing.T) {
	h := newHarness(t)
	h.cfg.Logging = &LoggingConfig{LogHeaders: true}
	p, err := NewHTTPPipeline(h.cfg)
	require.NoError(t, err)

	composed := p.MustWrap(pipeline.Untyped("logged", func(ctx *pipeline.Context) (any, error) {
		return "ok", nil
	}))

	_, err = composed.Invoke(context.Background(),
		newRequestCtx("GET", "/logged", "", map[string]string{"Authorization": "Bearer secret-token", "X-Request-ID": "r1"}))
	require.NoError(t, err)

	started := h.logs.FilterMessage("Request started").All()
	require.Len(t, started, 1)
	fields := started[0].ContextMap()
	assert.Equal(t, "r1", fields["request_id"])
	assert.Equal(t, "GET", fields["method"])

	headers, ok := fields["headers"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]", headers["Authorization"])

	completed := h.logs.FilterMessage("Request completed").All()
	require.Len(t, completed, 1)
	assert.EqualValues(t, 200, completed[0].ContextMap()["status"])
}

func authenticatedHello(ctx *pipeline.Context) (any, error) {
	info, ok := pipeline.SessionInfoKey.Get(ctx)
	if !ok {
		return nil, errors.New("session info missing")
	}
	return info, nil
}

func TestAuthenticatedStackReachesHandler(t *testing.T) {
	h := newHarness(t)
	sess := h.login(t, demoUser, demoOrg)

	p, err := NewAuthenticatedPipeline(h.cfg)
	require.NoError(t, err)

	result, err := p.MustWrap(pipeline.Untyped("hello", authenticatedHello)).Invoke(context.Background(),
		newRequestCtx("POST", "/authenticated/hello", "", map[string]string{"Authorization": "Bearer " + sess.Token}))

	require.NoError(t, err)
	info, ok := result.(*types.SessionInfo)
	require.True(t, ok, "got %T", result)
	assert.Equal(t, sess.SessionID, info.SessionID)
	assert.Equal(t, "demo_user", info.Username)
	assert.Equal(t, "Demo Organization", info.OrgName)
	assert.Equal(t, []string{"org:read", "user:read"}, info.Permissions)
}

func TestAuthenticatedStackQueryToken(t *testing.T) {
	h := newHarness(t)
	sess := h.login(t, demoUser, demoOrg)

	p, err := NewAuthenticatedPipeline(h.cfg)
	require.NoError(t, err)

	result, err := p.MustWrap(pipeline.Untyped("hello", authenticatedHello)).Invoke(context.Background(),
		newRequestCtx("GET", "/authenticated/profile?token="+sess.Token, "", nil))

	require.NoError(t, err)
	assert.IsType(t, &types.SessionInfo{}, result)
}

func TestAuthenticatedStackWithTypedHandler(t *testing.T) {
	h := newHarness(t)
	sess := h.login(t, demoUser, demoOrg)

	p, err := NewAuthenticatedPipeline(h.cfg)
	require.NoError(t, err)

	composed := p.MustWrap(pipeline.Typed("hello", func(ctx *pipeline.Context, req *greetingRequest) (any, error) {
		info, _ := pipeline.SessionInfoKey.Get(ctx)
		return req.Name + "@" + info.OrgID, nil
	}))

	result, err := composed.Invoke(context.Background(),
		newRequestCtx("POST", "/authenticated/hello", `{"name":"World"}`, map[string]string{"Authorization": "Bearer " + sess.Token}))

	require.NoError(t, err)
	assert.Equal(t, "World@org-789", result)
}

func TestMissingTokenDoesNotTouchCache(t *testing.T) {
	h := newHarness(t)
	p, err := NewAuthenticatedPipeline(h.cfg)
	require.NoError(t, err)

	result, err := p.MustWrap(pipeline.Untyped("hello", authenticatedHello)).Invoke(context.Background(),
		newRequestCtx("POST", "/authenticated/hello", "", nil))

	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, errorResponse(t, result).Status)
	assert.Zero(t, h.cache.gets.Load())
}

func TestAuthenticationFailures(t *testing.T) {
	h := newHarness(t)
	codec, err := session.NewTokenCodec(types.JWTSettings{Secret: "test-secret", Algorithm: "HS256", ExpiryHours: 1})
	require.NoError(t, err)

	orphan, _, err := codec.Generate("no-such-session", "u1", "ghost")
	require.NoError(t, err)

	noSession, _, err := codec.Generate("", "u1", "ghost")
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"malformed", "Bearer not-a-jwt", "Invalid JWT token"},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "Authentication required"},
		{"no session entries", "Bearer " + orphan, "Session expired or invalid"},
		{"no session id", "Bearer " + noSession, "Invalid session in JWT token"},
	}

	p, err := NewAuthenticatedPipeline(h.cfg)
	require.NoError(t, err)
	composed := p.MustWrap(pipeline.Untyped("hello", authenticatedHello))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := composed.Invoke(context.Background(),
				newRequestCtx("POST", "/authenticated/hello", "", map[string]string{"Authorization": tt.header}))

			require.NoError(t, err)
			resp := errorResponse(t, result)
			assert.Equal(t, http.StatusUnauthorized, resp.Status)
			assert.Equal(t, "Authentication required", resp.Error)
			assert.Equal(t, tt.message, resp.Message)
		})
	}
}

func TestInvalidSessionShape(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sess := h.login(t, demoUser, demoOrg)
	require.NoError(t, h.cache.SetEx(ctx, session.UserContextKey(sess.SessionID), []byte(`{"user_id":"u1","username":"bob"}`), time.Hour))

	p, err := NewAuthenticatedPipeline(h.cfg)
	require.NoError(t, err)

	result, err := p.MustWrap(pipeline.Untyped("hello", authenticatedHello)).Invoke(ctx,
		newRequestCtx("GET", "/", "", map[string]string{"Authorization": "Bearer " + sess.Token}))

	require.NoError(t, err)
	resp := errorResponse(t, result)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, "Invalid user context", resp.Message)
}

func TestCacheUnavailableYields503(t *testing.T) {
	h := newHarness(t)
	sess := h.login(t, demoUser, demoOrg)
	h.cache.failGet = types.Errorf(types.ErrDependencyUnavailable, "connection refused")

	p, err := NewAuthenticatedPipeline(h.cfg)
	require.NoError(t, err)

	result, err := p.MustWrap(pipeline.Untyped("hello", authenticatedHello)).Invoke(context.Background(),
		newRequestCtx("GET", "/", "", map[string]string{"Authorization": "Bearer " + sess.Token}))

	require.NoError(t, err)
	resp := errorResponse(t, result)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Equal(t, "Cache service unavailable", resp.Message)
}

func TestRequirePermissionAndRole(t *testing.T) {
	h := newHarness(t)
	sess := h.login(t, demoUser, demoOrg)
	headers := map[string]string{"Authorization": "Bearer " + sess.Token}

	allowed, err := NewAuthenticatedPipeline(h.cfg, RequirePermission("org:read"), RequireRole("member"))
	require.NoError(t, err)

	result, err := allowed.MustWrap(pipeline.Untyped("org_info", authenticatedHello)).Invoke(context.Background(),
		newRequestCtx("GET", "/", "", headers))
	require.NoError(t, err)
	assert.IsType(t, &types.SessionInfo{}, result)

	denied, err := NewAuthenticatedPipeline(h.cfg, RequirePermission("org:write"))
	require.NoError(t, err)

	result, err = denied.MustWrap(pipeline.Untyped("org_info", authenticatedHello)).Invoke(context.Background(),
		newRequestCtx("GET", "/", "", headers))
	require.NoError(t, err)
	resp := errorResponse(t, result)
	assert.Equal(t, http.StatusForbidden, resp.Status)
	assert.Equal(t, "Insufficient permissions", resp.Message)

	wrongRole, err := NewAuthenticatedPipeline(h.cfg, RequireRole("admin"))
	require.NoError(t, err)

	result, err = wrongRole.MustWrap(pipeline.Untyped("org_info", authenticatedHello)).Invoke(context.Background(),
		newRequestCtx("GET", "/", "", headers))
	require.NoError(t, err)
	assert.Equal(t, "Insufficient role", errorResponse(t, result).Message)
}

func TestStageOrderingIsCheckedAtComposition(t *testing.T) {
	_, err := pipeline.New([]pipeline.Middleware{
		NewJWTAuthenticator("token"),
		NewContainerBuilder(StaticSource(container.New()), nil),
	})

	assert.ErrorIs(t, err, types.ErrMiddlewareOrderInvalid)
}
