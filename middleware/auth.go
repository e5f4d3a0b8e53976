package middleware

import (
	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/container"
	"github.com/saiset-co/sai-pipeline/di"
	"github.com/saiset-co/sai-pipeline/pipeline"
	"github.com/saiset-co/sai-pipeline/request"
	"github.com/saiset-co/sai-pipeline/session"
	"github.com/saiset-co/sai-pipeline/types"
)

// The stages below answer their own failures with structured responses and
// never return an error, so their placement relative to the error
// translator does not matter.

type JWTAuthenticatorMiddleware struct {
	queryName string
}

// NewJWTAuthenticator extracts the bearer credential, verifies it and puts
// the token, its claims and the session id into the bag. queryName is the
// query parameter consulted when no Authorization header is present.
func NewJWTAuthenticator(queryName string) *JWTAuthenticatorMiddleware {
	return &JWTAuthenticatorMiddleware{queryName: queryName}
}

func (j *JWTAuthenticatorMiddleware) Name() string { return "jwt_authentication" }

func (j *JWTAuthenticatorMiddleware) Dependencies() []container.AnyKey {
	return container.Keys(di.SessionManagerKey, di.LoggerKey)
}

func (j *JWTAuthenticatorMiddleware) Invoke(ctx *pipeline.Context, next pipeline.Next, deps container.Deps) (any, error) {
	manager := container.Dep(deps, di.SessionManagerKey)
	logger := container.Dep(deps, di.LoggerKey)

	raw, ok := rawRequest(ctx)
	if !ok {
		logger.Warn("No request available for authentication", zap.String("handler", handlerName(ctx)))
		return types.Unauthorized("Authentication required"), nil
	}

	token, ok := session.ExtractBearer(raw, j.queryName)
	if !ok {
		logger.Debug("Missing bearer token", zap.String("path", raw.Path()))
		return types.Unauthorized("Authentication required"), nil
	}

	claims, err := manager.DecodeToken(token)
	if err != nil {
		logger.Warn("Rejected JWT token", zap.String("path", raw.Path()), zap.Error(err))
		if types.IsError(err, types.ErrTokenExpired) {
			return types.Unauthorized("JWT token expired"), nil
		}
		return types.Unauthorized("Invalid JWT token"), nil
	}

	sessionID := session.SessionIDFromClaims(claims)
	if sessionID == "" {
		logger.Warn("JWT token carries no session id", zap.String("path", raw.Path()))
		return types.Unauthorized("Invalid session in JWT token"), nil
	}

	pipeline.JWTTokenKey.Set(ctx, token)
	pipeline.DecodedTokenKey.Set(ctx, claims)
	pipeline.SessionIDKey.Set(ctx, sessionID)

	return next()
}

type SessionLoaderMiddleware struct{}

// NewSessionLoader fetches the user and organization context of the session
// from the cache.
func NewSessionLoader() *SessionLoaderMiddleware {
	return &SessionLoaderMiddleware{}
}

func (s *SessionLoaderMiddleware) Name() string { return "redis_cache" }

func (s *SessionLoaderMiddleware) Dependencies() []container.AnyKey {
	return container.Keys(di.SessionManagerKey, di.LoggerKey)
}

func (s *SessionLoaderMiddleware) Invoke(ctx *pipeline.Context, next pipeline.Next, deps container.Deps) (any, error) {
	manager := container.Dep(deps, di.SessionManagerKey)
	logger := container.Dep(deps, di.LoggerKey)

	sessionID, ok := pipeline.SessionIDKey.Get(ctx)
	if !ok || sessionID == "" {
		return types.Unauthorized("Session not authenticated"), nil
	}

	pipeline.CacheClientKey.Set(ctx, manager.Cache())

	user, org, err := manager.ValidateSession(ctx.Context(), sessionID)
	if err != nil {
		switch {
		case types.IsError(err, types.ErrSessionState):
			logger.Debug("Session not found in cache", zap.String("session_id", sessionID), zap.Error(err))
			return types.Unauthorized("Session expired or invalid"), nil
		case types.IsError(err, types.ErrDependencyUnavailable):
			logger.Error("Cache unavailable", zap.String("session_id", sessionID), zap.Error(err))
			return types.Unavailable("Cache service unavailable"), nil
		default:
			logger.ErrorWithErrStack("Failed to load session", err, zap.String("session_id", sessionID))
			return types.InternalError(), nil
		}
	}

	pipeline.UserContextKey.Set(ctx, user)
	pipeline.OrgContextKey.Set(ctx, org)

	return next()
}

type SessionValidatorMiddleware struct{}

// NewSessionValidator checks the shape of the loaded contexts and publishes
// the merged session info.
func NewSessionValidator() *SessionValidatorMiddleware {
	return &SessionValidatorMiddleware{}
}

func (s *SessionValidatorMiddleware) Name() string { return "session_management" }

func (s *SessionValidatorMiddleware) Dependencies() []container.AnyKey {
	return container.Keys(di.LoggerKey)
}

func (s *SessionValidatorMiddleware) Invoke(ctx *pipeline.Context, next pipeline.Next, deps container.Deps) (any, error) {
	logger := container.Dep(deps, di.LoggerKey)

	sessionID, sok := pipeline.SessionIDKey.Get(ctx)
	user, uok := pipeline.UserContextKey.Get(ctx)
	org, ook := pipeline.OrgContextKey.Get(ctx)

	if !sok || !uok || !ook || sessionID == "" {
		return types.Unauthorized("Session context incomplete"), nil
	}

	if err := session.ValidateUserContext(user); err != nil {
		logger.Warn("Invalid user context", zap.String("session_id", sessionID), zap.Error(err))
		return types.Unauthorized("Invalid user context"), nil
	}

	if err := session.ValidateOrgContext(org); err != nil {
		logger.Warn("Invalid organization context", zap.String("session_id", sessionID), zap.Error(err))
		return types.Unauthorized("Invalid organization context"), nil
	}

	info := session.AssembleSessionInfo(sessionID, user, org)
	pipeline.SessionInfoKey.Set(ctx, info)

	logger.Debug("Session validated",
		zap.String("session_id", sessionID),
		zap.String("user_id", info.UserID),
		zap.String("org_id", info.OrgID))

	return next()
}

type requirement struct {
	name    string
	check   func(*types.SessionInfo) bool
	message string
}

func (r *requirement) Name() string                     { return r.name }
func (r *requirement) Dependencies() []container.AnyKey { return nil }

func (r *requirement) Invoke(ctx *pipeline.Context, next pipeline.Next, _ container.Deps) (any, error) {
	info, ok := pipeline.SessionInfoKey.Get(ctx)
	if !ok || info == nil {
		return types.Unauthorized("Session context incomplete"), nil
	}

	if !r.check(info) {
		return types.Forbidden(r.message), nil
	}

	return next()
}

// RequirePermission admits only sessions holding permission. It must follow
// the session validator.
func RequirePermission(permission string) pipeline.Middleware {
	return &requirement{
		name:    "require_permission:" + permission,
		message: "Insufficient permissions",
		check: func(info *types.SessionInfo) bool {
			return session.HasPermission(info, permission)
		},
	}
}

func RequireRole(role string) pipeline.Middleware {
	return &requirement{
		name:    "require_role:" + role,
		message: "Insufficient role",
		check: func(info *types.SessionInfo) bool {
			return session.HasRole(info, role)
		},
	}
}

func rawRequest(ctx *pipeline.Context) (types.Request, bool) {
	if raw, ok := pipeline.RawRequestKey.Get(ctx); ok && raw != nil {
		return raw, true
	}

	raw, ok := request.FromArg(ctx.Arg(0))
	if ok {
		pipeline.RawRequestKey.Set(ctx, raw)
	}
	return raw, ok
}
