package controllers

import (
	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/di"
	"github.com/saiset-co/sai-pipeline/pipeline"
	"github.com/saiset-co/sai-pipeline/request"
	"github.com/saiset-co/sai-pipeline/server"
	"github.com/saiset-co/sai-pipeline/session"
	"github.com/saiset-co/sai-pipeline/types"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (r *LoginRequest) BindMap(data map[string]any) error {
	return request.Decode(data, r)
}

type OrganizationSummary struct {
	OrgID   string `json:"org_id"`
	OrgName string `json:"org_name"`
}

type LoginUser struct {
	UserID       string              `json:"user_id"`
	Username     string              `json:"username"`
	Email        string              `json:"email"`
	FirstName    string              `json:"first_name"`
	LastName     string              `json:"last_name"`
	Organization OrganizationSummary `json:"organization"`
}

type LoginResponse struct {
	Message   string    `json:"message"`
	Token     string    `json:"token"`
	User      LoginUser `json:"user"`
	ExpiresIn int       `json:"expires_in"`
}

type RefreshResponse struct {
	Message   string `json:"message"`
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// AuthController issues, refreshes and revokes sessions. Its routes read the
// bearer token themselves and run on the plain stack.
type AuthController struct {
	pipeline *pipeline.Pipeline
}

func NewAuthController(p *pipeline.Pipeline) *AuthController {
	return &AuthController{pipeline: p}
}

func (a *AuthController) Register(app types.WebApp) error {
	routes := []struct {
		method  string
		path    string
		handler *pipeline.Handler
	}{
		{"POST", "/login", pipeline.Typed("login", a.login,
			di.UserRepositoryKey, di.SessionManagerKey, di.LoggerKey)},
		{"POST", "/logout", pipeline.Untyped("logout", a.logout, di.SessionManagerKey, di.LoggerKey)},
		{"POST", "/refresh", pipeline.Untyped("refresh_token", a.refresh, di.SessionManagerKey, di.LoggerKey)},
		{"GET", "/me", pipeline.Untyped("current_user", a.me, di.SessionManagerKey)},
	}

	group := server.NewGroup(app, "/auth")
	for _, route := range routes {
		composed, err := a.pipeline.Wrap(route.handler)
		if err != nil {
			return err
		}
		group.Route(route.method, route.path, composed)
	}

	return nil
}

func (a *AuthController) login(ctx *pipeline.Context, req *LoginRequest) (any, error) {
	users, _ := pipeline.Injected(ctx, di.UserRepositoryKey)
	manager, _ := pipeline.Injected(ctx, di.SessionManagerKey)
	logger, _ := pipeline.Injected(ctx, di.LoggerKey)

	user, err := users.Authenticate(ctx.Context(), req.Username, req.Password)
	if err != nil {
		if types.IsError(err, types.ErrAuthentication) {
			logger.Warn("Login rejected", zap.String("username", req.Username))
			return types.Unauthorized("Invalid credentials"), nil
		}
		return nil, err
	}

	memberships, err := users.Memberships(ctx.Context(), user.ID)
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		logger.Warn("Login without organization", zap.String("user_id", user.ID))
		return types.Forbidden("No active organization membership"), nil
	}

	membership := memberships[0]
	userCtx := types.UserContext{
		UserID:      user.ID,
		Username:    user.Username,
		Email:       user.Email,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		Permissions: membership.PermissionList(),
		Roles:       []string{"user", membership.Role},
	}
	orgCtx := types.OrgContext{
		OrgID:    membership.ID,
		OrgName:  membership.Name,
		OrgSlug:  membership.Slug,
		Settings: map[string]any{},
	}

	sess, err := manager.CreateSession(ctx.Context(), userCtx, orgCtx, clientInfo(ctx))
	if err != nil {
		return nil, err
	}

	logger.Info("User logged in",
		zap.String("username", user.Username),
		zap.String("session_id", sess.SessionID))

	return &LoginResponse{
		Message: "Login successful",
		Token:   sess.Token,
		User: LoginUser{
			UserID:    user.ID,
			Username:  user.Username,
			Email:     user.Email,
			FirstName: user.FirstName,
			LastName:  user.LastName,
			Organization: OrganizationSummary{
				OrgID:   membership.ID,
				OrgName: membership.Name,
			},
		},
		ExpiresIn: sess.ExpiresIn,
	}, nil
}

func (a *AuthController) logout(ctx *pipeline.Context) (any, error) {
	manager, _ := pipeline.Injected(ctx, di.SessionManagerKey)
	logger, _ := pipeline.Injected(ctx, di.LoggerKey)

	sessionID, denied := bearerSession(ctx, manager)
	if denied != nil {
		return denied, nil
	}

	removed, err := manager.InvalidateSession(ctx.Context(), sessionID)
	if err != nil {
		return nil, err
	}

	if removed {
		logger.Info("Session invalidated", zap.String("session_id", sessionID))
	} else {
		logger.Warn("Session was already gone", zap.String("session_id", sessionID))
	}

	return map[string]string{"message": "Logout successful"}, nil
}

func (a *AuthController) refresh(ctx *pipeline.Context) (any, error) {
	manager, _ := pipeline.Injected(ctx, di.SessionManagerKey)
	logger, _ := pipeline.Injected(ctx, di.LoggerKey)

	sessionID, denied := bearerSession(ctx, manager)
	if denied != nil {
		return denied, nil
	}

	user, _, err := manager.ValidateSession(ctx.Context(), sessionID)
	if err != nil {
		if types.IsError(err, types.ErrSessionState) {
			return types.Unauthorized("Session expired"), nil
		}
		return nil, err
	}

	refreshed, err := manager.RefreshSession(ctx.Context(), sessionID)
	if err != nil {
		return nil, err
	}
	if !refreshed {
		return types.Unauthorized("Session expired"), nil
	}

	token, _, err := manager.GenerateToken(sessionID, user.String("user_id"), user.String("username"))
	if err != nil {
		return nil, err
	}

	logger.Debug("Session refreshed", zap.String("session_id", sessionID))

	return &RefreshResponse{
		Message:   "Token refreshed successfully",
		Token:     token,
		ExpiresIn: int(manager.TTL().Seconds()),
	}, nil
}

func (a *AuthController) me(ctx *pipeline.Context) (any, error) {
	manager, _ := pipeline.Injected(ctx, di.SessionManagerKey)

	sessionID, denied := bearerSession(ctx, manager)
	if denied != nil {
		return denied, nil
	}

	user, _, err := manager.ValidateSession(ctx.Context(), sessionID)
	if err != nil {
		if types.IsError(err, types.ErrSessionState) {
			return types.Unauthorized("Session expired"), nil
		}
		return nil, err
	}

	return map[string]any{"user": user}, nil
}

// bearerSession reads the session id from the Authorization header only.
func bearerSession(ctx *pipeline.Context, manager *session.Manager) (string, *types.ErrorResponse) {
	raw, ok := request.FromArg(ctx.Arg(0))
	if !ok {
		return "", types.Unauthorized("Authorization header required")
	}

	token, ok := session.ExtractBearer(raw, "")
	if !ok {
		return "", types.Unauthorized("Authorization header required")
	}

	claims, err := manager.DecodeToken(token)
	if err != nil {
		return "", types.Unauthorized("Invalid token")
	}

	sessionID := session.SessionIDFromClaims(claims)
	if sessionID == "" {
		return "", types.Unauthorized("Invalid token")
	}

	return sessionID, nil
}

func clientInfo(ctx *pipeline.Context) session.ClientInfo {
	raw, ok := pipeline.RawRequestKey.Get(ctx)
	if !ok || raw == nil {
		return session.ClientInfo{}
	}

	return session.ClientInfo{
		IPAddress:  raw.RemoteAddr(),
		UserAgent:  raw.UserAgent(),
		DeviceInfo: raw.Header("X-Device-Info"),
	}
}
