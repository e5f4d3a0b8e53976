package controllers

import (
	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/di"
	"github.com/saiset-co/sai-pipeline/middleware"
	"github.com/saiset-co/sai-pipeline/pipeline"
	"github.com/saiset-co/sai-pipeline/server"
	"github.com/saiset-co/sai-pipeline/types"
)

var featureMap = map[string]string{
	"org:read":       "View organization details",
	"org:write":      "Modify organization settings",
	"user:read":      "View user profiles",
	"user:write":     "Modify user accounts",
	"greeting:read":  "View greetings",
	"greeting:write": "Create greetings",
}

type AuthenticatedHelloResponse struct {
	Message      string   `json:"message"`
	Organization string   `json:"organization"`
	SessionID    string   `json:"session_id"`
	Permissions  []string `json:"permissions"`
	Roles        []string `json:"roles"`
}

type ProfileResponse struct {
	UserID       string              `json:"user_id"`
	Username     string              `json:"username"`
	Organization OrganizationSummary `json:"organization"`
	Permissions  []string            `json:"permissions"`
	Roles        []string            `json:"roles"`
}

type OrgInfoResponse struct {
	OrgID              string   `json:"org_id"`
	OrgName            string   `json:"org_name"`
	UserRole           []string `json:"user_role"`
	AccessibleFeatures []string `json:"accessible_features"`
}

type AuthenticatedController struct {
	pipeline *pipeline.Pipeline
}

// NewAuthenticatedController takes the authenticated stack; org-info adds
// its own permission check on top.
func NewAuthenticatedController(p *pipeline.Pipeline) *AuthenticatedController {
	return &AuthenticatedController{pipeline: p}
}

func (a *AuthenticatedController) Register(app types.WebApp) error {
	orgReaders, err := a.pipeline.Append(middleware.RequirePermission("org:read"))
	if err != nil {
		return err
	}

	routes := []struct {
		method   string
		path     string
		pipeline *pipeline.Pipeline
		handler  *pipeline.Handler
	}{
		{"POST", "/hello", a.pipeline, pipeline.Typed("authenticated_hello", a.hello, di.LoggerKey)},
		{"GET", "/profile", a.pipeline, pipeline.Untyped("profile", a.profile)},
		{"GET", "/org-info", orgReaders, pipeline.Untyped("org_info", a.orgInfo)},
	}

	group := server.NewGroup(app, "/authenticated")
	for _, route := range routes {
		composed, err := route.pipeline.Wrap(route.handler)
		if err != nil {
			return err
		}
		group.Route(route.method, route.path, composed)
	}

	return nil
}

func (a *AuthenticatedController) hello(ctx *pipeline.Context, _ *GreetingRequest) (any, error) {
	info, err := sessionInfo(ctx)
	if err != nil {
		return nil, err
	}

	if logger, ok := pipeline.Injected(ctx, di.LoggerKey); ok {
		logger.Info("Authenticated hello",
			zap.String("username", info.Username),
			zap.String("organization", info.OrgName))
	}

	return &AuthenticatedHelloResponse{
		Message:      "Hello " + info.Username + "!",
		Organization: info.OrgName,
		SessionID:    info.SessionID,
		Permissions:  info.Permissions,
		Roles:        info.Roles,
	}, nil
}

func (a *AuthenticatedController) profile(ctx *pipeline.Context) (any, error) {
	info, err := sessionInfo(ctx)
	if err != nil {
		return nil, err
	}

	return &ProfileResponse{
		UserID:       info.UserID,
		Username:     info.Username,
		Organization: OrganizationSummary{OrgID: info.OrgID, OrgName: info.OrgName},
		Permissions:  info.Permissions,
		Roles:        info.Roles,
	}, nil
}

func (a *AuthenticatedController) orgInfo(ctx *pipeline.Context) (any, error) {
	info, err := sessionInfo(ctx)
	if err != nil {
		return nil, err
	}

	return &OrgInfoResponse{
		OrgID:              info.OrgID,
		OrgName:            info.OrgName,
		UserRole:           info.Roles,
		AccessibleFeatures: AccessibleFeatures(info.Permissions),
	}, nil
}

// AccessibleFeatures describes the known permissions in the order given.
func AccessibleFeatures(permissions []string) []string {
	features := make([]string, 0, len(permissions))
	for _, permission := range permissions {
		if feature, ok := featureMap[permission]; ok {
			features = append(features, feature)
		}
	}
	return features
}

func sessionInfo(ctx *pipeline.Context) (*types.SessionInfo, error) {
	info, ok := pipeline.SessionInfoKey.Get(ctx)
	if !ok || info == nil {
		return nil, types.Errorf(types.ErrSessionState, "session info missing for %s", ctx.Handler().Name)
	}
	return info, nil
}
