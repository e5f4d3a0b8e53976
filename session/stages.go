package session

import (
	"fmt"
	"slices"
	"strings"

	"github.com/saiset-co/sai-pipeline/types"
)

const (
	userContextPrefix = "user_context:"
	orgContextPrefix  = "org_context:"
	bearerPrefix      = "Bearer "
)

func UserContextKey(sessionID string) string {
	return userContextPrefix + sessionID
}

func OrgContextKey(sessionID string) string {
	return orgContextPrefix + sessionID
}

// ExtractBearer reads the credential from the Authorization header, falling
// back to the query parameter named queryName.
func ExtractBearer(req types.Request, queryName string) (string, bool) {
	if req == nil {
		return "", false
	}

	if header := req.Header("Authorization"); strings.HasPrefix(header, bearerPrefix) {
		if token := strings.TrimSpace(header[len(bearerPrefix):]); token != "" {
			return token, true
		}
	}

	if queryName != "" {
		if token := req.QueryValue(queryName); token != "" {
			return token, true
		}
	}

	return "", false
}

// SessionIDFromClaims looks for the session identifier under session_id,
// sid and sub, in that order.
func SessionIDFromClaims(claims types.Record) string {
	for _, key := range []string{"session_id", "sid", "sub"} {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case nil:
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func ValidateUserContext(user types.Record) error {
	for _, field := range []string{"user_id", "username", "email"} {
		if isBlank(user[field]) {
			return types.Errorf(types.ErrSessionState, "missing required user field: %s", field)
		}
	}

	for _, field := range []string{"permissions", "roles"} {
		if !isListOrAbsent(user[field]) {
			return types.Errorf(types.ErrSessionState, "user %s must be a list", field)
		}
	}

	return nil
}

func ValidateOrgContext(org types.Record) error {
	for _, field := range []string{"org_id", "org_name"} {
		if isBlank(org[field]) {
			return types.Errorf(types.ErrSessionState, "missing required organization field: %s", field)
		}
	}

	switch org["settings"].(type) {
	case nil, map[string]any, types.Record:
	default:
		return types.Errorf(types.ErrSessionState, "organization settings must be a mapping")
	}

	return nil
}

func AssembleSessionInfo(sessionID string, user, org types.Record) *types.SessionInfo {
	permissions := user.Strings("permissions")
	if permissions == nil {
		permissions = []string{}
	}

	roles := user.Strings("roles")
	if roles == nil {
		roles = []string{}
	}

	return &types.SessionInfo{
		SessionID:   sessionID,
		UserID:      fmt.Sprint(user["user_id"]),
		Username:    user.String("username"),
		OrgID:       fmt.Sprint(org["org_id"]),
		OrgName:     org.String("org_name"),
		Permissions: permissions,
		Roles:       roles,
	}
}

func HasPermission(info *types.SessionInfo, permission string) bool {
	return info != nil && slices.Contains(info.Permissions, permission)
}

func HasRole(info *types.SessionInfo, role string) bool {
	return info != nil && slices.Contains(info.Roles, role)
}

func isBlank(v any) bool {
	switch value := v.(type) {
	case nil:
		return true
	case string:
		return value == ""
	case bool:
		return !value
	case float64:
		return value == 0
	default:
		return false
	}
}

func isListOrAbsent(v any) bool {
	switch v.(type) {
	case nil, []any, []string:
		return true
	default:
		return false
	}
}
