package types

import "time"

// Record is a structured cache value, decoded from its JSON text form.
type Record map[string]any

func (r Record) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

func (r Record) Strings(key string) []string {
	switch v := r[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

type SessionInfo struct {
	SessionID   string   `json:"session_id"`
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	OrgID       string   `json:"org_id"`
	OrgName     string   `json:"org_name"`
	Permissions []string `json:"permissions"`
	Roles       []string `json:"roles"`
}

type UserContext struct {
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	FirstName   string   `json:"first_name,omitempty"`
	LastName    string   `json:"last_name,omitempty"`
	Permissions []string `json:"permissions"`
	Roles       []string `json:"roles"`
}

type OrgContext struct {
	OrgID    string         `json:"org_id"`
	OrgName  string         `json:"org_name"`
	OrgSlug  string         `json:"org_slug,omitempty"`
	Settings map[string]any `json:"settings"`
}

// SessionAudit is the persisted trace of a session, kept alongside the
// cache entries.
type SessionAudit struct {
	SessionID  string
	UserID     string
	IPAddress  string
	UserAgent  string
	DeviceInfo string
	LoginTime  time.Time
	ExpiresAt  time.Time
}
