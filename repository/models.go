package repository

import (
	"database/sql"
	"time"
)

type User struct {
	ID           string    `db:"id" json:"user_id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	IsVerified   bool      `db:"is_verified" json:"is_verified"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

type Organization struct {
	ID          string         `db:"id" json:"org_id"`
	Name        string         `db:"name" json:"org_name"`
	Slug        string         `db:"slug" json:"org_slug"`
	Description sql.NullString `db:"description" json:"-"`
	IsActive    bool           `db:"is_active" json:"is_active"`
	IsPublic    bool           `db:"is_public" json:"is_public"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

type Membership struct {
	ID             string         `db:"id"`
	UserID         string         `db:"user_id"`
	OrganizationID string         `db:"organization_id"`
	Role           string         `db:"role"`
	Permissions    sql.NullString `db:"permissions"`
	IsActive       bool           `db:"is_active"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// OrgMembership is a membership joined with its organization.
type OrgMembership struct {
	Organization
	Role        string         `db:"role"`
	Permissions sql.NullString `db:"permissions"`
}

type SessionRecord struct {
	SessionID    string         `db:"session_id"`
	UserID       string         `db:"user_id"`
	IPAddress    sql.NullString `db:"ip_address"`
	UserAgent    sql.NullString `db:"user_agent"`
	DeviceInfo   sql.NullString `db:"device_info"`
	LoginTime    time.Time      `db:"login_time"`
	LastActivity time.Time      `db:"last_activity"`
	ExpiresAt    time.Time      `db:"expires_at"`
	IsActive     bool           `db:"is_active"`
	IsRevoked    bool           `db:"is_revoked"`
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
