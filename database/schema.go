package database

import (
	"context"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/types"
)

// Schema is portable between postgres and sqlite. Identifiers are opaque
// strings so session records can carry them verbatim.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            VARCHAR(64) PRIMARY KEY,
		username      VARCHAR(50) NOT NULL UNIQUE,
		email         VARCHAR(100) NOT NULL UNIQUE,
		first_name    VARCHAR(50) NOT NULL,
		last_name     VARCHAR(50) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		is_verified   BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS organizations (
		id          VARCHAR(64) PRIMARY KEY,
		name        VARCHAR(100) NOT NULL,
		slug        VARCHAR(50) NOT NULL UNIQUE,
		description TEXT,
		is_active   BOOLEAN NOT NULL DEFAULT TRUE,
		is_public   BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS user_organizations (
		id              VARCHAR(64) PRIMARY KEY,
		user_id         VARCHAR(64) NOT NULL REFERENCES users(id),
		organization_id VARCHAR(64) NOT NULL REFERENCES organizations(id),
		role            VARCHAR(50) NOT NULL DEFAULT 'member',
		permissions     VARCHAR(500),
		is_active       BOOLEAN NOT NULL DEFAULT TRUE,
		created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id    VARCHAR(255) PRIMARY KEY,
		user_id       VARCHAR(64) NOT NULL,
		ip_address    VARCHAR(45),
		user_agent    VARCHAR(500),
		device_info   VARCHAR(255),
		login_time    TIMESTAMP NOT NULL,
		last_activity TIMESTAMP NOT NULL,
		expires_at    TIMESTAMP NOT NULL,
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		is_revoked    BOOLEAN NOT NULL DEFAULT FALSE
	)`,
}

func (m *Manager) Migrate(ctx context.Context) error {
	ctx, cancel := m.WithTimeout(ctx)
	defer cancel()

	for _, stmt := range Schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return types.Errorf(types.ErrDatabaseConnectFailed, "apply schema: %v", err)
		}
	}

	m.logger.Debug("Database schema applied", zap.Int("tables", len(Schema)))

	return nil
}
