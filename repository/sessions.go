package repository

import (
	"context"
	"time"

	"github.com/saiset-co/sai-pipeline/database"
	"github.com/saiset-co/sai-pipeline/types"
)

var sessionColumns = []string{
	"session_id", "user_id", "ip_address", "user_agent", "device_info",
	"login_time", "last_activity", "expires_at", "is_active", "is_revoked",
}

// SessionRepository keeps the audit trail of sessions whose live state is in
// the cache.
type SessionRepository struct {
	*Base[SessionRecord]
}

func NewSessionRepository(db *database.Manager) *SessionRepository {
	return &SessionRepository{Base: NewBase[SessionRecord](db, "sessions", "session_id", sessionColumns...)}
}

func (r *SessionRepository) Record(ctx context.Context, audit types.SessionAudit) error {
	record := SessionRecord{
		SessionID:    audit.SessionID,
		UserID:       audit.UserID,
		IPAddress:    nullString(audit.IPAddress),
		UserAgent:    nullString(audit.UserAgent),
		DeviceInfo:   nullString(audit.DeviceInfo),
		LoginTime:    audit.LoginTime.UTC(),
		LastActivity: audit.LoginTime.UTC(),
		ExpiresAt:    audit.ExpiresAt.UTC(),
		IsActive:     true,
	}

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	_, err := r.db.DB().NamedExecContext(ctx, `INSERT INTO sessions
		(session_id, user_id, ip_address, user_agent, device_info, login_time, last_activity, expires_at, is_active, is_revoked)
		VALUES (:session_id, :user_id, :ip_address, :user_agent, :device_info, :login_time, :last_activity, :expires_at, :is_active, :is_revoked)`, record)
	if err != nil {
		return r.failed("insert", err)
	}

	return nil
}

func (r *SessionRepository) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	_, err := r.Update(ctx, sessionID, Filters{
		"last_activity": time.Now().UTC(),
		"expires_at":    expiresAt.UTC(),
	})
	return err
}

func (r *SessionRepository) Revoke(ctx context.Context, sessionID string) error {
	_, err := r.Update(ctx, sessionID, Filters{"is_active": false, "is_revoked": true})
	return err
}

func (r *SessionRepository) ActiveForUser(ctx context.Context, userID string) ([]SessionRecord, error) {
	return r.FilterBy(ctx, Filters{"user_id": userID, "is_active": true})
}

// PurgeExpired deletes revoked rows and rows that expired before now.
func (r *SessionRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	query := r.db.Rebind("DELETE FROM sessions WHERE expires_at < ? OR is_revoked = ?")

	res, err := r.db.DB().ExecContext(ctx, query, now.UTC(), true)
	if err != nil {
		return 0, r.failed("purge", err)
	}

	return res.RowsAffected()
}
