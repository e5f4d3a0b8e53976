package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/metrics"
	"github.com/saiset-co/sai-pipeline/types"
	"github.com/saiset-co/sai-pipeline/utils"
)

// Store persists an audit trail of sessions. It is optional.
type Store interface {
	Record(ctx context.Context, audit types.SessionAudit) error
	Touch(ctx context.Context, sessionID string, expiresAt time.Time) error
	Revoke(ctx context.Context, sessionID string) error
}

type ClientInfo struct {
	IPAddress  string
	UserAgent  string
	DeviceInfo string
}

type Session struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn int       `json:"expires_in"`
}

// Manager creates, validates, refreshes and invalidates sessions held as a
// pair of cache entries per session id.
type Manager struct {
	cache   types.SessionCache
	codec   *TokenCodec
	logger  types.Logger
	metrics *metrics.Registry
	store   Store
	timeout time.Duration
	newID   func() string
}

type Option func(*Manager)

func WithStore(store Store) Option {
	return func(m *Manager) {
		m.store = store
	}
}

func WithMetrics(registry *metrics.Registry) Option {
	return func(m *Manager) {
		m.metrics = registry
	}
}

const DefaultTimeout = 2 * time.Second

// WithTimeout bounds every cache and store call made by the manager. A
// non-positive timeout keeps the default; calls are never unbounded.
func WithTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		m.newID = newID
	}
}

func NewManager(cache types.SessionCache, codec *TokenCodec, logger types.Logger, opts ...Option) (*Manager, error) {
	if cache == nil {
		return nil, types.Errorf(types.ErrConfiguration, "session cache is nil")
	}
	if codec == nil {
		return nil, types.Errorf(types.ErrConfiguration, "token codec is nil")
	}

	m := &Manager{
		cache:   cache,
		codec:   codec,
		logger:  logger,
		timeout: DefaultTimeout,
		newID:   uuid.NewString,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

func (m *Manager) TTL() time.Duration {
	return m.codec.TTL()
}

func (m *Manager) Cache() types.SessionCache {
	return m.cache
}

// CreateSession stores both context entries and issues a token. When the
// organisation entry cannot be written the user entry is removed again.
func (m *Manager) CreateSession(ctx context.Context, user types.UserContext, org types.OrgContext, client ClientInfo) (*Session, error) {
	sessionID := m.newID()
	ttl := m.codec.TTL()

	userData, err := utils.Marshal(user)
	if err != nil {
		return nil, types.WrapError(err, "failed to encode user context")
	}

	orgData, err := utils.Marshal(org)
	if err != nil {
		return nil, types.WrapError(err, "failed to encode organization context")
	}

	opCtx, cancel := m.withTimeout(ctx)
	defer cancel()

	if err := m.cache.SetEx(opCtx, UserContextKey(sessionID), userData, ttl); err != nil {
		m.metrics.SessionEvent("create", false)
		return nil, types.WrapError(err, "failed to store user context")
	}

	if err := m.cache.SetEx(opCtx, OrgContextKey(sessionID), orgData, ttl); err != nil {
		if _, delErr := m.cache.Delete(opCtx, UserContextKey(sessionID)); delErr != nil {
			m.logger.Warn("Failed to clean up user context", zap.String("session_id", sessionID), zap.Error(delErr))
		}
		m.metrics.SessionEvent("create", false)
		return nil, types.WrapError(err, "failed to store organization context")
	}

	token, expiresAt, err := m.codec.Generate(sessionID, user.UserID, user.Username)
	if err != nil {
		m.metrics.SessionEvent("create", false)
		return nil, err
	}

	if m.store != nil {
		audit := types.SessionAudit{
			SessionID:  sessionID,
			UserID:     user.UserID,
			IPAddress:  client.IPAddress,
			UserAgent:  client.UserAgent,
			DeviceInfo: client.DeviceInfo,
			LoginTime:  expiresAt.Add(-ttl),
			ExpiresAt:  expiresAt,
		}
		if err := m.store.Record(opCtx, audit); err != nil {
			m.logger.Warn("Failed to record session audit", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	m.metrics.SessionEvent("create", true)
	m.logger.Info("Session created", zap.String("session_id", sessionID), zap.String("user_id", user.UserID))

	return &Session{
		SessionID: sessionID,
		Token:     token,
		ExpiresAt: expiresAt,
		ExpiresIn: int(ttl.Seconds()),
	}, nil
}

// ValidateSession loads both context entries. A missing or undecodable
// entry is a session state error; an unreachable cache is reported as is.
func (m *Manager) ValidateSession(ctx context.Context, sessionID string) (types.Record, types.Record, error) {
	if sessionID == "" {
		return nil, nil, types.Errorf(types.ErrSessionState, "session id is empty")
	}

	opCtx, cancel := m.withTimeout(ctx)
	defer cancel()

	user, err := m.loadRecord(opCtx, UserContextKey(sessionID))
	if err != nil {
		return nil, nil, err
	}

	org, err := m.loadRecord(opCtx, OrgContextKey(sessionID))
	if err != nil {
		return nil, nil, err
	}

	return user, org, nil
}

// RefreshSession extends both entries to a full lifetime. Both extensions
// are always attempted; the result is true only when both succeed.
func (m *Manager) RefreshSession(ctx context.Context, sessionID string) (bool, error) {
	opCtx, cancel := m.withTimeout(ctx)
	defer cancel()

	if _, err := m.cache.Get(opCtx, UserContextKey(sessionID)); err != nil {
		if types.IsError(err, types.ErrCacheNotFound) {
			m.logger.Warn("Refresh requested for unknown session", zap.String("session_id", sessionID))
			m.metrics.SessionEvent("refresh", false)
			return false, nil
		}
		m.metrics.SessionEvent("refresh", false)
		return false, err
	}

	ttl := m.codec.TTL()
	userOK, userErr := m.cache.Expire(opCtx, UserContextKey(sessionID), ttl)
	orgOK, orgErr := m.cache.Expire(opCtx, OrgContextKey(sessionID), ttl)

	userOK = userOK && userErr == nil
	orgOK = orgOK && orgErr == nil
	ok := userOK && orgOK

	if userOK != orgOK {
		m.logger.Warn("Session partially refreshed",
			zap.String("session_id", sessionID),
			zap.Bool("user_context", userOK),
			zap.Bool("org_context", orgOK))
	}

	if ok && m.store != nil {
		if err := m.store.Touch(opCtx, sessionID, time.Now().Add(ttl)); err != nil {
			m.logger.Warn("Failed to touch session audit", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	m.metrics.SessionEvent("refresh", ok)

	return ok, errors.Join(userErr, orgErr)
}

// InvalidateSession deletes both entries. Both deletions are always
// attempted; the result is true only when both entries existed and were
// removed.
func (m *Manager) InvalidateSession(ctx context.Context, sessionID string) (bool, error) {
	opCtx, cancel := m.withTimeout(ctx)
	defer cancel()

	userOK, userErr := m.cache.Delete(opCtx, UserContextKey(sessionID))
	orgOK, orgErr := m.cache.Delete(opCtx, OrgContextKey(sessionID))

	userOK = userOK && userErr == nil
	orgOK = orgOK && orgErr == nil
	ok := userOK && orgOK

	if userOK != orgOK {
		m.logger.Warn("Session partially invalidated",
			zap.String("session_id", sessionID),
			zap.Bool("user_context", userOK),
			zap.Bool("org_context", orgOK))
	}

	if m.store != nil {
		if err := m.store.Revoke(opCtx, sessionID); err != nil {
			m.logger.Warn("Failed to revoke session audit", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	m.metrics.SessionEvent("invalidate", ok)

	return ok, errors.Join(userErr, orgErr)
}

func (m *Manager) GenerateToken(sessionID, userID, username string) (string, time.Time, error) {
	return m.codec.Generate(sessionID, userID, username)
}

func (m *Manager) DecodeToken(token string) (types.Record, error) {
	return m.codec.Decode(token)
}

func (m *Manager) loadRecord(ctx context.Context, key string) (types.Record, error) {
	data, err := m.cache.Get(ctx, key)
	if err != nil {
		if types.IsError(err, types.ErrCacheNotFound) {
			return nil, types.Errorf(types.ErrSessionState, "%s not found", key)
		}
		return nil, err
	}

	var record types.Record
	if err := utils.Unmarshal(data, &record); err != nil || record == nil {
		m.logger.Error("Failed to decode session entry", zap.String("key", key), zap.Error(err))
		return nil, types.Errorf(types.ErrSessionState, "%s is malformed", key)
	}

	return record, nil
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, m.timeout)
}

// Timeout is the bound applied to each cache and store call.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}
