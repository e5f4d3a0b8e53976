package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-pipeline/database"
	"github.com/saiset-co/sai-pipeline/logger"
	"github.com/saiset-co/sai-pipeline/types"
)

func newMockDB(t *testing.T) (*database.Manager, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return database.NewFromDB(sqlx.NewDb(db, database.DriverPostgres), database.DriverPostgres, time.Second, logger.NewNop()), mock
}

func userRow(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(userColumns).
		AddRow("u1", "bob", "bob@example.com", "Bob", "Smith", "hash", true, false, now, now)
}

func TestFilterOneBuildsSortedWhere(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM users WHERE is_active = $1 AND username = $2 LIMIT 1")).
		WithArgs(true, "bob").
		WillReturnRows(userRow(now))

	user, err := repo.FilterOne(context.Background(), Filters{"username": "bob", "is_active": true})

	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "bob@example.com", user.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFilterOneNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM users WHERE email = $1 LIMIT 1")).
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows(userColumns))

	_, err := repo.GetByEmail(context.Background(), "nobody@example.com")

	assert.ErrorIs(t, err, types.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFilterRejectsUnknownColumn(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewUserRepository(db)

	_, err := repo.FilterBy(context.Background(), Filters{"password; DROP TABLE users": 1})

	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestCountAndDelete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrganizationRepository(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM organizations WHERE is_active = $1 AND is_public = $2")).
		WithArgs(true, true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM organizations WHERE id = $1")).
		WithArgs("o1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	count, err := repo.Count(ctx, Filters{"is_active": true, "is_public": true})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	deleted, err := repo.Delete(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, deleted)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryFailureIsDependencyUnavailable(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM users ORDER BY id LIMIT $1 OFFSET $2")).
		WithArgs(100, 0).
		WillReturnError(assert.AnError)

	_, err := repo.List(context.Background(), 0, 0)

	assert.ErrorIs(t, err, types.ErrDependencyUnavailable)
}

func TestSessionRevoke(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET is_active = $1, is_revoked = $2 WHERE session_id = $3")).
		WithArgs(false, true, "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM sessions WHERE session_id = $1 LIMIT 1")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(sessionColumns).
			AddRow("s1", "u1", nil, nil, nil, now, now, now, false, true))

	require.NoError(t, repo.Revoke(context.Background(), "s1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionPurgeExpired(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepository(db)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE expires_at < $1 OR is_revoked = $2")).
		WithArgs(now.UTC(), true).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.PurgeExpired(context.Background(), now)

	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
}

func TestSeedAndAuthenticateOnSQLite(t *testing.T) {
	ctx := context.Background()

	db, err := database.Open(ctx, types.DatabaseSettings{Fallback: true}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	users := NewUserRepository(db)
	orgs := NewOrganizationRepository(db)

	require.NoError(t, SeedDemo(ctx, users, orgs, logger.NewNop()))
	require.NoError(t, SeedDemo(ctx, users, orgs, logger.NewNop()))

	user, err := users.Authenticate(ctx, DemoUsername, DemoPassword)
	require.NoError(t, err)
	assert.Equal(t, DemoUserID, user.ID)

	_, err = users.Authenticate(ctx, DemoUsername, "wrong")
	assert.ErrorIs(t, err, types.ErrAuthentication)

	_, err = users.Authenticate(ctx, "ghost", DemoPassword)
	assert.ErrorIs(t, err, types.ErrAuthentication)

	memberships, err := users.Memberships(ctx, DemoUserID)
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	assert.Equal(t, "Demo Organization", memberships[0].Name)
	assert.Equal(t, "member", memberships[0].Role)
	assert.Equal(t, DemoPermissions, memberships[0].PermissionList())

	org, err := orgs.GetBySlug(ctx, DemoOrgSlug)
	require.NoError(t, err)
	assert.Equal(t, DemoOrgID, org.ID)
}

func TestSessionAuditOnSQLite(t *testing.T) {
	ctx := context.Background()

	db, err := database.Open(ctx, types.DatabaseSettings{Fallback: true}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sessions := NewSessionRepository(db)
	now := time.Now().UTC()

	require.NoError(t, sessions.Record(ctx, types.SessionAudit{
		SessionID: "live", UserID: "u1", IPAddress: "10.0.0.1", LoginTime: now, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, sessions.Record(ctx, types.SessionAudit{
		SessionID: "stale", UserID: "u1", LoginTime: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}))

	active, err := sessions.ActiveForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	purged, err := sessions.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	require.NoError(t, sessions.Revoke(ctx, "live"))
	record, err := sessions.Get(ctx, "live")
	require.NoError(t, err)
	assert.True(t, record.IsRevoked)
	assert.Equal(t, "10.0.0.1", record.IPAddress.String)
}
