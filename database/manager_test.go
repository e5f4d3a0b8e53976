package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-pipeline/logger"
	"github.com/saiset-co/sai-pipeline/types"
)

func TestOpenFallsBackToSQLite(t *testing.T) {
	settings := types.DatabaseSettings{
		Host:         "127.0.0.1",
		Port:         1,
		Name:         "app_db",
		User:         "postgres",
		Fallback:     true,
		ProbeTimeout: 500 * time.Millisecond,
	}

	m, err := Open(context.Background(), settings, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	assert.Equal(t, DriverSQLite, m.Driver())

	var tables int
	require.NoError(t, m.DB().Get(&tables,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('users', 'organizations', 'user_organizations', 'sessions')"))
	assert.Equal(t, 4, tables)
}

func TestOpenWithoutFallbackFails(t *testing.T) {
	settings := types.DatabaseSettings{Host: "127.0.0.1", Port: 1, ProbeTimeout: 500 * time.Millisecond}

	_, err := Open(context.Background(), settings, logger.NewNop())

	assert.ErrorIs(t, err, types.ErrDatabaseConnectFailed)
}

func TestMigrateAppliesEveryStatement(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for range Schema {
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS")).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	m := NewFromDB(sqlx.NewDb(db, DriverPostgres), DriverPostgres, time.Second, logger.NewNop())

	require.NoError(t, m.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, "SELECT * FROM users WHERE id = $1", m.Rebind("SELECT * FROM users WHERE id = ?"))
}

func TestLifecycle(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	mock.ExpectPing()
	mock.ExpectClose()

	m := NewFromDB(sqlx.NewDb(db, DriverPostgres), DriverPostgres, time.Second, logger.NewNop())

	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
	assert.ErrorIs(t, m.Start(), types.ErrServerAlreadyRunning)

	require.NoError(t, m.Close())
	assert.False(t, m.IsRunning())
	assert.NoError(t, mock.ExpectationsWereMet())
}
