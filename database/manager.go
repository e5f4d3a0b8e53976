package database

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"

	sqliteMemoryDSN = ":memory:"
)

// Manager owns the relational connection pool. It is created once by the
// container and handed out read-only to repositories.
type Manager struct {
	db           *sqlx.DB
	driver       string
	logger       types.Logger
	queryTimeout time.Duration
	state        atomic.Value
}

// Open connects to postgres and probes it with SELECT 1. When the probe fails
// and fallback is enabled an in-memory sqlite database is used instead. The
// schema is applied either way.
func Open(ctx context.Context, settings types.DatabaseSettings, logger types.Logger) (*Manager, error) {
	db, driver, err := connect(ctx, settings, logger)
	if err != nil {
		return nil, err
	}

	m := NewFromDB(db, driver, settings.QueryTimeout, logger)

	if err := m.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return m, nil
}

func NewFromDB(db *sqlx.DB, driver string, queryTimeout time.Duration, logger types.Logger) *Manager {
	m := &Manager{
		db:           db,
		driver:       driver,
		logger:       logger,
		queryTimeout: queryTimeout,
	}
	m.state.Store(StateStopped)
	return m
}

func connect(ctx context.Context, settings types.DatabaseSettings, logger types.Logger) (*sqlx.DB, string, error) {
	if settings.Host != "" {
		logger.Info("Database connecting",
			zap.String("host", settings.Host),
			zap.Int("port", settings.Port),
			zap.String("name", settings.Name))

		db, err := probePostgres(ctx, settings)
		if err == nil {
			logger.Info("Database connected", zap.String("driver", DriverPostgres))
			return db, DriverPostgres, nil
		}

		if !settings.Fallback {
			return nil, "", types.Errorf(types.ErrDatabaseConnectFailed, "postgres: %v", err)
		}

		logger.Warn("Failed to connect to database, falling back to in-memory sqlite", zap.Error(err))
	} else if !settings.Fallback {
		return nil, "", types.Errorf(types.ErrConfiguration, "database host is empty")
	}

	db, err := sqlx.Open(DriverSQLite, sqliteMemoryDSN)
	if err != nil {
		return nil, "", types.Errorf(types.ErrDatabaseConnectFailed, "sqlite: %v", err)
	}

	// every connection to :memory: is a new database
	db.SetMaxOpenConns(1)

	logger.Info("Using in-memory sqlite database")

	return db, DriverSQLite, nil
}

func probePostgres(ctx context.Context, settings types.DatabaseSettings) (*sqlx.DB, error) {
	db, err := sqlx.Open(DriverPostgres, settings.DSN())
	if err != nil {
		return nil, err
	}

	timeout := settings.ProbeTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var one int
	if err := db.GetContext(probeCtx, &one, "SELECT 1"); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func (m *Manager) DB() *sqlx.DB {
	return m.db
}

func (m *Manager) Driver() string {
	return m.driver
}

// Rebind converts ? placeholders to the bind style of the active driver.
func (m *Manager) Rebind(query string) string {
	return m.db.Rebind(query)
}

// WithTimeout derives a context bounded by the configured query timeout.
func (m *Manager) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if m.queryTimeout > 0 {
		return context.WithTimeout(ctx, m.queryTimeout)
	}
	return context.WithCancel(ctx)
}

func (m *Manager) Ping(ctx context.Context) error {
	ctx, cancel := m.WithTimeout(ctx)
	defer cancel()

	if err := m.db.PingContext(ctx); err != nil {
		return types.Errorf(types.ErrDependencyUnavailable, "database ping: %v", err)
	}
	return nil
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if err := m.Ping(context.Background()); err != nil {
		m.setState(StateStopped)
		return err
	}

	m.setState(StateRunning)
	m.logger.Info("Database manager started", zap.String("driver", m.driver))

	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer m.setState(StateStopped)

	if err := m.db.Close(); err != nil {
		m.logger.Error("Failed to close database", zap.Error(err))
		return err
	}

	m.logger.Info("Database manager stopped gracefully")
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

// Close releases the pool regardless of lifecycle state. The container calls
// it on shutdown.
func (m *Manager) Close() error {
	if m.getState() == StateRunning {
		return m.Stop()
	}
	return m.db.Close()
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) {
	m.state.Store(newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}
