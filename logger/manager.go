package logger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-pipeline/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type Manager struct {
	name            string
	logger          types.Logger
	state           atomic.Value
	shutdownTimeout time.Duration
}

var (
	creatorsMu            sync.RWMutex
	customLoggerCreators  = make(map[string]types.LoggerCreator)
	defaultShutdownPeriod = 5 * time.Second
)

func RegisterLogger(loggerType string, creator types.LoggerCreator) {
	creatorsMu.Lock()
	customLoggerCreators[loggerType] = creator
	creatorsMu.Unlock()
}

// NewManager builds the named application logger from settings.
func NewManager(name string, settings *types.LoggerSettings) (*Manager, error) {
	if settings == nil {
		return nil, types.Errorf(types.ErrConfiguration, "logger settings are missing")
	}

	logger, err := createLogger(name, settings)
	if err != nil {
		return nil, types.WrapError(err, "failed to create logger")
	}

	return newManager(name, logger), nil
}

// Wrap adopts an existing zap logger, mostly for tests.
func Wrap(name string, z *zap.Logger) *Manager {
	return newManager(name, NewZapWrapper(z.Named(name)))
}

func NewNop() *Manager {
	return newManager("nop", NewZapWrapper(zap.NewNop()))
}

func newManager(name string, logger types.Logger) *Manager {
	manager := &Manager{
		name:            name,
		logger:          logger,
		shutdownTimeout: defaultShutdownPeriod,
	}

	manager.state.Store(StateStopped)

	return manager
}

func (m *Manager) Name() string {
	return m.name
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	m.setState(StateRunning)

	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer m.setState(StateStopped)

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		default:
			m.Sync()
			return nil
		}
	})

	return g.Wait()
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

// Sync flushes buffered entries; errors from syncing a terminal are ignored.
func (m *Manager) Sync() {
	if syncer, ok := m.logger.(interface{ Sync() error }); ok {
		_ = syncer.Sync()
	}
}

func (m *Manager) Error(msg string, fields ...zap.Field) {
	m.logger.Error(msg, fields...)
}

func (m *Manager) ErrorWithErrStack(msg string, err error, fields ...zap.Field) {
	m.logger.ErrorWithErrStack(msg, err, fields...)
}

func (m *Manager) Warn(msg string, fields ...zap.Field) {
	m.logger.Warn(msg, fields...)
}

func (m *Manager) Info(msg string, fields ...zap.Field) {
	m.logger.Info(msg, fields...)
}

func (m *Manager) Debug(msg string, fields ...zap.Field) {
	m.logger.Debug(msg, fields...)
}

func (m *Manager) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	m.logger.Log(lvl, msg, fields...)
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

func createLogger(name string, settings *types.LoggerSettings) (types.Logger, error) {
	loggerType := "default"
	if settings.Type != "" {
		loggerType = settings.Type
	}

	if loggerType == "default" {
		return NewDefaultLogger(name, settings)
	}

	creatorsMu.RLock()
	creator, exists := customLoggerCreators[loggerType]
	creatorsMu.RUnlock()

	if !exists {
		return nil, types.Errorf(types.ErrLoggerTypeUnknown, "logger type: %s", loggerType)
	}

	return creator(settings)
}
