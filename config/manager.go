package config

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/saiset-co/sai-pipeline/types"
)

// Manager keeps the current settings and can reload them from the same
// sources.
type Manager struct {
	loader      *Loader
	configPath  string
	settings    atomic.Pointer[types.Settings]
	loadTimeout time.Duration
}

func NewManager(ctx context.Context, configPath string, envFiles ...string) (*Manager, error) {
	m := &Manager{
		loader:      NewLoader(envFiles...),
		configPath:  configPath,
		loadTimeout: 30 * time.Second,
	}

	if err := m.Reload(ctx); err != nil {
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return m, nil
}

// FromSettings wraps already built settings after validating them.
func FromSettings(settings *types.Settings) (*Manager, error) {
	m := &Manager{loader: NewLoader()}

	if err := m.loader.Validate(settings); err != nil {
		return nil, err
	}

	m.settings.Store(settings)

	return m, nil
}

func (m *Manager) Reload(ctx context.Context) error {
	loadCtx, cancel := context.WithTimeout(ctx, m.loadTimeout)
	defer cancel()

	settings, err := m.loader.Load(loadCtx, m.configPath)
	if err != nil {
		return err
	}

	m.settings.Store(settings)

	return nil
}

func (m *Manager) Settings() *types.Settings {
	return m.settings.Load()
}
