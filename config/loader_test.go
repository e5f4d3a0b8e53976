package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-pipeline/types"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	settings, err := NewLoader().Load(context.Background(), "")

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", settings.Host)
	assert.Equal(t, 8000, settings.Port)
	assert.Equal(t, "HS256", settings.JWT.Algorithm)
	assert.Equal(t, 24, settings.JWT.ExpiryHours)
	assert.Equal(t, 24*time.Hour, settings.JWT.TTL())
	assert.Equal(t, "localhost:6379", settings.Redis.Addr())
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeFile(t, "config.yml", `
port: 9000
web_framework: chi
redis:
  host: cache.internal
  op_timeout: 500ms
jwt:
  secret: yaml-secret-value
  expiry_hours: 2
`)
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("JWT_SECRET", "env-secret-value")

	settings, err := NewLoader().Load(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, 9000, settings.Port)
	assert.Equal(t, "chi", settings.WebFramework)
	assert.Equal(t, "cache.internal:6380", settings.Redis.Addr())
	assert.Equal(t, 500*time.Millisecond, settings.Redis.OpTimeout)
	assert.Equal(t, "env-secret-value", settings.JWT.Secret)
	assert.Equal(t, 2, settings.JWT.ExpiryHours)
}

func TestLoadDotEnvFile(t *testing.T) {
	envFile := writeFile(t, ".env", "DB_NAME=from_dotenv\n")
	t.Cleanup(func() { _ = os.Unsetenv("DB_NAME") })

	settings, err := NewLoader(envFile, filepath.Join(t.TempDir(), "missing.env")).Load(context.Background(), "")

	require.NoError(t, err)
	assert.Equal(t, "from_dotenv", settings.Database.Name)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), "/nonexistent/config.yml")

	assert.ErrorIs(t, err, types.ErrConfigNotFound)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeFile(t, "config.yml", "port: [unclosed")

	_, err := NewLoader().Load(context.Background(), path)

	assert.ErrorIs(t, err, types.ErrConfigParseFailed)
}

func TestValidationFailure(t *testing.T) {
	path := writeFile(t, "config.yml", "web_framework: flask\n")

	_, err := NewLoader().Load(context.Background(), path)

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestManagerFromSettings(t *testing.T) {
	settings := NewLoader().Defaults()

	m, err := FromSettings(settings)
	require.NoError(t, err)
	assert.Same(t, settings, m.Settings())

	settings.JWT.Secret = ""
	_, err = FromSettings(settings)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}
