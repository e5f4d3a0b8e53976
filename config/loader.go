package config

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-pipeline/types"
)

type Loader struct {
	validator *validator.Validate
	envFiles  []string
}

func NewLoader(envFiles ...string) *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
		envFiles:  envFiles,
	}
}

// Load applies defaults, then the YAML file (when configPath is set), then
// .env files and process environment, and validates the result.
func (l *Loader) Load(ctx context.Context, configPath string) (*types.Settings, error) {
	settings := l.Defaults()

	if configPath != "" {
		if err := l.LoadFromFile(ctx, configPath, settings); err != nil {
			return nil, err
		}
	}

	if err := l.LoadEnv(settings); err != nil {
		return nil, err
	}

	if err := l.Validate(settings); err != nil {
		return nil, err
	}

	return settings, nil
}

func (l *Loader) LoadFromFile(ctx context.Context, configPath string, settings *types.Settings) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return types.Errorf(types.ErrConfigNotFound, "file not found: %s", configPath)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return types.WrapError(err, "failed to read config file")
	}

	if err := yaml.Unmarshal(data, settings); err != nil {
		return types.Errorf(types.ErrConfigParseFailed, "%s: %v", configPath, err)
	}

	return nil
}

// LoadEnv overlays environment variables. Missing .env files are not an
// error; variables already set in the process win over .env values.
func (l *Loader) LoadEnv(settings *types.Settings) error {
	for _, file := range l.envFiles {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return types.Errorf(types.ErrConfigParseFailed, "%s: %v", file, err)
		}
	}

	if err := envdecode.Decode(settings); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return types.Errorf(types.ErrConfigParseFailed, "environment: %v", err)
	}

	return nil
}

func (l *Loader) Validate(settings *types.Settings) error {
	if err := l.validator.Struct(settings); err != nil {
		return types.Errorf(types.ErrConfiguration, "%v: %v", types.ErrConfigValidateFailed, err)
	}
	return nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.Settings {
	return &types.Settings{
		Host:         "0.0.0.0",
		Port:         8000,
		Debug:        false,
		LoggerName:   "sai-pipeline",
		WebFramework: "fasthttp",
		Logger: types.LoggerSettings{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Redis: types.RedisSettings{
			Type:         "redis",
			Host:         "localhost",
			Port:         6379,
			DB:           0,
			PoolSize:     10,
			OpTimeout:    2 * time.Second,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			Breaker: types.BreakerSettings{
				Enabled:          true,
				FailureThreshold: 5,
				RecoveryTimeout:  10 * time.Second,
				HalfOpenRequests: 1,
			},
		},
		Database: types.DatabaseSettings{
			Host:         "localhost",
			Port:         5432,
			Name:         "app_db",
			User:         "postgres",
			Fallback:     true,
			ProbeTimeout: 5 * time.Second,
			QueryTimeout: 5 * time.Second,
			SeedDemo:     true,
		},
		JWT: types.JWTSettings{
			Secret:      "change-me-in-production",
			Algorithm:   "HS256",
			ExpiryHours: 24,
		},
		Session: types.SessionSettings{
			Audit:          true,
			CleanupSpec:    "0 */15 * * * *",
			TokenQueryName: "token",
		},
		Metrics: types.MetricsSettings{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "sai_pipeline",
		},
		Cron: types.CronSettings{
			Enabled:  true,
			Timezone: "UTC",
		},
		Docs: types.DocsSettings{
			Enabled: true,
			Path:    "/docs",
			Title:   "sai-pipeline",
		},
		TLS: types.TLSSettings{
			CacheDir: "./certs",
		},
	}
}
