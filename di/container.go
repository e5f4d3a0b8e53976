package di

import (
	"context"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/cache"
	"github.com/saiset-co/sai-pipeline/container"
	"github.com/saiset-co/sai-pipeline/cron"
	"github.com/saiset-co/sai-pipeline/database"
	"github.com/saiset-co/sai-pipeline/health"
	"github.com/saiset-co/sai-pipeline/logger"
	"github.com/saiset-co/sai-pipeline/metrics"
	"github.com/saiset-co/sai-pipeline/repository"
	"github.com/saiset-co/sai-pipeline/server"
	"github.com/saiset-co/sai-pipeline/session"
	saitls "github.com/saiset-co/sai-pipeline/tls"
	"github.com/saiset-co/sai-pipeline/types"
)

// Module registers providers on a container. Modules passed to
// BuildContainer run after the defaults and may replace any of them.
type Module func(c *container.Container)

// BuildContainer registers every well-known capability as a lazy singleton.
// Nothing touches the network until a key is first resolved.
func BuildContainer(ctx context.Context, settings *types.Settings, modules ...Module) (*container.Container, error) {
	if settings == nil {
		return nil, types.Errorf(types.ErrConfiguration, "settings are missing")
	}

	c := container.New()

	container.ProvideValue(c, SettingsKey, settings)

	CoreModule(c)
	StorageModule(ctx)(c)
	SessionModule(c)
	AppModule(ctx)(c)

	for _, module := range modules {
		module(c)
	}

	return c, nil
}

func CoreModule(c *container.Container) {
	container.Provide(c, LoggerKey, container.Singleton, func(r container.Resolver) (types.Logger, error) {
		settings, err := container.Resolve(r, SettingsKey)
		if err != nil {
			return nil, err
		}

		manager, err := logger.NewManager(settings.LoggerName, &settings.Logger)
		if err != nil {
			return nil, err
		}
		return manager, nil
	})

	container.Provide(c, MetricsKey, container.Singleton, func(r container.Resolver) (*metrics.Registry, error) {
		settings, err := container.Resolve(r, SettingsKey)
		if err != nil {
			return nil, err
		}
		return metrics.New(settings.Metrics), nil
	})

	container.Provide(c, ValidatorKey, container.Singleton, func(r container.Resolver) (*validator.Validate, error) {
		return NewValidator(), nil
	})
}

func StorageModule(ctx context.Context) Module {
	return func(c *container.Container) {
		container.Provide(c, CacheKey, container.Singleton, func(r container.Resolver) (types.SessionCache, error) {
			settings, log, err := settingsAndLogger(r)
			if err != nil {
				return nil, err
			}

			registry, err := container.Resolve(r, MetricsKey)
			if err != nil {
				return nil, err
			}

			return cache.New(settings, log, registry)
		})

		container.Provide(c, DatabaseKey, container.Singleton, func(r container.Resolver) (*database.Manager, error) {
			settings, log, err := settingsAndLogger(r)
			if err != nil {
				return nil, err
			}

			db, err := database.Open(ctx, settings.Database, log)
			if err != nil {
				return nil, err
			}

			log.Info("Database ready", zap.String("driver", db.Driver()))

			if settings.Database.SeedDemo {
				users := repository.NewUserRepository(db)
				orgs := repository.NewOrganizationRepository(db)
				if err := repository.SeedDemo(ctx, users, orgs, log); err != nil {
					_ = db.Close()
					return nil, types.WrapError(err, "failed to seed demo data")
				}
			}

			return db, nil
		})

		container.Provide(c, UserRepositoryKey, container.Singleton, func(r container.Resolver) (*repository.UserRepository, error) {
			db, err := container.Resolve(r, DatabaseKey)
			if err != nil {
				return nil, err
			}
			return repository.NewUserRepository(db), nil
		})

		container.Provide(c, OrganizationRepositoryKey, container.Singleton, func(r container.Resolver) (*repository.OrganizationRepository, error) {
			db, err := container.Resolve(r, DatabaseKey)
			if err != nil {
				return nil, err
			}
			return repository.NewOrganizationRepository(db), nil
		})

		container.Provide(c, SessionRepositoryKey, container.Singleton, func(r container.Resolver) (*repository.SessionRepository, error) {
			db, err := container.Resolve(r, DatabaseKey)
			if err != nil {
				return nil, err
			}
			return repository.NewSessionRepository(db), nil
		})
	}
}

func SessionModule(c *container.Container) {
	container.Provide(c, TokenCodecKey, container.Singleton, func(r container.Resolver) (*session.TokenCodec, error) {
		settings, err := container.Resolve(r, SettingsKey)
		if err != nil {
			return nil, err
		}
		return session.NewTokenCodec(settings.JWT)
	})

	container.Provide(c, SessionManagerKey, container.Singleton, func(r container.Resolver) (*session.Manager, error) {
		settings, log, err := settingsAndLogger(r)
		if err != nil {
			return nil, err
		}

		sessionCache, err := container.Resolve(r, CacheKey)
		if err != nil {
			return nil, err
		}

		codec, err := container.Resolve(r, TokenCodecKey)
		if err != nil {
			return nil, err
		}

		registry, err := container.Resolve(r, MetricsKey)
		if err != nil {
			return nil, err
		}

		opts := []session.Option{
			session.WithMetrics(registry),
			session.WithTimeout(settings.Redis.OpTimeout),
		}

		if settings.Session.Audit {
			store, err := container.Resolve(r, SessionRepositoryKey)
			if err != nil {
				return nil, err
			}
			opts = append(opts, session.WithStore(store))
		}

		return session.NewManager(sessionCache, codec, log, opts...)
	})
}

func AppModule(ctx context.Context) Module {
	return func(c *container.Container) {
		container.Provide(c, TLSKey, container.Singleton, func(r container.Resolver) (*saitls.CertManager, error) {
			settings, log, err := settingsAndLogger(r)
			if err != nil {
				return nil, err
			}
			if !settings.TLS.Enabled {
				return nil, nil
			}
			return saitls.NewCertManager(settings.TLS, log)
		})

		container.Provide(c, WebAppKey, container.Singleton, func(r container.Resolver) (types.WebApp, error) {
			settings, log, err := settingsAndLogger(r)
			if err != nil {
				return nil, err
			}

			certs, err := container.Resolve(r, TLSKey)
			if err != nil {
				return nil, err
			}

			var opts []server.Option
			if certs != nil {
				opts = append(opts, server.WithTLS(certs.TLSConfig()))
			}

			return server.New(settings.WebFramework, settings.Addr(), log, opts...)
		})

		container.Provide(c, CronKey, container.Singleton, func(r container.Resolver) (types.CronManager, error) {
			settings, log, err := settingsAndLogger(r)
			if err != nil {
				return nil, err
			}

			registry, err := container.Resolve(r, MetricsKey)
			if err != nil {
				return nil, err
			}

			return cron.NewManager(ctx, settings.Cron, log, registry), nil
		})

		container.Provide(c, HealthKey, container.Singleton, func(r container.Resolver) (*health.Manager, error) {
			settings, log, err := settingsAndLogger(r)
			if err != nil {
				return nil, err
			}

			sessionCache, err := container.Resolve(r, CacheKey)
			if err != nil {
				return nil, err
			}

			db, err := container.Resolve(r, DatabaseKey)
			if err != nil {
				return nil, err
			}

			manager := health.NewManager(types.ServiceInfo{
				Name:      settings.LoggerName,
				Framework: settings.WebFramework,
				Address:   settings.Addr(),
			}, log, settings.Database.ProbeTimeout)

			manager.RegisterChecker("cache", sessionCache.Ping)
			manager.RegisterChecker("database", db.Ping)

			certs, err := container.Resolve(r, TLSKey)
			if err != nil {
				return nil, err
			}
			if certs != nil {
				manager.RegisterChecker("tls", certs.Check)
			}

			return manager, nil
		})
	}
}

// NewValidator reports field names by their json tag so messages match the
// request payload.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return field.Name
		}
		return name
	})

	return v
}

func settingsAndLogger(r container.Resolver) (*types.Settings, types.Logger, error) {
	settings, err := container.Resolve(r, SettingsKey)
	if err != nil {
		return nil, nil, err
	}

	log, err := container.Resolve(r, LoggerKey)
	if err != nil {
		return nil, nil, err
	}

	return settings, log, nil
}
