package di

import (
	"github.com/go-playground/validator/v10"

	"github.com/saiset-co/sai-pipeline/container"
	"github.com/saiset-co/sai-pipeline/database"
	"github.com/saiset-co/sai-pipeline/health"
	"github.com/saiset-co/sai-pipeline/metrics"
	"github.com/saiset-co/sai-pipeline/repository"
	"github.com/saiset-co/sai-pipeline/session"
	saitls "github.com/saiset-co/sai-pipeline/tls"
	"github.com/saiset-co/sai-pipeline/types"
)

// Well-known capability keys. Middleware and handlers declare these; the
// container built by BuildContainer provides all of them.
var (
	SettingsKey               = container.NewKey[*types.Settings]("settings")
	LoggerKey                 = container.NewKey[types.Logger]("logger")
	MetricsKey                = container.NewKey[*metrics.Registry]("metrics")
	ValidatorKey              = container.NewKey[*validator.Validate]("validator")
	CacheKey                  = container.NewKey[types.SessionCache]("cache")
	DatabaseKey               = container.NewKey[*database.Manager]("database")
	UserRepositoryKey         = container.NewKey[*repository.UserRepository]("user_repository")
	OrganizationRepositoryKey = container.NewKey[*repository.OrganizationRepository]("organization_repository")
	SessionRepositoryKey      = container.NewKey[*repository.SessionRepository]("session_repository")
	TokenCodecKey             = container.NewKey[*session.TokenCodec]("token_codec")
	SessionManagerKey         = container.NewKey[*session.Manager]("session_manager")
	WebAppKey                 = container.NewKey[types.WebApp]("web_app")
	CronKey                   = container.NewKey[types.CronManager]("cron")
	HealthKey                 = container.NewKey[*health.Manager]("health")

	// TLSKey resolves to nil when TLS is disabled.
	TLSKey = container.NewKey[*saitls.CertManager]("tls")
)
