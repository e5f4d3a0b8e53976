package types

import (
	"fmt"
	"time"
)

type Settings struct {
	Host         string `yaml:"host" json:"host" env:"HOST" validate:"required"`
	Port         int    `yaml:"port" json:"port" env:"PORT" validate:"min=1,max=65535"`
	Debug        bool   `yaml:"debug" json:"debug" env:"DEBUG"`
	LoggerName   string `yaml:"logger_name" json:"logger_name" env:"LOGGER_NAME" validate:"required"`
	WebFramework string `yaml:"web_framework" json:"web_framework" env:"WEB_FRAMEWORK" validate:"oneof=fasthttp chi"`

	Logger   LoggerSettings   `yaml:"logger" json:"logger"`
	Redis    RedisSettings    `yaml:"redis" json:"redis"`
	Database DatabaseSettings `yaml:"database" json:"database"`
	JWT      JWTSettings      `yaml:"jwt" json:"jwt"`
	Session  SessionSettings  `yaml:"session" json:"session"`
	Metrics  MetricsSettings  `yaml:"metrics" json:"metrics"`
	Cron     CronSettings     `yaml:"cron" json:"cron"`
	Docs     DocsSettings     `yaml:"docs" json:"docs"`
	TLS      TLSSettings      `yaml:"tls" json:"tls"`
}

type LoggerSettings struct {
	Type   string `yaml:"type" json:"type" env:"LOG_TYPE"`
	Level  string `yaml:"level" json:"level" env:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn warning error fatal"`
	Format string `yaml:"format" json:"format" env:"LOG_FORMAT" validate:"omitempty,oneof=console json"`
	Output string `yaml:"output" json:"output" env:"LOG_OUTPUT" validate:"omitempty,oneof=stdout stderr file"`
	File   string `yaml:"file" json:"file" env:"LOG_FILE" validate:"required_if=Output file"`
}

type RedisSettings struct {
	Type         string        `yaml:"type" json:"type" env:"CACHE_TYPE" validate:"oneof=redis memory"`
	Host         string        `yaml:"host" json:"host" env:"REDIS_HOST" validate:"required_if=Type redis"`
	Port         int           `yaml:"port" json:"port" env:"REDIS_PORT" validate:"min=0,max=65535"`
	Password     string        `yaml:"password" json:"password" env:"REDIS_PASSWORD"`
	DB           int           `yaml:"db" json:"db" env:"REDIS_DB" validate:"min=0"`
	KeyPrefix    string        `yaml:"key_prefix" json:"key_prefix" env:"REDIS_KEY_PREFIX"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size" env:"REDIS_POOL_SIZE" validate:"min=0"`
	OpTimeout    time.Duration `yaml:"op_timeout" json:"op_timeout" env:"REDIS_OP_TIMEOUT" validate:"min=0"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout" env:"REDIS_DIAL_TIMEOUT" validate:"min=0"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" env:"REDIS_READ_TIMEOUT" validate:"min=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"REDIS_WRITE_TIMEOUT" validate:"min=0"`

	Breaker BreakerSettings `yaml:"breaker" json:"breaker"`
}

type BreakerSettings struct {
	Enabled          bool          `yaml:"enabled" json:"enabled" env:"CACHE_BREAKER_ENABLED"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold" env:"CACHE_BREAKER_FAILURES" validate:"min=0"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" json:"recovery_timeout" env:"CACHE_BREAKER_RECOVERY" validate:"min=0"`
	HalfOpenRequests int           `yaml:"half_open_requests" json:"half_open_requests" env:"CACHE_BREAKER_HALF_OPEN" validate:"min=0"`
}

func (r RedisSettings) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type DatabaseSettings struct {
	Host         string        `yaml:"host" json:"host" env:"DB_HOST"`
	Port         int           `yaml:"port" json:"port" env:"DB_PORT" validate:"min=0,max=65535"`
	Name         string        `yaml:"name" json:"name" env:"DB_NAME"`
	User         string        `yaml:"user" json:"user" env:"DB_USER"`
	Password     string        `yaml:"password" json:"password" env:"DB_PASSWORD"`
	SSLMode      string        `yaml:"ssl_mode" json:"ssl_mode" env:"DB_SSLMODE"`
	Fallback     bool          `yaml:"fallback" json:"fallback" env:"DB_FALLBACK"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout" env:"DB_PROBE_TIMEOUT" validate:"min=0"`
	QueryTimeout time.Duration `yaml:"query_timeout" json:"query_timeout" env:"DB_QUERY_TIMEOUT" validate:"min=0"`
	SeedDemo     bool          `yaml:"seed_demo" json:"seed_demo" env:"DB_SEED_DEMO"`
}

// DSN renders a lib/pq connection string.
func (d DatabaseSettings) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, sslMode)
}

type JWTSettings struct {
	Secret      string `yaml:"secret" json:"secret" env:"JWT_SECRET" validate:"required,min=8"`
	Algorithm   string `yaml:"algorithm" json:"algorithm" env:"JWT_ALGORITHM" validate:"oneof=HS256 HS384 HS512"`
	ExpiryHours int    `yaml:"expiry_hours" json:"expiry_hours" env:"JWT_EXPIRY_HOURS" validate:"min=1"`
}

func (j JWTSettings) TTL() time.Duration {
	return time.Duration(j.ExpiryHours) * time.Hour
}

type SessionSettings struct {
	Audit          bool   `yaml:"audit" json:"audit" env:"SESSION_AUDIT"`
	CleanupSpec    string `yaml:"cleanup_spec" json:"cleanup_spec" env:"SESSION_CLEANUP_SPEC"`
	TokenQueryName string `yaml:"token_query_name" json:"token_query_name" env:"SESSION_TOKEN_QUERY"`
}

type MetricsSettings struct {
	Enabled   bool   `yaml:"enabled" json:"enabled" env:"METRICS_ENABLED"`
	Path      string `yaml:"path" json:"path" env:"METRICS_PATH"`
	Namespace string `yaml:"namespace" json:"namespace" env:"METRICS_NAMESPACE"`
}

type CronSettings struct {
	Enabled  bool   `yaml:"enabled" json:"enabled" env:"CRON_ENABLED"`
	Timezone string `yaml:"timezone" json:"timezone" env:"CRON_TIMEZONE" validate:"required_if=Enabled true"`
}

type DocsSettings struct {
	Enabled bool   `yaml:"enabled" json:"enabled" env:"DOCS_ENABLED"`
	Path    string `yaml:"path" json:"path" env:"DOCS_PATH"`
	Title   string `yaml:"title" json:"title" env:"DOCS_TITLE"`
}

// TLSSettings serves HTTPS either from a certificate pair on disk or from
// ACME certificates issued for Domains.
type TLSSettings struct {
	Enabled  bool     `yaml:"enabled" json:"enabled" env:"TLS_ENABLED"`
	CertFile string   `yaml:"cert_file" json:"cert_file" env:"TLS_CERT_FILE" validate:"required_with=KeyFile"`
	KeyFile  string   `yaml:"key_file" json:"key_file" env:"TLS_KEY_FILE" validate:"required_with=CertFile"`
	Domains  []string `yaml:"domains" json:"domains" env:"TLS_DOMAINS" validate:"omitempty,dive,hostname"`
	Email    string   `yaml:"email" json:"email" env:"TLS_EMAIL" validate:"omitempty,email"`
	CacheDir string   `yaml:"cache_dir" json:"cache_dir" env:"TLS_CACHE_DIR"`

	ACMEDirectory string `yaml:"acme_directory" json:"acme_directory" env:"TLS_ACME_DIRECTORY" validate:"omitempty,url"`
}

// AutoCert reports whether certificates come from ACME rather than files.
func (t TLSSettings) AutoCert() bool {
	return t.CertFile == "" && len(t.Domains) > 0
}

func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
