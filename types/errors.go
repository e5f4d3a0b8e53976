package types

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrConfiguration         = errors.New("configuration error")
	ErrBinding               = errors.New("binding error")
	ErrValidation            = errors.New("validation error")
	ErrAuthentication        = errors.New("authentication error")
	ErrAuthorization         = errors.New("authorization error")
	ErrSessionState          = errors.New("session state error")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrDependencyNotRegistered = errors.New("dependency not registered")
	ErrCircularDependency      = errors.New("circular dependency")
	ErrMiddlewareInvalidType   = errors.New("middleware invalid type")
	ErrMiddlewareOrderInvalid  = errors.New("middleware order invalid")
	ErrHandlerIsNil            = errors.New("handler is nil")
	ErrNextCalledTwice         = errors.New("next called more than once")
)

var (
	ErrTokenMissing   = errors.New("token missing")
	ErrTokenInvalid   = errors.New("token invalid")
	ErrTokenExpired   = errors.New("token expired")
	ErrSessionMissing = errors.New("session missing")
)

var (
	ErrCacheNotFound         = errors.New("cache not found")
	ErrCacheKeyEmpty         = errors.New("cache key empty")
	ErrCacheConnectionFailed = errors.New("cache connection failed")
	ErrCacheTypeUnknown      = errors.New("cache type unknown")
)

var (
	ErrDatabaseConnectFailed = errors.New("database connect failed")
	ErrRecordNotFound        = errors.New("record not found")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrWebFrameworkUnknown  = errors.New("web framework unknown")
)

var (
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronIsRunning         = errors.New("cron is running")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronJobNotFound       = errors.New("cron job not found")
	ErrCronJobFailed         = errors.New("cron job failed")
	ErrCronJobTimeout        = errors.New("cron job timeout")
	ErrCronSchedulerStopped  = errors.New("cron scheduler stopped")
)

var (
	ErrLogFileIsEmpty     = errors.New("log file is empty")
	ErrLogFileWrongFormat = errors.New("log file wrong format")
	ErrLoggerTypeUnknown  = errors.New("logger type unknown")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}

// Classify maps an error chain onto the response taxonomy. Anything that is
// not recognised is an internal failure.
func Classify(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, ErrValidation), errors.Is(err, ErrBinding):
		return http.StatusBadRequest, "Validation error"
	case errors.Is(err, ErrAuthorization):
		return http.StatusForbidden, "Permission denied"
	case errors.Is(err, ErrAuthentication), errors.Is(err, ErrSessionState):
		return http.StatusUnauthorized, "Authentication required"
	case errors.Is(err, ErrDependencyUnavailable):
		return http.StatusServiceUnavailable, "Service unavailable"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
