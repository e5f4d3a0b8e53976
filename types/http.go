package types

import (
	"net/http"
)

// Request is a framework-neutral read view over an incoming HTTP request.
type Request interface {
	Method() string
	Path() string
	Header(name string) string
	Headers() map[string]string
	Query() map[string]string
	QueryValue(name string) string
	Param(name string) string
	Body() []byte
	RemoteAddr() string
	UserAgent() string
}

type StatusCoder interface {
	StatusCode() int
}

// ErrorResponse is the structured body returned for every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Status  int    `json:"status"`
}

func NewErrorResponse(status int, category, message string) *ErrorResponse {
	return &ErrorResponse{Error: category, Message: message, Status: status}
}

func (e *ErrorResponse) StatusCode() int {
	return e.Status
}

func Unauthorized(message string) *ErrorResponse {
	return NewErrorResponse(http.StatusUnauthorized, "Authentication required", message)
}

func Forbidden(message string) *ErrorResponse {
	return NewErrorResponse(http.StatusForbidden, "Permission denied", message)
}

func Unavailable(message string) *ErrorResponse {
	return NewErrorResponse(http.StatusServiceUnavailable, "Service unavailable", message)
}

func InternalError() *ErrorResponse {
	return NewErrorResponse(http.StatusInternalServerError, "Internal server error", "An unexpected error occurred")
}

type WebApp interface {
	LifecycleManager
	Name() string
	Route(method, path string, handler Invoker)
	Mount(path string, handler http.Handler)
	Routes() []RouteInfo
}

type RouteInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}
