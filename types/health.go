package types

import (
	"context"
	"net/http"
	"time"
)

type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthChecker probes one dependency. A nil error means healthy.
type HealthChecker func(ctx context.Context) error

type HealthCheck struct {
	Name       string       `json:"name"`
	Status     HealthStatus `json:"status"`
	Message    string       `json:"message,omitempty"`
	LastCheck  time.Time    `json:"last_check"`
	DurationMs int64        `json:"duration_ms"`
}

type HealthSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
}

type ServiceInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Framework string `json:"framework"`
	Address   string `json:"address"`
}

type HealthReport struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Service   ServiceInfo            `json:"service"`
	Checks    map[string]HealthCheck `json:"checks"`
	Summary   HealthSummary          `json:"summary"`
}

// StatusCode reports 503 while any check fails so load balancers can act
// on the status line alone.
func (r *HealthReport) StatusCode() int {
	if r.Status != StatusHealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
