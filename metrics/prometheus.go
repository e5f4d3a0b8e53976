package metrics

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/saiset-co/sai-pipeline/types"
)

// Registry owns the prometheus collectors of the service. A nil *Registry
// is valid and records nothing.
type Registry struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requests        *prometheus.CounterVec
	cacheOps        *prometheus.CounterVec
	cacheDuration   *prometheus.HistogramVec
	cpuDelta        *prometheus.HistogramVec
	memoryDelta     *prometheus.HistogramVec
	sessionEvents   *prometheus.CounterVec
	cronRuns        *prometheus.CounterVec
	cronDuration    *prometheus.HistogramVec
	cronActive      prometheus.Gauge
	breakerState    *prometheus.GaugeVec
}

type MetricValue struct {
	Name   string            `json:"name"`
	Type   string            `json:"type"`
	Value  float64           `json:"value"`
	Count  uint64            `json:"count,omitempty"`
	Labels map[string]string `json:"labels"`
}

func New(settings types.MetricsSettings) *Registry {
	namespace := settings.Namespace
	if namespace == "" {
		namespace = "sai_pipeline"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Time spent inside the pipeline per handler.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"handler", "outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_results_total",
			Help:      "Pipeline results per handler and status.",
		}, []string{"handler", "status"}),
		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Session cache operations per result.",
		}, []string{"operation", "result"}),
		cacheDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cache_operation_duration_seconds",
			Help:      "Session cache operation latency.",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		}, []string{"operation"}),
		cpuDelta: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_cpu_delta_percent",
			Help:      "System CPU utilisation change across a handler call.",
			Buckets:   []float64{-50, -10, -1, 0, 1, 10, 50},
		}, []string{"handler"}),
		memoryDelta: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_memory_delta_percent",
			Help:      "System memory utilisation change across a handler call.",
			Buckets:   []float64{-5, -1, -0.1, 0, 0.1, 1, 5},
		}, []string{"handler"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle operations per result.",
		}, []string{"event", "result"}),
		cronRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cron_job_executions_total",
			Help:      "Scheduled job runs per result.",
		}, []string{"job_name", "result"}),
		cronDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cron_job_duration_seconds",
			Help:      "Scheduled job run time.",
			Buckets:   []float64{0.1, 1.0, 10.0, 60.0, 300.0, 1800.0},
		}, []string{"job_name"}),
		cronActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cron_active_jobs",
			Help:      "Scheduled jobs currently running.",
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per dependency: 0 closed, 1 open, 2 half-open.",
		}, []string{"dependency"}),
	}

	registry.MustRegister(r.requestDuration, r.requests, r.cacheOps, r.cacheDuration,
		r.cpuDelta, r.memoryDelta, r.sessionEvents, r.cronRuns, r.cronDuration, r.cronActive, r.breakerState)

	return r
}

func (r *Registry) ObserveHandler(handler string, duration time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.requestDuration.WithLabelValues(handler, outcome).Observe(duration.Seconds())
}

func (r *Registry) CountResult(handler string, status int) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
}

func (r *Registry) ObserveCacheOp(operation, result string, duration time.Duration) {
	if r == nil {
		return
	}
	r.cacheOps.WithLabelValues(operation, result).Inc()
	r.cacheDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (r *Registry) ObservePerformance(handler string, cpuDelta, memoryDelta float64) {
	if r == nil {
		return
	}
	r.cpuDelta.WithLabelValues(handler).Observe(cpuDelta)
	r.memoryDelta.WithLabelValues(handler).Observe(memoryDelta)
}

func (r *Registry) SessionEvent(event string, ok bool) {
	if r == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	r.sessionEvents.WithLabelValues(event, result).Inc()
}

func (r *Registry) ObserveCronJob(job string, duration time.Duration, err error) {
	if r == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	r.cronRuns.WithLabelValues(job, result).Inc()
	r.cronDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (r *Registry) CronActive(delta float64) {
	if r == nil {
		return
	}
	r.cronActive.Add(delta)
}

func (r *Registry) BreakerState(dependency string, state int) {
	if r == nil {
		return
	}
	r.breakerState.WithLabelValues(dependency).Set(float64(state))
}

func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Snapshot flattens the metrics of this service (runtime collectors
// excluded) into plain values, sorted by name.
func (r *Registry) Snapshot(prefix string) ([]MetricValue, error) {
	if r == nil {
		return nil, nil
	}

	families, err := r.registry.Gather()
	if err != nil {
		return nil, types.WrapError(err, "failed to gather metrics")
	}

	var values []MetricValue
	for _, mf := range families {
		if prefix != "" && !hasPrefix(mf.GetName(), prefix) {
			continue
		}
		for _, m := range mf.GetMetric() {
			values = append(values, flatten(mf, m))
		}
	}

	sort.SliceStable(values, func(i, j int) bool {
		return values[i].Name < values[j].Name
	})

	return values, nil
}

func flatten(mf *dto.MetricFamily, m *dto.Metric) MetricValue {
	labels := make(map[string]string, len(m.GetLabel()))
	for _, label := range m.GetLabel() {
		labels[label.GetName()] = label.GetValue()
	}

	value := MetricValue{
		Name:   mf.GetName(),
		Type:   mf.GetType().String(),
		Labels: labels,
	}

	switch {
	case m.Counter != nil:
		value.Value = m.Counter.GetValue()
	case m.Gauge != nil:
		value.Value = m.Gauge.GetValue()
	case m.Histogram != nil:
		value.Value = m.Histogram.GetSampleSum()
		value.Count = m.Histogram.GetSampleCount()
	case m.Summary != nil:
		value.Value = m.Summary.GetSampleSum()
		value.Count = m.Summary.GetSampleCount()
	}

	return value
}

func hasPrefix(name, prefix string) bool {
	return len(name) >= len(prefix) && name[:len(prefix)] == prefix
}
