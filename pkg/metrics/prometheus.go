package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics using Prometheus
type PrometheusMetrics struct {
	loginsTotal     *prometheus.CounterVec
	loginDuration   prometheus.Histogram
	refreshesTotal  *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	refreshJoined   prometheus.Counter
	retriesTotal    prometheus.Counter
	expiredTotal    prometheus.Counter
	logoutsTotal    prometheus.Counter

	decisionsTotal *prometheus.CounterVec
	reloadsTotal   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	// Register standard Go metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	loginsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Total number of login attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Auth round trips: 5ms to 10s
	loginDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "login_duration_milliseconds",
			Help:      "Login call latency in milliseconds",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
	)

	refreshesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "refreshes_total",
			Help:      "Total number of refresh HTTP calls by outcome",
		},
		[]string{"outcome"},
	)

	refreshDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "refresh_duration_milliseconds",
			Help:      "Refresh call latency in milliseconds",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
	)

	refreshJoined := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "refresh_joined_total",
			Help:      "Total number of callers that awaited an in-flight refresh instead of starting one",
		},
	)

	retriesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "retries_total",
			Help:      "Total number of requests retried after a 401",
		},
	)

	expiredTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "expired_total",
			Help:      "Total number of sessions terminated as expired",
		},
	)

	logoutsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "logouts_total",
			Help:      "Total number of logouts",
		},
	)

	decisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "decisions_total",
			Help:      "Total number of mutation decisions by resource type and effect",
		},
		[]string{"resource_type", "effect"},
	)

	reloadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "reloads_total",
			Help:      "Total number of policy table reloads by result",
		},
		[]string{"result"},
	)

	registry.MustRegister(
		loginsTotal,
		loginDuration,
		refreshesTotal,
		refreshDuration,
		refreshJoined,
		retriesTotal,
		expiredTotal,
		logoutsTotal,
		decisionsTotal,
		reloadsTotal,
	)

	return &PrometheusMetrics{
		loginsTotal:     loginsTotal,
		loginDuration:   loginDuration,
		refreshesTotal:  refreshesTotal,
		refreshDuration: refreshDuration,
		refreshJoined:   refreshJoined,
		retriesTotal:    retriesTotal,
		expiredTotal:    expiredTotal,
		logoutsTotal:    logoutsTotal,
		decisionsTotal:  decisionsTotal,
		reloadsTotal:    reloadsTotal,
		registry:        registry,
	}
}

// RecordLogin records a login attempt
func (p *PrometheusMetrics) RecordLogin(outcome string, duration time.Duration) {
	p.loginsTotal.WithLabelValues(outcome).Inc()
	p.loginDuration.Observe(float64(duration.Milliseconds()))
}

// RecordRefresh records one refresh HTTP call
func (p *PrometheusMetrics) RecordRefresh(outcome string, duration time.Duration) {
	p.refreshesTotal.WithLabelValues(outcome).Inc()
	p.refreshDuration.Observe(float64(duration.Milliseconds()))
}

// RecordRefreshJoined records a caller that waited on an in-flight refresh
func (p *PrometheusMetrics) RecordRefreshJoined() {
	p.refreshJoined.Inc()
}

// RecordRetry records a request replayed after a refresh
func (p *PrometheusMetrics) RecordRetry() {
	p.retriesTotal.Inc()
}

// RecordSessionExpired records a terminal session failure
func (p *PrometheusMetrics) RecordSessionExpired() {
	p.expiredTotal.Inc()
}

// RecordLogout records a logout
func (p *PrometheusMetrics) RecordLogout() {
	p.logoutsTotal.Inc()
}

// RecordPolicyDecision records a mutation decision
func (p *PrometheusMetrics) RecordPolicyDecision(resourceType, effect string) {
	p.decisionsTotal.WithLabelValues(resourceType, effect).Inc()
}

// RecordPolicyReload records a policy table reload attempt
func (p *PrometheusMetrics) RecordPolicyReload(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	p.reloadsTotal.WithLabelValues(result).Inc()
}

// HTTPHandler returns the Prometheus HTTP handler for /metrics endpoint
func (p *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
