// Package metrics exposes prometheus instrumentation for the access
// policy engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics collects engine metrics for HTTP export
type PrometheusMetrics struct {
	decisionsTotal       *prometheus.CounterVec
	decisionChangesTotal *prometheus.CounterVec
	lifecycleEvents      *prometheus.CounterVec
	cacheHitsTotal       prometheus.Counter
	cacheMissesTotal     prometheus.Counter
	notificationsDropped prometheus.Counter
	stateWriteDuration   prometheus.Histogram
	activeUsers          prometheus.Gauge
	trackedPackages      prometheus.Gauge

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	// Register standard Go metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	decisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of decision lookups by result",
		},
		[]string{"result"},
	)

	decisionChangesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_changes_total",
			Help:      "Total number of effective decision changes by scheme pair",
		},
		[]string{"subject_scheme", "object_scheme"},
	)

	lifecycleEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_events_total",
			Help:      "Total number of lifecycle events by kind",
		},
		[]string{"event"},
	)

	cacheHitsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of decision cache hits",
		},
	)

	cacheMissesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of decision cache misses",
		},
	)

	notificationsDropped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Total number of listener notifications dropped due to a full queue",
		},
	)

	stateWriteDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "state_write_duration_seconds",
			Help:      "Duration of state persistence writes",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
	)

	activeUsers := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_users",
			Help:      "Number of active users in the system state",
		},
	)

	trackedPackages := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_packages",
			Help:      "Number of packages in the system state",
		},
	)

	registry.MustRegister(
		decisionsTotal,
		decisionChangesTotal,
		lifecycleEvents,
		cacheHitsTotal,
		cacheMissesTotal,
		notificationsDropped,
		stateWriteDuration,
		activeUsers,
		trackedPackages,
	)

	return &PrometheusMetrics{
		decisionsTotal:       decisionsTotal,
		decisionChangesTotal: decisionChangesTotal,
		lifecycleEvents:      lifecycleEvents,
		cacheHitsTotal:       cacheHitsTotal,
		cacheMissesTotal:     cacheMissesTotal,
		notificationsDropped: notificationsDropped,
		stateWriteDuration:   stateWriteDuration,
		activeUsers:          activeUsers,
		trackedPackages:      trackedPackages,
		registry:             registry,
	}
}

// RecordDecision records one decision lookup
func (m *PrometheusMetrics) RecordDecision(result string) {
	m.decisionsTotal.WithLabelValues(result).Inc()
}

// RecordDecisionChange records one effective decision change
func (m *PrometheusMetrics) RecordDecisionChange(subjectScheme, objectScheme string) {
	m.decisionChangesTotal.WithLabelValues(subjectScheme, objectScheme).Inc()
}

// RecordLifecycleEvent records one lifecycle fan-out
func (m *PrometheusMetrics) RecordLifecycleEvent(event string) {
	m.lifecycleEvents.WithLabelValues(event).Inc()
}

// RecordCacheHit records a decision cache hit
func (m *PrometheusMetrics) RecordCacheHit() {
	m.cacheHitsTotal.Inc()
}

// RecordCacheMiss records a decision cache miss
func (m *PrometheusMetrics) RecordCacheMiss() {
	m.cacheMissesTotal.Inc()
}

// RecordNotificationDropped records a dropped listener notification
func (m *PrometheusMetrics) RecordNotificationDropped() {
	m.notificationsDropped.Inc()
}

// ObserveStateWrite records the duration of one persistence write pass
func (m *PrometheusMetrics) ObserveStateWrite(d time.Duration) {
	m.stateWriteDuration.Observe(d.Seconds())
}

// SetActiveUsers updates the active user gauge
func (m *PrometheusMetrics) SetActiveUsers(n int) {
	m.activeUsers.Set(float64(n))
}

// SetTrackedPackages updates the tracked package gauge
func (m *PrometheusMetrics) SetTrackedPackages(n int) {
	m.trackedPackages.Set(float64(n))
}

// Handler returns an HTTP handler exposing the registry
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, mainly for tests
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}
