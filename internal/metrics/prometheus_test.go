package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusMetrics_Counters(t *testing.T) {
	m := NewPrometheusMetrics("access_engine")

	m.RecordDecision("granted")
	m.RecordDecision("granted")
	m.RecordDecision("denied")
	m.RecordDecisionChange("uid", "permission")
	m.RecordLifecycleEvent("user_added")
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordNotificationDropped()

	if got := testutil.ToFloat64(m.decisionsTotal.WithLabelValues("granted")); got != 2 {
		t.Errorf("decisions_total{result=granted} = %f", got)
	}
	if got := testutil.ToFloat64(m.decisionsTotal.WithLabelValues("denied")); got != 1 {
		t.Errorf("decisions_total{result=denied} = %f", got)
	}
	if got := testutil.ToFloat64(m.decisionChangesTotal.WithLabelValues("uid", "permission")); got != 1 {
		t.Errorf("decision_changes_total = %f", got)
	}
	if got := testutil.ToFloat64(m.lifecycleEvents.WithLabelValues("user_added")); got != 1 {
		t.Errorf("lifecycle_events_total = %f", got)
	}
	if got := testutil.ToFloat64(m.cacheHitsTotal); got != 1 {
		t.Errorf("cache hits = %f", got)
	}
	if got := testutil.ToFloat64(m.cacheMissesTotal); got != 1 {
		t.Errorf("cache misses = %f", got)
	}
	if got := testutil.ToFloat64(m.notificationsDropped); got != 1 {
		t.Errorf("notifications dropped = %f", got)
	}
}

func TestPrometheusMetrics_Gauges(t *testing.T) {
	m := NewPrometheusMetrics("access_engine")

	m.SetActiveUsers(3)
	m.SetTrackedPackages(12)

	if got := testutil.ToFloat64(m.activeUsers); got != 3 {
		t.Errorf("active_users = %f", got)
	}
	if got := testutil.ToFloat64(m.trackedPackages); got != 12 {
		t.Errorf("tracked_packages = %f", got)
	}

	// Gauges go back down.
	m.SetActiveUsers(2)
	if got := testutil.ToFloat64(m.activeUsers); got != 2 {
		t.Errorf("active_users after decrease = %f", got)
	}
}

func TestPrometheusMetrics_Handler(t *testing.T) {
	m := NewPrometheusMetrics("access_engine")
	m.RecordDecision("granted")
	m.ObserveStateWrite(3 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("metrics endpoint returned %d", rec.Code)
	}
	body := rec.Body.String()
	for _, metric := range []string{
		"access_engine_decisions_total",
		"access_engine_state_write_duration_seconds",
		"go_goroutines",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("metrics output missing %s", metric)
		}
	}
}
