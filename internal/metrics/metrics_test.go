package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAreExposed(t *testing.T) {
	m := New()
	m.GateTransition("submit", "ok")
	m.GateTransition("submit", "ok")
	m.NotificationCreated("update_approved")
	m.UnreadCacheLookup("hit")
	m.ObserveRequest(http.MethodGet, "/api/notifications", http.StatusOK, 20*time.Millisecond)

	if got := testutil.ToFloat64(m.gateTransitions.WithLabelValues("submit", "ok")); got != 2 {
		t.Fatalf("expected 2 submit transitions, got %v", got)
	}

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, want := range []string{
		"modhub_gate_transitions_total",
		`modhub_notifications_created_total{kind="update_approved"} 1`,
		`modhub_unread_cache_lookups_total{result="hit"} 1`,
		"http_request_duration_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.GateTransition("approve", "ok")
	m.NotificationCreated("mention")
	m.UnreadCacheLookup("miss")
	m.CommentPageServed("best")
	m.RateLimited()
	m.ObserveRequest(http.MethodPost, "/x", 200, time.Millisecond)
}
