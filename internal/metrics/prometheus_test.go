package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc(EventCallsInitiated)
	m.Add(EventCallsEnded, 2)
	m.Inc(`quote"back\slash`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	PrometheusHandler(m).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "# TYPE duocall_events_total counter") {
		t.Fatalf("missing TYPE header: %s", body)
	}
	if !strings.Contains(body, `duocall_events_total{event="calls_ended"} 2`) {
		t.Fatalf("missing calls_ended counter: %s", body)
	}
	if !strings.Contains(body, `duocall_events_total{event="calls_initiated"} 1`) {
		t.Fatalf("missing calls_initiated counter: %s", body)
	}
	// Ensure label escaping matches Prometheus text format rules.
	if !strings.Contains(body, `duocall_events_total{event="quote\"back\\slash"} 1`) {
		t.Fatalf("missing escaped counter: %s", body)
	}
}

func TestMetricsSnapshotIsCopy(t *testing.T) {
	m := New()
	m.Inc(EventCallsInitiated)
	snap := m.Snapshot()
	snap[EventCallsInitiated] = 99
	if got := m.Get(EventCallsInitiated); got != 1 {
		t.Fatalf("Get = %d, want 1", got)
	}
}
