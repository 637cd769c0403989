package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tiluckdave/prempushp/internal/counters"
	"github.com/tiluckdave/prempushp/internal/presence"
)

var (
	_ counters.Observer = (*Collector)(nil)
	_ presence.Listener = (*Collector)(nil)
)

func TestCollectorCountsCounterOutcomes(t *testing.T) {
	collector := NewCollector()

	collector.TransactionCommitted(counters.DocumentPages, 1)
	collector.TransactionCommitted(counters.DocumentPages, 3)
	collector.TransactionConflict(counters.DocumentPages)
	collector.TransactionConflict(counters.DocumentPages)
	collector.OperationFailed("counters.track_traffic")

	if got := testutil.ToFloat64(collector.commits.WithLabelValues("pages")); got != 2 {
		t.Fatalf("expected 2 commits, got %v", got)
	}
	if got := testutil.ToFloat64(collector.conflicts.WithLabelValues("pages")); got != 2 {
		t.Fatalf("expected 2 conflicts, got %v", got)
	}
	if got := testutil.ToFloat64(collector.failures.WithLabelValues("counters.track_traffic")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
	if got := testutil.CollectAndCount(collector.commitAttempts); got != 1 {
		t.Fatalf("expected one attempts series, got %d", got)
	}
}

func TestCollectorTracksPresenceAndEvents(t *testing.T) {
	collector := NewCollector()

	collector.SessionsChanged(4, time.Now())
	collector.SessionsChanged(2, time.Now())
	collector.TrackingEvent("page_view")
	collector.FormSubmitted("contact", true)
	collector.FormSubmitted("contact", false)

	if got := testutil.ToFloat64(collector.activeSessions); got != 2 {
		t.Fatalf("expected gauge to follow the latest count, got %v", got)
	}
	if got := testutil.ToFloat64(collector.trackingEvents.WithLabelValues("page_view")); got != 1 {
		t.Fatalf("expected one page_view event, got %v", got)
	}
	if got := testutil.ToFloat64(collector.formSubmits.WithLabelValues("contact", "rejected")); got != 1 {
		t.Fatalf("expected one rejected submission, got %v", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	collector := NewCollector()
	collector.ObserveRequest(http.MethodPost, "/api/analytics/navigate", http.StatusAccepted, 3*time.Millisecond)
	collector.ObserveRequest(http.MethodGet, "", http.StatusNotFound, time.Millisecond)

	recorder := httptest.NewRecorder()
	collector.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body, _ := io.ReadAll(recorder.Body)
	for _, want := range []string{
		`prempushp_http_requests_total{method="POST",route="/api/analytics/navigate",status="202"} 1`,
		`route="unmatched"`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected exposition to contain %q", want)
		}
	}
}
