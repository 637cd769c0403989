package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tiluckdave/prempushp/internal/counters"
)

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	testCases := []struct {
		name string
		deps Dependencies
		want error
	}{
		{name: "counters", deps: Dependencies{}, want: errMissingCounterStore},
		{name: "presence", deps: Dependencies{Counters: failingCounters{}}, want: errMissingPresence},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := NewHTTPHandler(testCase.deps); !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	harness := newTestHarness(t)

	health := harness.do(t, http.MethodGet, "/healthz", nil)
	if health.Code != http.StatusOK || !strings.Contains(health.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health response %d %s", health.Code, health.Body.String())
	}

	harness.do(t, http.MethodGet, "/does-not-exist", nil)
	metricsBody := harness.do(t, http.MethodGet, "/metrics", nil).Body.String()
	if !strings.Contains(metricsBody, `prempushp_http_requests_total{method="GET",route="/healthz",status="200"} 1`) {
		t.Fatalf("expected health request in metrics output")
	}
	if !strings.Contains(metricsBody, `route="unmatched",status="404"`) {
		t.Fatalf("expected unmatched route label in metrics output")
	}
}

func TestCORSPreflight(t *testing.T) {
	testCases := []struct {
		name        string
		origins     []string
		origin      string
		wantAllowed bool
	}{
		{name: "wildcard-reflects-origin", origins: []string{"*"}, origin: "https://prempushp.com", wantAllowed: true},
		{name: "listed-origin", origins: []string{"https://prempushp.com"}, origin: "https://prempushp.com", wantAllowed: true},
		{name: "unlisted-origin", origins: []string{"https://prempushp.com"}, origin: "https://elsewhere.example", wantAllowed: false},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			harness := newTestHarness(t, withOrigins(testCase.origins...))
			request := httptest.NewRequest(http.MethodOptions, "/api/analytics/navigate", http.NoBody)
			request.Header.Set("Origin", testCase.origin)
			request.Header.Set("Access-Control-Request-Method", http.MethodPost)
			request.Header.Set("Access-Control-Request-Headers", "Content-Type")
			recorder := serve(harness, request)

			allowed := recorder.Header().Get("Access-Control-Allow-Origin")
			if testCase.wantAllowed {
				if recorder.Code != http.StatusNoContent || allowed != testCase.origin {
					t.Fatalf("expected preflight to allow %s, got %d %q", testCase.origin, recorder.Code, allowed)
				}
				if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
					t.Fatalf("expected credentials to be allowed")
				}
				return
			}
			if allowed != "" {
				t.Fatalf("expected no allow-origin header, got %q", allowed)
			}
		})
	}
}

func TestDetachedTrackingFailuresAreLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	harness := newTestHarness(t, withLogger(zap.New(core)), func(deps *Dependencies) {
		deps.Counters = failingCounters{}
	})

	recorder := harness.do(t, http.MethodPost, "/api/analytics/navigate", map[string]any{"path": "/about"})
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected tracking failures to stay invisible to the visitor, got %d", recorder.Code)
	}
	harness.drain(t)

	entries := logs.FilterMessage("tracking write failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one failure log, got %d", len(entries))
	}
	if entries[0].ContextMap()["operation"] != "navigate" {
		t.Fatalf("unexpected log context %v", entries[0].ContextMap())
	}
}

var errStoreUnavailable = errors.New("store unavailable")

type failingCounters struct{}

func (failingCounters) TrackSiteView(context.Context, bool) error { return errStoreUnavailable }
func (failingCounters) AdjustRealtimeUsers(context.Context, int64) error {
	return errStoreUnavailable
}
func (failingCounters) TrackPageView(context.Context, string, string, bool) error {
	return errStoreUnavailable
}
func (failingCounters) TrackProductView(context.Context, string, string, string, bool) error {
	return errStoreUnavailable
}
func (failingCounters) TrackProductEnquiry(context.Context, string) error {
	return errStoreUnavailable
}
func (failingCounters) TrackTraffic(context.Context, counters.TrafficUpdate) error {
	return errStoreUnavailable
}
func (failingCounters) Snapshot(context.Context) (counters.Snapshot, error) {
	return counters.Snapshot{}, errStoreUnavailable
}
