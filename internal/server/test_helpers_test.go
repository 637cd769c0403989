package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tiluckdave/prempushp/internal/auth"
	"github.com/tiluckdave/prempushp/internal/counters"
	"github.com/tiluckdave/prempushp/internal/database"
	"github.com/tiluckdave/prempushp/internal/forms"
	"github.com/tiluckdave/prempushp/internal/identity"
	"github.com/tiluckdave/prempushp/internal/metrics"
	"github.com/tiluckdave/prempushp/internal/presence"
)

const testAdminPassword = "organic-harvest"

var testNow = time.Date(2024, time.January, 15, 19, 0, 0, 0, time.UTC)

type testHarness struct {
	server     *Server
	counters   *counters.Service
	tracker    *presence.Tracker
	dispatcher *presence.Dispatcher
	collector  *metrics.Collector
	forms      *forms.Service
}

type harnessOption func(*Dependencies)

func withLogger(logger *zap.Logger) harnessOption {
	return func(deps *Dependencies) {
		deps.Logger = logger
	}
}

func withOrigins(origins ...string) harnessOption {
	return func(deps *Dependencies) {
		deps.AllowedOrigins = origins
	}
}

func withStreamHeartbeat(interval time.Duration) harnessOption {
	return func(deps *Dependencies) {
		deps.StreamHeartbeat = interval
	}
}

func newTestHarness(t *testing.T, options ...harnessOption) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "prempushp.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	collector := metrics.NewCollector()
	clock := func() time.Time { return testNow }
	counterService, err := counters.NewService(counters.ServiceConfig{
		Database:    db,
		Clock:       clock,
		Observer:    collector,
		MaxAttempts: 64,
		RetryPause:  time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to build counter service: %v", err)
	}
	dispatcher := presence.NewDispatcher()
	tracker, err := presence.NewTracker(presence.Config{
		Counter:   counterService,
		Listeners: []presence.Listener{dispatcher, collector},
	})
	if err != nil {
		t.Fatalf("failed to build presence tracker: %v", err)
	}
	formService, err := forms.NewService(forms.ServiceConfig{
		Database:   db,
		IDProvider: forms.NewUUIDProvider(),
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("failed to build forms service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "prempushp-admin",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	gate, err := auth.NewAdminGate(auth.AdminGateConfig{Password: testAdminPassword, TokenIssuer: issuer})
	if err != nil {
		t.Fatalf("failed to build admin gate: %v", err)
	}
	codec, err := identity.NewCookieCodec([]byte(strings.Repeat("h", 32)), nil, false)
	if err != nil {
		t.Fatalf("failed to build cookie codec: %v", err)
	}

	deps := Dependencies{
		Counters:       counterService,
		Presence:       tracker,
		Dispatcher:     dispatcher,
		Forms:          formService,
		Admin:          gate,
		Identity:       codec,
		Metrics:        collector,
		Logger:         zap.NewNop(),
		AllowedOrigins: []string{"*"},
	}
	for _, option := range options {
		option(&deps)
	}
	server, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to build http handler: %v", err)
	}
	return &testHarness{
		server:     server,
		counters:   counterService,
		tracker:    tracker,
		dispatcher: dispatcher,
		collector:  collector,
		forms:      formService,
	}
}

func (h *testHarness) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch typed := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(typed))
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range cookies {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	h.server.ServeHTTP(recorder, request)
	return recorder
}

func (h *testHarness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Drain(ctx); err != nil {
		t.Fatalf("detached writes did not finish: %v", err)
	}
}

func (h *testHarness) snapshot(t *testing.T) counters.Snapshot {
	t.Helper()
	h.drain(t)
	snapshot, err := h.counters.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	return snapshot
}

func (h *testHarness) adminToken(t *testing.T) string {
	t.Helper()
	recorder := h.do(t, http.MethodPost, "/api/admin/login", map[string]string{"password": testAdminPassword})
	if recorder.Code != http.StatusOK {
		t.Fatalf("admin login failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var payload loginResponsePayload
	decodeBody(t, recorder, &payload)
	return payload.AccessToken
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func responseCookie(t *testing.T, recorder *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func findPage(snapshot counters.Snapshot, slug string) (counters.PageRecord, bool) {
	for _, page := range snapshot.Pages {
		if page.Slug == slug {
			return page, true
		}
	}
	return counters.PageRecord{}, false
}

func findProduct(snapshot counters.Snapshot, slug string) (counters.ProductRecord, bool) {
	for _, product := range snapshot.Products {
		if product.Slug == slug {
			return product, true
		}
	}
	return counters.ProductRecord{}, false
}

func trafficFor(snapshot counters.Snapshot, date string) counters.TrafficRecord {
	for _, record := range snapshot.Traffic {
		if record.Date == date {
			return record
		}
	}
	return counters.TrafficRecord{}
}

func authorizedRequest(method, path, token string) *http.Request {
	request := httptest.NewRequest(method, path, http.NoBody)
	request.Header.Set("Authorization", "Bearer "+token)
	return request
}

func serve(h *testHarness, request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	h.server.ServeHTTP(recorder, request)
	return recorder
}
