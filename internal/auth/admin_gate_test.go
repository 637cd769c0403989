package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestGate(t *testing.T) *AdminGate {
	t.Helper()
	gate, err := NewAdminGate(AdminGateConfig{
		Password:    "organic-harvest",
		TokenIssuer: newTestIssuer(t, nil),
	})
	if err != nil {
		t.Fatalf("failed to build gate: %v", err)
	}
	return gate
}

func TestNewAdminGateValidatesConfig(t *testing.T) {
	if _, err := NewAdminGate(AdminGateConfig{TokenIssuer: newTestIssuer(t, nil)}); !errors.Is(err, ErrMissingPassword) {
		t.Fatalf("expected missing password error, got %v", err)
	}
	if _, err := NewAdminGate(AdminGateConfig{Password: "x"}); !errors.Is(err, ErrMissingTokenIssuer) {
		t.Fatalf("expected missing issuer error, got %v", err)
	}
	if gate := newTestGate(t); gate.CookieName() != DefaultCookieName {
		t.Fatalf("expected default cookie name, got %s", gate.CookieName())
	}
}

func TestAdminGateLogin(t *testing.T) {
	gate := newTestGate(t)

	if _, _, err := gate.Login(context.Background(), "organic-harvest "); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected wrong password to fail, got %v", err)
	}
	token, expiresIn, err := gate.Login(context.Background(), "organic-harvest")
	if err != nil {
		t.Fatalf("expected login to succeed: %v", err)
	}
	if token == "" || expiresIn <= 0 {
		t.Fatalf("unexpected token %q expiring in %d", token, expiresIn)
	}
}

func TestAdminGateValidatesRequests(t *testing.T) {
	gate := newTestGate(t)
	token, _, err := gate.Login(context.Background(), "organic-harvest")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	bearer := httptest.NewRequest(http.MethodGet, "/api/admin/analytics", nil)
	bearer.Header.Set("Authorization", "Bearer "+token)
	if err := gate.ValidateRequest(bearer); err != nil {
		t.Fatalf("expected bearer token to be accepted: %v", err)
	}

	cookie := httptest.NewRequest(http.MethodGet, "/api/admin/analytics", nil)
	cookie.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: token})
	if err := gate.ValidateRequest(cookie); err != nil {
		t.Fatalf("expected cookie token to be accepted: %v", err)
	}

	anonymous := httptest.NewRequest(http.MethodGet, "/api/admin/analytics", nil)
	if err := gate.ValidateRequest(anonymous); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}

	forged := httptest.NewRequest(http.MethodGet, "/api/admin/analytics", nil)
	forged.Header.Set("Authorization", "Bearer "+token+"x")
	if err := gate.ValidateRequest(forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected forged token to fail, got %v", err)
	}
}
