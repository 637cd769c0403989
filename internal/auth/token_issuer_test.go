package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(t *testing.T, clock func() time.Time) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "prempushp-admin",
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return issuer
}

func TestTokenIssuerIssuesAdminTokens(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	tokenString, expiresIn, err := issuer.IssueAdminToken(context.Background())
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds %d", expiresIn)
	}

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}
	if claims.Subject != "admin" || claims.Issuer != "prempushp-admin" {
		t.Fatalf("unexpected claims %#v", claims)
	}
}

func TestNewTokenIssuerValidatesConfig(t *testing.T) {
	if _, err := NewTokenIssuer(TokenIssuerConfig{Issuer: "prempushp-admin"}); !errors.Is(err, ErrMissingSigningSecret) {
		t.Fatalf("expected missing secret error, got %v", err)
	}
	if _, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret"), Issuer: " "}); !errors.Is(err, ErrMissingIssuer) {
		t.Fatalf("expected missing issuer error, got %v", err)
	}
	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret"), Issuer: "prempushp-admin"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issuer.TTL() != 12*time.Hour {
		t.Fatalf("expected default ttl, got %s", issuer.TTL())
	}
}

func TestTokenIssuerValidatesIssuedTokens(t *testing.T) {
	issuer := newTestIssuer(t, nil)
	tokenString, _, err := issuer.IssueAdminToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	if err := issuer.ValidateToken(tokenString); err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	if err := issuer.ValidateToken("invalid.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected malformed token to fail, got %v", err)
	}
	if err := issuer.ValidateToken("  "); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected blank token to fail, got %v", err)
	}
}

func TestTokenIssuerRejectsForeignAndExpiredTokens(t *testing.T) {
	issued := time.Date(2024, time.January, 15, 10, 0, 0, 0, time.UTC)
	now := issued
	issuer := newTestIssuer(t, func() time.Time { return now })

	tokenString, _, err := issuer.IssueAdminToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	other, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "someone-else",
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if err := other.ValidateToken(tokenString); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected issuer mismatch to fail, got %v", err)
	}

	now = issued.Add(31 * time.Minute)
	if err := issuer.ValidateToken(tokenString); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}
