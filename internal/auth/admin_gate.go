// Package auth gates the admin dashboard behind one shared password and a
// short-lived signed token.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// DefaultCookieName carries the admin token for browser sessions.
const DefaultCookieName = "prempushp_admin"

const bearerPrefix = "Bearer "

var (
	ErrMissingPassword    = errors.New("admin gate: password required")
	ErrMissingTokenIssuer = errors.New("admin gate: token issuer required")
	ErrInvalidPassword    = errors.New("admin gate: invalid password")
)

// AdminGateConfig describes the shared secret and token issuer.
type AdminGateConfig struct {
	Password    string
	TokenIssuer *TokenIssuer
	CookieName  string
}

// AdminGate exchanges the admin password for a token and checks requests.
type AdminGate struct {
	passwordDigest [sha256.Size]byte
	issuer         *TokenIssuer
	cookieName     string
}

// NewAdminGate validates the configuration.
func NewAdminGate(cfg AdminGateConfig) (*AdminGate, error) {
	if cfg.Password == "" {
		return nil, ErrMissingPassword
	}
	if cfg.TokenIssuer == nil {
		return nil, ErrMissingTokenIssuer
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &AdminGate{
		passwordDigest: sha256.Sum256([]byte(cfg.Password)),
		issuer:         cfg.TokenIssuer,
		cookieName:     cookieName,
	}, nil
}

// CookieName returns the cookie used for browser sessions.
func (g *AdminGate) CookieName() string {
	return g.cookieName
}

// Login compares the password in constant time and issues a token.
func (g *AdminGate) Login(ctx context.Context, password string) (string, int64, error) {
	digest := sha256.Sum256([]byte(password))
	if subtle.ConstantTimeCompare(digest[:], g.passwordDigest[:]) != 1 {
		return "", 0, ErrInvalidPassword
	}
	return g.issuer.IssueAdminToken(ctx)
}

// ValidateRequest accepts the token from an Authorization bearer header or,
// failing that, from the admin cookie.
func (g *AdminGate) ValidateRequest(r *http.Request) error {
	if r == nil {
		return ErrMissingToken
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, bearerPrefix) {
		return g.issuer.ValidateToken(strings.TrimPrefix(header, bearerPrefix))
	}
	cookie, err := r.Cookie(g.cookieName)
	if err != nil || cookie == nil {
		return ErrMissingToken
	}
	return g.issuer.ValidateToken(cookie.Value)
}
