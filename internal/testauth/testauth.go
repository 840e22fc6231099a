// Package testauth mints access tokens for local tooling: the load tester,
// the gentoken command and ad-hoc curl sessions. It signs with the same
// derived key the server uses, so tokens are only as secret as JWT_SECRET.
//
// Never wire this package into the server binary.
package testauth

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/auth"
)

// DevJWTSecret is the well-known local development secret.
const DevJWTSecret = "dev_jwt_secret_change_me_in_production_please"

// DefaultTTL is long enough for a soak test.
const DefaultTTL = 24 * time.Hour

// Config describes the principal a token is minted for.
type Config struct {
	// UserID is the token subject. Bookings reference it, so writes need
	// a real user row.
	UserID string

	Email string

	// Role is "admin" or "participant". Defaults to "participant".
	Role string

	Permissions []string
}

// Minter signs tokens for arbitrary principals.
type Minter struct {
	tokens *auth.JWTManager
}

// NewMinter derives the signing key from secret (or the environment default).
func NewMinter(secret string, ttl time.Duration) (*Minter, error) {
	if secret == "" {
		secret = SecretFromEnv()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	tokens, err := auth.NewJWTManagerFromSecret(secret, ttl, auth.Issuer)
	if err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return &Minter{tokens: tokens}, nil
}

// Token signs a token for cfg.
func (m *Minter) Token(cfg Config) (string, error) {
	role := cfg.Role
	if role == "" {
		role = string(auth.RoleParticipant)
	}
	if !auth.ValidRole(role) {
		return "", fmt.Errorf("unknown role %q", role)
	}
	for _, p := range cfg.Permissions {
		if !auth.ValidPermission(p) {
			return "", fmt.Errorf("unknown permission %q", p)
		}
	}
	if cfg.UserID == "" {
		return "", fmt.Errorf("user id is required")
	}

	token, err := m.tokens.Generate(auth.Principal{
		UserID:      cfg.UserID,
		Email:       cfg.Email,
		Role:        role,
		Permissions: cfg.Permissions,
	})
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Authenticator attaches a fixed bearer token to outgoing requests.
type Authenticator struct {
	token string
}

func NewAuthenticator(token string) *Authenticator {
	return &Authenticator{token: token}
}

// AddAuth sets the Authorization header. A nil Authenticator is a no-op.
func (a *Authenticator) AddAuth(req *http.Request) {
	if a == nil || req == nil || a.token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
}

// Header returns the Authorization header value.
func (a *Authenticator) Header() string {
	if a == nil || a.token == "" {
		return ""
	}
	return "Bearer " + a.token
}

// NewAdminAuthenticator mints an admin token for userID. Admin routes only
// check the claims, so any UUID works for reads and event management.
func NewAdminAuthenticator(secret, userID string) (*Authenticator, error) {
	m, err := NewMinter(secret, DefaultTTL)
	if err != nil {
		return nil, err
	}
	token, err := m.Token(Config{UserID: userID, Role: string(auth.RoleAdmin)})
	if err != nil {
		return nil, err
	}
	return NewAuthenticator(token), nil
}

// DevJWTToken mints a token with the environment's secret for quick CLI use.
func DevJWTToken(role, userID string, permissions ...string) (string, error) {
	m, err := NewMinter("", DefaultTTL)
	if err != nil {
		return "", err
	}
	return m.Token(Config{UserID: userID, Role: role, Permissions: permissions})
}

// SecretFromEnv returns $JWT_SECRET, falling back to DevJWTSecret.
func SecretFromEnv() string {
	if s := os.Getenv("JWT_SECRET"); s != "" {
		return s
	}
	return DevJWTSecret
}
