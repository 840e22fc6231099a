package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	Role        string   `json:"role"`
	Email       string   `json:"email,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the identity a token is issued for.
type Principal struct {
	UserID      string
	Email       string
	Role        string
	Permissions []string
}

type JWTManager struct {
	secret []byte
	expiry time.Duration
	issuer string
}

// Issuer is the iss claim on every access token the server signs.
const Issuer = "eventbook"

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

func NewJWTManager(secret []byte, expiry time.Duration, issuer string) *JWTManager {
	return &JWTManager{
		secret: secret,
		expiry: expiry,
		issuer: issuer,
	}
}

// NewJWTManagerFromSecret derives the signing key from the master secret so the
// raw JWT_SECRET never signs anything directly.
func NewJWTManagerFromSecret(masterSecret string, expiry time.Duration, issuer string) (*JWTManager, error) {
	key, err := DeriveAccessTokenKey([]byte(masterSecret))
	if err != nil {
		return nil, err
	}
	return NewJWTManager(key, expiry, issuer), nil
}

func (m *JWTManager) Expiry() time.Duration {
	return m.expiry
}

func (m *JWTManager) Generate(p Principal) (string, error) {
	if p.UserID == "" || p.Role == "" {
		return "", ErrInvalidToken
	}

	now := time.Now()
	claims := &Claims{
		Role:        p.Role,
		Email:       p.Email,
		Permissions: p.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *JWTManager) Validate(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func TokenFromHeader(authHeader string) (string, error) {
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(parts[1]), nil
}
