package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Togather-Foundation/eventbook/internal/api/problem"
	"github.com/Togather-Foundation/eventbook/internal/auth"
)

const claimsKey contextKey = "claims"

var errInsufficientPermissions = errors.New("insufficient permissions")

// JWTAuth requires a valid Bearer token and stores its claims in the context.
func JWTAuth(manager *auth.JWTManager, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := claimsFromHeader(manager, r)
			if err != nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", err, env)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// OptionalAuth stores claims when a valid token is present and otherwise lets
// the request through anonymously. Public listings use it to widen visibility
// for editors.
func OptionalAuth(manager *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, err := claimsFromHeader(manager, r); err == nil {
				r = r.WithContext(ContextWithClaims(r.Context(), claims))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission rejects callers lacking perm. It must run after JWTAuth.
func RequirePermission(perm auth.Permission, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := Claims(r)
			if claims == nil {
				problem.Unauthorized(w, r, nil, env)
				return
			}
			if !claims.Can(perm) {
				problem.Forbidden(w, r, errInsufficientPermissions, env)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func claimsFromHeader(manager *auth.JWTManager, r *http.Request) (*auth.Claims, error) {
	if manager == nil {
		return nil, auth.ErrInvalidToken
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return nil, auth.ErrMissingToken
	}
	token, err := auth.TokenFromHeader(header)
	if err != nil {
		return nil, err
	}
	return manager.Validate(token)
}

func ContextWithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// Claims returns the authenticated caller, or nil.
func Claims(r *http.Request) *auth.Claims {
	if r == nil {
		return nil
	}
	if claims, ok := r.Context().Value(claimsKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}

// UserID returns the authenticated caller's user ID, or "".
func UserID(r *http.Request) string {
	if claims := Claims(r); claims != nil {
		return claims.Subject
	}
	return ""
}
