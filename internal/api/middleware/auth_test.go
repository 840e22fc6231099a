package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJWTManager() *auth.JWTManager {
	return auth.NewJWTManager([]byte("test-secret"), time.Hour, "eventbook-test")
}

func bearer(t *testing.T, manager *auth.JWTManager, p auth.Principal) string {
	t.Helper()
	token, err := manager.Generate(p)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestJWTAuth(t *testing.T) {
	manager := testJWTManager()
	var seen *auth.Claims
	handler := JWTAuth(manager, "test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = Claims(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	})

	t.Run("malformed token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token from another key", func(t *testing.T) {
		other := auth.NewJWTManager([]byte("other-secret"), time.Hour, "eventbook-test")
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.Header.Set("Authorization", bearer(t, other, auth.Principal{UserID: "u1", Role: "participant"}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.Header.Set("Authorization", bearer(t, manager, auth.Principal{UserID: "u1", Email: "ada@example.com", Role: "participant"}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "u1", seen.Subject)
		assert.Equal(t, "ada@example.com", seen.Email)
	})
}

func TestOptionalAuth(t *testing.T) {
	manager := testJWTManager()
	var userID string
	handler := OptionalAuth(manager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID = UserID(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, userID)

	req = httptest.NewRequest(http.MethodGet, "/events", nil)
	req.Header.Set("Authorization", bearer(t, manager, auth.Principal{UserID: "u2", Role: "participant"}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u2", userID)
}

func TestRequirePermission(t *testing.T) {
	manager := testJWTManager()
	handler := JWTAuth(manager, "test")(RequirePermission(auth.PermEventsWrite, "test")(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	))

	tests := []struct {
		name      string
		principal auth.Principal
		want      int
	}{
		{"participant without permission", auth.Principal{UserID: "u1", Role: "participant"}, http.StatusForbidden},
		{"participant with permission", auth.Principal{UserID: "u1", Role: "participant", Permissions: []string{"events:write"}}, http.StatusOK},
		{"admin", auth.Principal{UserID: "u1", Role: "admin"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/events", nil)
			req.Header.Set("Authorization", bearer(t, manager, tt.principal))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequirePermission_WithoutClaims(t *testing.T) {
	handler := RequirePermission(auth.PermAuditRead, "test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
