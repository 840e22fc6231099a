package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Togather-Foundation/eventbook/internal/api/problem"
)

const (
	IdempotencyHeader       = "Idempotency-Key"
	idempotencyContextKey   = contextKey("idempotency_key")
	maxIdempotencyKeyLength = 128
)

var errInvalidIdempotencyKey = errors.New("Idempotency-Key must be 1 to 128 printable ASCII characters")

// Idempotency validates the Idempotency-Key header and exposes it through
// IdempotencyKey. Handlers decide how to honour it.
func Idempotency(env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, present := r.Header[http.CanonicalHeaderKey(IdempotencyHeader)]
			if !present {
				next.ServeHTTP(w, r)
				return
			}
			key := ""
			if len(raw) > 0 {
				key = strings.TrimSpace(raw[0])
			}
			if !validIdempotencyKey(key) {
				problem.BadRequest(w, r, errInvalidIdempotencyKey, env)
				return
			}
			ctx := context.WithValue(r.Context(), idempotencyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validIdempotencyKey(key string) bool {
	if key == "" || len(key) > maxIdempotencyKeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		if c := key[i]; c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}

// IdempotencyKey returns the validated key for r, or "".
func IdempotencyKey(r *http.Request) string {
	if r == nil {
		return ""
	}
	if value, ok := r.Context().Value(idempotencyContextKey).(string); ok {
		return value
	}
	return ""
}
