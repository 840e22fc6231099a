package middleware

import (
	"fmt"
	"net/http"

	"github.com/Togather-Foundation/eventbook/internal/api/problem"
)

// DefaultMaxBodySize caps JSON request bodies.
const DefaultMaxBodySize int64 = 1 << 20

// RequestSize rejects bodies larger than maxBytes with 413. A declared
// Content-Length over the limit is refused before the handler runs; bodies
// without one are cut off by http.MaxBytesReader while being read.
func RequestSize(maxBytes int64, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				problem.Write(w, r, http.StatusRequestEntityTooLarge, problem.TypeTooLarge, "Payload too large",
					fmt.Errorf("request body exceeds %d bytes", maxBytes), env)
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
