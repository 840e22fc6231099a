package middleware

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/audit"
	"github.com/Togather-Foundation/eventbook/internal/auth"
)

// AuditSink accepts entries without blocking.
type AuditSink interface {
	Record(entry audit.Entry)
}

// Audit records every mutating request after its handler returns. Up to
// audit.MaxBodyBytes of the body are kept, with secrets redacted. The caller
// is read from the Bearer token when one validates; anonymous requests are
// recorded without a user.
func Audit(sink AuditSink, manager *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, audited := audit.AuditedMethods[r.Method]; sink == nil || !audited {
				next.ServeHTTP(w, r)
				return
			}

			captured, truncated := captureBody(r)
			rw := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rw, r)

			entry := audit.Entry{
				Method:     r.Method,
				URL:        r.URL.RequestURI(),
				Status:     rw.Status(),
				Changes:    audit.Redact(captured, truncated),
				RemoteAddr: remoteHost(r.RemoteAddr),
				RequestID:  GetRequestID(r.Context()),
				CreatedAt:  time.Now().UTC(),
			}
			if claims, err := claimsFromHeader(manager, r); err == nil && claims.Subject != "" {
				userID := claims.Subject
				entry.UserID = &userID
				entry.UserEmail = claims.Email
			}
			sink.Record(entry)
		})
	}
}

// captureBody reads up to audit.MaxBodyBytes and puts them back in front of
// the unread remainder so the handler still sees the whole body.
func captureBody(r *http.Request) ([]byte, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, false
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, audit.MaxBodyBytes+1))
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(buf), r.Body), Closer: r.Body}
	if err != nil {
		return nil, true
	}
	if int64(len(buf)) > audit.MaxBodyBytes {
		return buf[:audit.MaxBodyBytes], true
	}
	return buf, false
}

type readCloser struct {
	io.Reader
	io.Closer
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
