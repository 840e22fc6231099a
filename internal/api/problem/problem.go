package problem

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Togather-Foundation/eventbook/internal/validation"
	"github.com/rs/zerolog"
)

const contentType = "application/problem+json"

const typeBase = "https://eventbook.dev/problems/"

const (
	TypeValidation   = typeBase + "validation-error"
	TypeUnauthorized = typeBase + "unauthorized"
	TypeForbidden    = typeBase + "forbidden"
	TypeNotFound     = typeBase + "not-found"
	TypeConflict     = typeBase + "conflict"
	TypeTooLarge     = typeBase + "payload-too-large"
	TypeRateLimited  = typeBase + "rate-limited"
	TypeServerError  = typeBase + "server-error"
)

type ProblemDetails struct {
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Status   int                    `json:"status"`
	Detail   string                 `json:"detail,omitempty"`
	Instance string                 `json:"instance,omitempty"`
	Errors   map[string]interface{} `json:"errors,omitempty"`
}

type Option func(*ProblemDetails)

func WithDetail(detail string) Option {
	return func(p *ProblemDetails) {
		p.Detail = detail
	}
}

func WithInstance(instance string) Option {
	return func(p *ProblemDetails) {
		p.Instance = instance
	}
}

func WithErrors(errs map[string]interface{}) Option {
	return func(p *ProblemDetails) {
		p.Errors = errs
	}
}

// Write renders an RFC 7807 response. Client errors carry err's message as
// detail; server error details are only shown in development and test.
func Write(w http.ResponseWriter, r *http.Request, status int, typ, title string, err error, env string, opts ...Option) {
	problem := ProblemDetails{
		Type:   typ,
		Title:  title,
		Status: status,
	}

	var verr *validation.Error
	if errors.As(err, &verr) && len(verr.Fields) > 0 {
		problem.Errors = verr.Map()
	}

	for _, opt := range opts {
		opt(&problem)
	}

	if problem.Detail == "" && err != nil {
		if status < 500 || env == "development" || env == "test" {
			problem.Detail = err.Error()
		} else {
			problem.Detail = http.StatusText(status)
		}
	}

	if problem.Instance == "" && r != nil {
		problem.Instance = r.URL.Path
	}

	if err != nil && r != nil {
		logger := zerolog.Ctx(r.Context())
		event := logger.Warn()
		if status >= 500 {
			event = logger.Error()
		}
		event.
			Err(err).
			Int("status", status).
			Str("type", typ).
			Str("path", r.URL.Path).
			Str("method", r.Method).
			Msg(title)
	}

	WriteProblem(w, problem)
}

func WriteProblem(w http.ResponseWriter, problem ProblemDetails) {
	payload, err := json.Marshal(problem)
	if err != nil {
		fallback := fmt.Sprintf("{\"type\":\"about:blank\",\"title\":\"%s\",\"status\":500}", http.StatusText(http.StatusInternalServerError))
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(fallback))
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(problem.Status)
	_, _ = w.Write(payload)
}

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
)

// Shorthands for the common statuses.

func BadRequest(w http.ResponseWriter, r *http.Request, err error, env string) {
	Write(w, r, http.StatusBadRequest, TypeValidation, "Invalid request", err, env)
}

func Unauthorized(w http.ResponseWriter, r *http.Request, err error, env string) {
	if err == nil {
		err = ErrUnauthorized
	}
	Write(w, r, http.StatusUnauthorized, TypeUnauthorized, "Unauthorized", err, env)
}

func Forbidden(w http.ResponseWriter, r *http.Request, err error, env string) {
	if err == nil {
		err = ErrForbidden
	}
	Write(w, r, http.StatusForbidden, TypeForbidden, "Forbidden", err, env)
}

func NotFound(w http.ResponseWriter, r *http.Request, err error, env string) {
	if err == nil {
		err = ErrNotFound
	}
	Write(w, r, http.StatusNotFound, TypeNotFound, "Not found", err, env)
}

func Conflict(w http.ResponseWriter, r *http.Request, err error, env string) {
	Write(w, r, http.StatusConflict, TypeConflict, "Conflict", err, env)
}

func ServerError(w http.ResponseWriter, r *http.Request, err error, env string) {
	Write(w, r, http.StatusInternalServerError, TypeServerError, "Server error", err, env)
}
