package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Togather-Foundation/eventbook/internal/api/middleware"
	"github.com/Togather-Foundation/eventbook/internal/api/problem"
	"github.com/Togather-Foundation/eventbook/internal/auth"
	"github.com/Togather-Foundation/eventbook/internal/domain/bookings"
	"github.com/Togather-Foundation/eventbook/internal/domain/ids"
)

var errEmptyBody = errors.New("request body is empty")

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func pathParam(r *http.Request, key string) string {
	if r == nil {
		return ""
	}
	return r.PathValue(key)
}

// decodeJSON reads the body into dst. It writes the problem response itself
// and reports whether the handler should continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, env string) bool {
	return decode(w, r, dst, env, false)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any, env string) bool {
	return decode(w, r, dst, env, true)
}

func decode(w http.ResponseWriter, r *http.Request, dst any, env string, optional bool) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if err == nil {
		return true
	}

	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		problem.Write(w, r, http.StatusRequestEntityTooLarge, problem.TypeTooLarge, "Request body too large", err, env)
	case errors.Is(err, io.EOF):
		if optional {
			return true
		}
		problem.BadRequest(w, r, errEmptyBody, env)
	default:
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, env)
	}
	return false
}

// idParam reads a UUID path parameter. Malformed IDs cannot name an existing
// resource, so they are answered with 404 and notFound.
func idParam(w http.ResponseWriter, r *http.Request, name string, notFound error, env string) (string, bool) {
	id, err := ids.NormalizeID(pathParam(r, name))
	if err != nil {
		problem.NotFound(w, r, notFound, env)
		return "", false
	}
	return id, true
}

// bookingActor describes the caller to the bookings service.
func bookingActor(r *http.Request) bookings.Actor {
	claims := middleware.Claims(r)
	if claims == nil {
		return bookings.Actor{}
	}
	return bookings.Actor{UserID: claims.Subject, CanManage: claims.Can(auth.PermBookingsManage)}
}

func queryValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}
