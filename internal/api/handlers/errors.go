package handlers

import (
	"errors"
	"net/http"

	"github.com/Togather-Foundation/eventbook/internal/api/pagination"
	"github.com/Togather-Foundation/eventbook/internal/api/problem"
	"github.com/Togather-Foundation/eventbook/internal/audit"
	"github.com/Togather-Foundation/eventbook/internal/cache"
	"github.com/Togather-Foundation/eventbook/internal/domain/bookings"
	"github.com/Togather-Foundation/eventbook/internal/domain/events"
	"github.com/Togather-Foundation/eventbook/internal/domain/users"
	"github.com/Togather-Foundation/eventbook/internal/validation"
)

func isValidationError(err error) bool {
	var filterErr events.FilterError
	var paramErr pagination.ParamError
	return errors.Is(err, validation.ErrValidation) || errors.As(err, &filterErr) || errors.As(err, &paramErr)
}

func mapUserError(err error) (status int, problemType, title string) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, problem.TypeValidation, "Invalid request"
	case errors.Is(err, users.ErrInvalidCredentials):
		return http.StatusUnauthorized, problem.TypeUnauthorized, "Invalid credentials"
	case errors.Is(err, users.ErrInvalidToken):
		return http.StatusBadRequest, problem.TypeValidation, "Invalid or expired token"
	case errors.Is(err, users.ErrEmailTaken):
		return http.StatusConflict, problem.TypeConflict, "Email already taken"
	case errors.Is(err, users.ErrCannotDeleteSelf), errors.Is(err, users.ErrCannotDemoteSelf):
		return http.StatusConflict, problem.TypeConflict, "Conflict"
	case errors.Is(err, users.ErrUserNotFound):
		return http.StatusNotFound, problem.TypeNotFound, "User not found"
	default:
		return http.StatusInternalServerError, problem.TypeServerError, "Server error"
	}
}

func mapEventError(err error) (status int, problemType, title string) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, problem.TypeValidation, "Invalid request"
	case errors.Is(err, events.ErrNotFound):
		return http.StatusNotFound, problem.TypeNotFound, "Event not found"
	case errors.Is(err, events.ErrTitleTaken):
		return http.StatusConflict, problem.TypeConflict, "Title already taken"
	case errors.Is(err, events.ErrInvalidTransition),
		errors.Is(err, events.ErrPastEvent),
		errors.Is(err, events.ErrCapacityBelowBookings),
		errors.Is(err, events.ErrHasActiveBookings):
		return http.StatusConflict, problem.TypeConflict, "Conflict"
	default:
		return http.StatusInternalServerError, problem.TypeServerError, "Server error"
	}
}

func mapBookingError(err error) (status int, problemType, title string) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, problem.TypeValidation, "Invalid request"
	case errors.Is(err, bookings.ErrNotFound):
		return http.StatusNotFound, problem.TypeNotFound, "Booking not found"
	case errors.Is(err, events.ErrNotFound):
		return http.StatusNotFound, problem.TypeNotFound, "Event not found"
	case errors.Is(err, bookings.ErrForbidden):
		return http.StatusForbidden, problem.TypeForbidden, "Forbidden"
	case errors.Is(err, bookings.ErrInvalidTicket):
		return http.StatusForbidden, problem.TypeForbidden, "Invalid ticket token"
	case errors.Is(err, events.ErrEventFull):
		return http.StatusConflict, problem.TypeConflict, "Event is full"
	case errors.Is(err, events.ErrNotBookable), errors.Is(err, events.ErrEventExpired):
		return http.StatusConflict, problem.TypeConflict, "Event not bookable"
	case errors.Is(err, bookings.ErrDuplicateBooking):
		return http.StatusConflict, problem.TypeConflict, "Duplicate booking"
	case errors.Is(err, bookings.ErrInvalidTransition):
		return http.StatusConflict, problem.TypeConflict, "Invalid transition"
	case errors.Is(err, bookings.ErrNotConfirmed):
		return http.StatusConflict, problem.TypeConflict, "Booking not confirmed"
	case errors.Is(err, cache.ErrInFlight):
		return http.StatusConflict, problem.TypeConflict, "Request in progress"
	default:
		return http.StatusInternalServerError, problem.TypeServerError, "Server error"
	}
}

func mapAuditError(err error) (status int, problemType, title string) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, problem.TypeValidation, "Invalid request"
	case errors.Is(err, audit.ErrNotFound):
		return http.StatusNotFound, problem.TypeNotFound, "Audit entry not found"
	default:
		return http.StatusInternalServerError, problem.TypeServerError, "Server error"
	}
}

// writeMapped answers err with the status picked by mapper.
func writeMapped(w http.ResponseWriter, r *http.Request, err error, env string, mapper func(error) (int, string, string)) {
	status, problemType, title := mapper(err)
	problem.Write(w, r, status, problemType, title, err, env)
}
