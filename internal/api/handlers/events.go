package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/api/middleware"
	"github.com/Togather-Foundation/eventbook/internal/api/pagination"
	"github.com/Togather-Foundation/eventbook/internal/auth"
	"github.com/Togather-Foundation/eventbook/internal/domain/bookings"
	"github.com/Togather-Foundation/eventbook/internal/domain/events"
	"github.com/Togather-Foundation/eventbook/internal/validation"
)

// EventReader serves event reads.
type EventReader interface {
	List(ctx context.Context, filters events.Filters) ([]events.Event, int64, error)
	Get(ctx context.Context, id string, includeHidden bool) (*events.Event, error)
}

// EventAdmin serves event writes.
type EventAdmin interface {
	CreateEvent(ctx context.Context, params events.CreateEventParams, createdBy string) (*events.Event, error)
	UpdateEvent(ctx context.Context, id string, params events.UpdateEventParams) (*events.Event, error)
	DeleteEvent(ctx context.Context, id string) error
}

// EventsHandler serves /events.
type EventsHandler struct {
	events   EventReader
	admin    EventAdmin
	bookings BookingService
	env      string
	now      func() time.Time
}

func NewEventsHandler(reader EventReader, admin EventAdmin, bookingService BookingService, env string) *EventsHandler {
	return &EventsHandler{events: reader, admin: admin, bookings: bookingService, env: env, now: time.Now}
}

// canSeeHidden reports whether the caller may see draft and canceled events.
func canSeeHidden(r *http.Request) bool {
	return middleware.Claims(r).Can(auth.PermEventsWrite)
}

func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	filters, err := events.ParseFilters(r.URL.Query())
	if err != nil {
		writeMapped(w, r, err, h.env, mapEventError)
		return
	}
	filters.IncludeHidden = canSeeHidden(r)

	items, total, err := h.events.List(r.Context(), filters)
	if err != nil {
		writeMapped(w, r, err, h.env, mapEventError)
		return
	}

	now := h.now()
	page := pagination.Params{Limit: filters.Limit, Offset: filters.Offset}
	writeJSON(w, http.StatusOK, pagination.NewPage(pagination.Map(items, func(e events.Event) EventResponse {
		return newEventResponse(e, now)
	}), total, page))
}

func (h *EventsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id", events.ErrNotFound, h.env)
	if !ok {
		return
	}

	event, err := h.events.Get(r.Context(), id, canSeeHidden(r))
	if err != nil {
		writeMapped(w, r, err, h.env, mapEventError)
		return
	}
	writeJSON(w, http.StatusOK, newEventResponse(*event, h.now()))
}

func (h *EventsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req events.CreateEventParams
	if !decodeJSON(w, r, &req, h.env) {
		return
	}

	event, err := h.admin.CreateEvent(r.Context(), req, middleware.UserID(r))
	if err != nil {
		writeMapped(w, r, err, h.env, mapEventError)
		return
	}

	w.Header().Set("Location", "/events/"+event.ID)
	writeJSON(w, http.StatusCreated, newEventResponse(*event, h.now()))
}

func (h *EventsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id", events.ErrNotFound, h.env)
	if !ok {
		return
	}
	var req events.UpdateEventParams
	if !decodeJSON(w, r, &req, h.env) {
		return
	}

	event, err := h.admin.UpdateEvent(r.Context(), id, req)
	if err != nil {
		writeMapped(w, r, err, h.env, mapEventError)
		return
	}
	writeJSON(w, http.StatusOK, newEventResponse(*event, h.now()))
}

func (h *EventsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id", events.ErrNotFound, h.env)
	if !ok {
		return
	}

	if err := h.admin.DeleteEvent(r.Context(), id); err != nil {
		writeMapped(w, r, err, h.env, mapEventError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Bookings lists the bookings of one event for booking managers.
func (h *EventsHandler) Bookings(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id", events.ErrNotFound, h.env)
	if !ok {
		return
	}
	page, err := pagination.Parse(r.URL.Query())
	if err != nil {
		writeMapped(w, r, err, h.env, mapEventError)
		return
	}
	filters := bookings.Filters{EventID: id, Limit: page.Limit, Offset: page.Offset}
	if raw := queryValue(r, "status"); raw != "" {
		status, ok := bookings.ParseStatus(raw)
		if !ok {
			writeMapped(w, r, validation.Field("status", "must be one of: pending, confirmed, refused, canceled"), h.env, mapEventError)
			return
		}
		filters.Status = status
	}

	if _, err := h.events.Get(r.Context(), id, true); err != nil {
		writeMapped(w, r, err, h.env, mapEventError)
		return
	}

	items, total, err := h.bookings.List(r.Context(), filters, bookingActor(r))
	if err != nil {
		writeMapped(w, r, err, h.env, mapBookingError)
		return
	}
	writeJSON(w, http.StatusOK, pagination.NewPage(pagination.Map(items, newBookingResponse), total, page))
}
