package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/api/middleware"
	"github.com/Togather-Foundation/eventbook/internal/api/pagination"
	"github.com/Togather-Foundation/eventbook/internal/api/problem"
	"github.com/Togather-Foundation/eventbook/internal/cache"
	"github.com/Togather-Foundation/eventbook/internal/domain/bookings"
	"github.com/Togather-Foundation/eventbook/internal/domain/ids"
	"github.com/Togather-Foundation/eventbook/internal/metrics"
	"github.com/Togather-Foundation/eventbook/internal/tickets"
	"github.com/Togather-Foundation/eventbook/internal/validation"
	"github.com/rs/zerolog"
)

const createBookingOperation = "create_booking"

// BookingService is the booking lifecycle API.
type BookingService interface {
	Create(ctx context.Context, userID string, params bookings.CreateBookingParams) (*bookings.Booking, error)
	Get(ctx context.Context, id string, actor bookings.Actor) (*bookings.Booking, error)
	List(ctx context.Context, filters bookings.Filters, actor bookings.Actor) ([]bookings.Booking, int64, error)
	Confirm(ctx context.Context, id string, actor bookings.Actor) (*bookings.Booking, error)
	Refuse(ctx context.Context, id, reason string, actor bookings.Actor) (*bookings.Booking, error)
	Cancel(ctx context.Context, id, reason string, actor bookings.Actor) (*bookings.Booking, error)
	TicketToken(ctx context.Context, id string, actor bookings.Actor) (string, *bookings.Booking, error)
	VerifyTicket(ctx context.Context, id, token string) (bookings.TicketCheck, error)
	Ticket(ctx context.Context, id, token string) (*bookings.Booking, error)
}

// BookingsHandler serves /bookings.
type BookingsHandler struct {
	bookings    BookingService
	idempotency cache.IdempotencyStore
	baseURL     string
	env         string
	now         func() time.Time
}

// NewBookingsHandler creates the handler. A nil store disables Idempotency-Key
// replay; the header is then validated but has no effect.
func NewBookingsHandler(service BookingService, store cache.IdempotencyStore, baseURL, env string) *BookingsHandler {
	return &BookingsHandler{
		bookings:    service,
		idempotency: store,
		baseURL:     strings.TrimRight(baseURL, "/"),
		env:         env,
		now:         time.Now,
	}
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type TicketTokenResponse struct {
	Token       string `json:"token"`
	DownloadURL string `json:"downloadUrl"`
	VerifyURL   string `json:"verifyUrl"`
}

type TicketVerification struct {
	Valid      bool   `json:"valid"`
	BookingID  string `json:"bookingId"`
	Reference  string `json:"reference,omitempty"`
	Status     string `json:"status,omitempty"`
	EventTitle string `json:"eventTitle,omitempty"`
}

// Create books a seat. With an Idempotency-Key, a repeated request returns
// the booking the first one created with 200, and a request racing the first
// one gets 409.
func (h *BookingsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req bookings.CreateBookingParams
	if !decodeJSON(w, r, &req, h.env) {
		return
	}
	ctx := r.Context()
	userID := middleware.UserID(r)
	logger := zerolog.Ctx(ctx)

	key := middleware.IdempotencyKey(r)
	if key == "" || h.idempotency == nil {
		h.create(w, r, userID, req, "")
		return
	}

	scoped := cache.ScopedKey(createBookingOperation, userID, key)
	reservation, err := h.idempotency.Reserve(ctx, scoped)
	switch {
	case errors.Is(err, cache.ErrInFlight):
		writeMapped(w, r, err, h.env, mapBookingError)
		return
	case err != nil:
		logger.Warn().Err(err).Msg("idempotency store unavailable; creating without replay protection")
		h.create(w, r, userID, req, "")
		return
	}

	if !reservation.Claimed {
		booking, err := h.bookings.Get(ctx, reservation.ResultID, bookingActor(r))
		if err != nil {
			writeMapped(w, r, err, h.env, mapBookingError)
			return
		}
		metrics.IdempotencyReplays.Inc()
		writeJSON(w, http.StatusOK, newBookingResponse(*booking))
		return
	}

	h.create(w, r, userID, req, scoped)
}

// create runs the booking and settles the reserved idempotency key, if any.
func (h *BookingsHandler) create(w http.ResponseWriter, r *http.Request, userID string, req bookings.CreateBookingParams, scopedKey string) {
	ctx := r.Context()
	booking, err := h.bookings.Create(ctx, userID, req)
	if err != nil {
		if scopedKey != "" {
			if releaseErr := h.idempotency.Release(ctx, scopedKey); releaseErr != nil {
				zerolog.Ctx(ctx).Warn().Err(releaseErr).Msg("failed to release idempotency key")
			}
		}
		writeMapped(w, r, err, h.env, mapBookingError)
		return
	}
	if scopedKey != "" {
		if err := h.idempotency.Complete(ctx, scopedKey, booking.ID); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("booking_id", booking.ID).Msg("failed to store idempotency result")
		}
	}

	w.Header().Set("Location", "/bookings/"+booking.ID)
	writeJSON(w, http.StatusCreated, newBookingResponse(*booking))
}

func (h *BookingsHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := pagination.Parse(r.URL.Query())
	if err != nil {
		writeMapped(w, r, err, h.env, mapBookingError)
		return
	}
	filters, err := bookingFilters(r, page)
	if err != nil {
		writeMapped(w, r, err, h.env, mapBookingError)
		return
	}

	items, total, err := h.bookings.List(r.Context(), filters, bookingActor(r))
	if err != nil {
		writeMapped(w, r, err, h.env, mapBookingError)
		return
	}
	writeJSON(w, http.StatusOK, pagination.NewPage(pagination.Map(items, newBookingResponse), total, page))
}

func bookingFilters(r *http.Request, page pagination.Params) (bookings.Filters, error) {
	filters := bookings.Filters{Limit: page.Limit, Offset: page.Offset}
	if raw := queryValue(r, "status"); raw != "" {
		status, ok := bookings.ParseStatus(strings.ToLower(raw))
		if !ok {
			return filters, validation.Field("status", "must be one of: pending, confirmed, refused, canceled")
		}
		filters.Status = status
	}
	for _, p := range []struct {
		name string
		dst  *string
	}{{"eventId", &filters.EventID}, {"userId", &filters.UserID}} {
		raw := queryValue(r, p.name)
		if raw == "" {
			continue
		}
		id, err := ids.NormalizeID(raw)
		if err != nil {
			return filters, validation.Field(p.name, "must be a UUID")
		}
		*p.dst = id
	}
	return filters, nil
}

func (h *BookingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id", bookings.ErrNotFound, h.env)
	if !ok {
		return
	}

	booking, err := h.bookings.Get(r.Context(), id, bookingActor(r))
	if err != nil {
		writeMapped(w, r, err, h.env, mapBookingError)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(*booking))
}

func (h *BookingsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id", bookings.ErrNotFound, h.env)
	if !ok {
		return
	}

	booking, err := h.bookings.Confirm(r.Context(), id, bookingActor(r))
	if err != nil {
		writeMapped(w, r, err, h.env, mapBookingError)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(*booking))
}

func (h *BookingsHandler) Refuse(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id", bookings.ErrNotFound, h.env)
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeJSON(w, r, &req, h.env) {
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeMapped(w, r, validation.Field("reason", "is required"), h.env, mapBookingError)
		return
	}

	booking, err := h.bookings.Refuse(r.Context(), id, req.Reason, bookingActor(r))
	if err != nil {
		writeMapped(w, r, err, h.env, mapBookingError)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(*booking))
}

func (h *BookingsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id", bookings.ErrNotFound, h.env)
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeOptionalJSON(w, r, &req, h.env) {
		return
	}

	booking, err := h.bookings.Cancel(r.Context(), id, req.Reason, bookingActor(r))
	if err != nil {
		writeMapped(w, r, err, h.env, mapBookingError)
		return
	}
	writeJSON(w, http.StatusOK, newBookingResponse(*booking))
}

func (h *BookingsHandler) TicketToken(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id", bookings.ErrNotFound, h.env)
	if !ok {
		return
	}

	token, booking, err := h.bookings.TicketToken(r.Context(), id, bookingActor(r))
	if err != nil {
		writeMapped(w, r, err, h.env, mapBookingError)
		return
	}
	writeJSON(w, http.StatusOK, TicketTokenResponse{
		Token:       token,
		DownloadURL: h.ticketURL(booking.ID, "ticket", token),
		VerifyURL:   h.ticketURL(booking.ID, "ticket/verify", token),
	})
}

// VerifyTicket answers 200 for any existing booking; valid reports whether
// the token matches a confirmed booking.
func (h *BookingsHandler) VerifyTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id", bookings.ErrNotFound, h.env)
	if !ok {
		return
	}

	check, err := h.bookings.VerifyTicket(r.Context(), id, queryValue(r, "token"))
	if err != nil {
		writeMapped(w, r, err, h.env, mapBookingError)
		return
	}

	resp := TicketVerification{Valid: check.Valid, BookingID: id}
	if check.Booking != nil {
		resp.Reference = check.Booking.Reference
		resp.Status = string(check.Booking.Status)
		resp.EventTitle = check.Booking.EventTitle
	}
	writeJSON(w, http.StatusOK, resp)
}

// Ticket streams the PDF ticket. The token in the query is the capability.
func (h *BookingsHandler) Ticket(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id", bookings.ErrNotFound, h.env)
	if !ok {
		return
	}
	token := queryValue(r, "token")

	booking, err := h.bookings.Ticket(r.Context(), id, token)
	if err != nil {
		writeMapped(w, r, err, h.env, mapBookingError)
		return
	}

	pdf, err := tickets.RenderPDF(tickets.Ticket{
		BookingID:   booking.ID,
		Reference:   booking.Reference,
		HolderName:  booking.UserName,
		HolderEmail: booking.UserEmail,
		EventTitle:  booking.EventTitle,
		Location:    booking.EventLocation,
		StartsAt:    booking.EventStartsAt,
		EndsAt:      booking.EventEndsAt,
		ConfirmedAt: booking.ConfirmedAt,
		VerifyURL:   h.ticketURL(booking.ID, "ticket/verify", token),
		IssuedAt:    h.now().UTC(),
	})
	if err != nil {
		problem.ServerError(w, r, err, h.env)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="ticket-%s.pdf"`, booking.Reference))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *BookingsHandler) ticketURL(bookingID, suffix, token string) string {
	return h.baseURL + "/bookings/" + bookingID + "/" + suffix + "?token=" + url.QueryEscape(token)
}
