package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/api/middleware"
	"github.com/Togather-Foundation/eventbook/internal/cache"
	"github.com/Togather-Foundation/eventbook/internal/domain/bookings"
	"github.com/Togather-Foundation/eventbook/internal/domain/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const createBody = `{"eventId":"` + testEventID + `","notes":"vegetarian"}`

var participantActor = bookings.Actor{UserID: testUserID}

// serveCreate runs Create behind the Idempotency middleware, as the router does.
func serveCreate(h *BookingsHandler, key string) *httptest.ResponseRecorder {
	req := asParticipant(jsonRequest(http.MethodPost, "/bookings", createBody))
	if key != "" {
		req.Header.Set(middleware.IdempotencyHeader, key)
	}
	w := httptest.NewRecorder()
	middleware.Idempotency("test")(http.HandlerFunc(h.Create)).ServeHTTP(w, req)
	return w
}

func TestCreateBooking_WithoutKey(t *testing.T) {
	svc := new(MockBookingService)
	store := new(MockIdempotencyStore)
	handler := NewBookingsHandler(svc, store, "http://localhost:8080", "test")
	svc.On("Create", mock.Anything, testUserID, bookings.CreateBookingParams{EventID: testEventID, Notes: "vegetarian"}).
		Return(sampleBooking(bookings.StatusPending), nil)

	w := serveCreate(handler, "")

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "/bookings/"+testBookingID, w.Header().Get("Location"))
	assert.Contains(t, w.Body.String(), `"status":"pending"`)
	store.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything)
}

func TestCreateBooking_Idempotency(t *testing.T) {
	scoped := cache.ScopedKey(createBookingOperation, testUserID, "order-42")

	t.Run("first request completes the key", func(t *testing.T) {
		svc := new(MockBookingService)
		store := new(MockIdempotencyStore)
		handler := NewBookingsHandler(svc, store, "", "test")
		store.On("Reserve", mock.Anything, scoped).Return(cache.Reservation{Claimed: true}, nil)
		store.On("Complete", mock.Anything, scoped, testBookingID).Return(nil)
		svc.On("Create", mock.Anything, testUserID, mock.Anything).Return(sampleBooking(bookings.StatusPending), nil)

		w := serveCreate(handler, "order-42")

		assert.Equal(t, http.StatusCreated, w.Code)
		store.AssertExpectations(t)
		svc.AssertExpectations(t)
	})

	t.Run("replay returns the original booking", func(t *testing.T) {
		svc := new(MockBookingService)
		store := new(MockIdempotencyStore)
		handler := NewBookingsHandler(svc, store, "", "test")
		store.On("Reserve", mock.Anything, scoped).Return(cache.Reservation{ResultID: testBookingID}, nil)
		svc.On("Get", mock.Anything, testBookingID, participantActor).Return(sampleBooking(bookings.StatusPending), nil)

		w := serveCreate(handler, "order-42")

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"id":"`+testBookingID+`"`)
		svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("concurrent duplicate is rejected", func(t *testing.T) {
		svc := new(MockBookingService)
		store := new(MockIdempotencyStore)
		handler := NewBookingsHandler(svc, store, "", "test")
		store.On("Reserve", mock.Anything, scoped).Return(cache.Reservation{}, cache.ErrInFlight)

		w := serveCreate(handler, "order-42")

		assert.Equal(t, http.StatusConflict, w.Code)
		svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("store outage creates without protection", func(t *testing.T) {
		svc := new(MockBookingService)
		store := new(MockIdempotencyStore)
		handler := NewBookingsHandler(svc, store, "", "test")
		store.On("Reserve", mock.Anything, scoped).Return(cache.Reservation{}, errors.New("redis: connection refused"))
		svc.On("Create", mock.Anything, testUserID, mock.Anything).Return(sampleBooking(bookings.StatusPending), nil)

		w := serveCreate(handler, "order-42")

		assert.Equal(t, http.StatusCreated, w.Code)
		store.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("failed create releases the key", func(t *testing.T) {
		svc := new(MockBookingService)
		store := new(MockIdempotencyStore)
		handler := NewBookingsHandler(svc, store, "", "test")
		store.On("Reserve", mock.Anything, scoped).Return(cache.Reservation{Claimed: true}, nil)
		store.On("Release", mock.Anything, scoped).Return(nil)
		svc.On("Create", mock.Anything, testUserID, mock.Anything).Return(nil, events.ErrEventFull)

		w := serveCreate(handler, "order-42")

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "Event is full")
		store.AssertExpectations(t)
	})
}

func TestCreateBooking_Errors(t *testing.T) {
	tests := []struct {
		name       string
		serviceErr error
		wantStatus int
	}{
		{name: "duplicate", serviceErr: bookings.ErrDuplicateBooking, wantStatus: http.StatusConflict},
		{name: "not bookable", serviceErr: events.ErrNotBookable, wantStatus: http.StatusConflict},
		{name: "expired", serviceErr: events.ErrEventExpired, wantStatus: http.StatusConflict},
		{name: "unknown event", serviceErr: events.ErrNotFound, wantStatus: http.StatusNotFound},
		{name: "unexpected", serviceErr: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockBookingService)
			handler := NewBookingsHandler(svc, nil, "", "test")
			svc.On("Create", mock.Anything, testUserID, mock.Anything).Return(nil, tt.serviceErr)

			w := serveCreate(handler, "")

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestListBookings_Filters(t *testing.T) {
	svc := new(MockBookingService)
	handler := NewBookingsHandler(svc, nil, "", "test")
	svc.On("List", mock.Anything, bookings.Filters{
		EventID: testEventID,
		Status:  bookings.StatusConfirmed,
		Limit:   10,
	}, participantActor).Return([]bookings.Booking{*sampleBooking(bookings.StatusConfirmed)}, int64(1), nil)

	w := httptest.NewRecorder()
	handler.List(w, asParticipant(httptest.NewRequest(http.MethodGet, "/bookings?status=CONFIRMED&eventId="+testEventID+"&limit=10", nil)))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
	svc.AssertExpectations(t)
}

func TestListBookings_InvalidFilters(t *testing.T) {
	for _, query := range []string{"eventId=nope", "userId=42", "status=lost", "offset=-1"} {
		t.Run(query, func(t *testing.T) {
			svc := new(MockBookingService)
			handler := NewBookingsHandler(svc, nil, "", "test")

			w := httptest.NewRecorder()
			handler.List(w, asParticipant(httptest.NewRequest(http.MethodGet, "/bookings?"+query, nil)))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			svc.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestGetBooking_Forbidden(t *testing.T) {
	svc := new(MockBookingService)
	handler := NewBookingsHandler(svc, nil, "", "test")
	svc.On("Get", mock.Anything, testBookingID, participantActor).Return(nil, bookings.ErrForbidden)

	w := httptest.NewRecorder()
	handler.Get(w, asParticipant(withPath(httptest.NewRequest(http.MethodGet, "/bookings/"+testBookingID, nil), "id", testBookingID)))

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestConfirmBooking(t *testing.T) {
	svc := new(MockBookingService)
	handler := NewBookingsHandler(svc, nil, "", "test")
	confirmed := sampleBooking(bookings.StatusConfirmed)
	at := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	confirmed.ConfirmedAt = &at
	svc.On("Confirm", mock.Anything, testBookingID, bookings.Actor{UserID: testAdminID, CanManage: true}).Return(confirmed, nil)

	w := httptest.NewRecorder()
	handler.Confirm(w, asAdmin(withPath(httptest.NewRequest(http.MethodPost, "/bookings/"+testBookingID+"/confirm", nil), "id", testBookingID)))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"confirmed"`)
}

func TestRefuseBooking_RequiresReason(t *testing.T) {
	svc := new(MockBookingService)
	handler := NewBookingsHandler(svc, nil, "", "test")

	req := withPath(jsonRequest(http.MethodPost, "/bookings/"+testBookingID+"/refuse", `{"reason":"   "}`), "id", testBookingID)
	w := httptest.NewRecorder()
	handler.Refuse(w, asAdmin(req))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "Refuse", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRefuseBooking_InvalidTransition(t *testing.T) {
	svc := new(MockBookingService)
	handler := NewBookingsHandler(svc, nil, "", "test")
	svc.On("Refuse", mock.Anything, testBookingID, "sold out", mock.Anything).Return(nil, bookings.ErrInvalidTransition)

	req := withPath(jsonRequest(http.MethodPost, "/bookings/"+testBookingID+"/refuse", `{"reason":"sold out"}`), "id", testBookingID)
	w := httptest.NewRecorder()
	handler.Refuse(w, asAdmin(req))

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCancelBooking_EmptyBody(t *testing.T) {
	svc := new(MockBookingService)
	handler := NewBookingsHandler(svc, nil, "", "test")
	svc.On("Cancel", mock.Anything, testBookingID, "", participantActor).Return(sampleBooking(bookings.StatusCanceled), nil)

	req := withPath(httptest.NewRequest(http.MethodPost, "/bookings/"+testBookingID+"/cancel", nil), "id", testBookingID)
	w := httptest.NewRecorder()
	handler.Cancel(w, asParticipant(req))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"canceled"`)
	svc.AssertExpectations(t)
}

func TestTicketToken_URLs(t *testing.T) {
	svc := new(MockBookingService)
	handler := NewBookingsHandler(svc, nil, "https://book.example.org/", "test")
	svc.On("TicketToken", mock.Anything, testBookingID, participantActor).Return("abc+/=", sampleBooking(bookings.StatusConfirmed), nil)

	req := withPath(httptest.NewRequest(http.MethodGet, "/bookings/"+testBookingID+"/ticket-token", nil), "id", testBookingID)
	w := httptest.NewRecorder()
	handler.TicketToken(w, asParticipant(req))

	require.Equal(t, http.StatusOK, w.Code)
	var resp TicketTokenResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "abc+/=", resp.Token)
	assert.Equal(t, "https://book.example.org/bookings/"+testBookingID+"/ticket?token=abc%2B%2F%3D", resp.DownloadURL)
	assert.Equal(t, "https://book.example.org/bookings/"+testBookingID+"/ticket/verify?token=abc%2B%2F%3D", resp.VerifyURL)
}

func TestTicketToken_NotConfirmed(t *testing.T) {
	svc := new(MockBookingService)
	handler := NewBookingsHandler(svc, nil, "", "test")
	svc.On("TicketToken", mock.Anything, testBookingID, participantActor).Return("", nil, bookings.ErrNotConfirmed)

	req := withPath(httptest.NewRequest(http.MethodGet, "/bookings/"+testBookingID+"/ticket-token", nil), "id", testBookingID)
	w := httptest.NewRecorder()
	handler.TicketToken(w, asParticipant(req))

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestVerifyTicket(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		svc := new(MockBookingService)
		handler := NewBookingsHandler(svc, nil, "", "test")
		svc.On("VerifyTicket", mock.Anything, testBookingID, "good").
			Return(bookings.TicketCheck{Valid: true, Booking: sampleBooking(bookings.StatusConfirmed)}, nil)

		req := withPath(httptest.NewRequest(http.MethodGet, "/bookings/"+testBookingID+"/ticket/verify?token=good", nil), "id", testBookingID)
		w := httptest.NewRecorder()
		handler.VerifyTicket(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var resp TicketVerification
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.True(t, resp.Valid)
		assert.Equal(t, "BK-7Q2M9X", resp.Reference)
		assert.Equal(t, "Go meetup", resp.EventTitle)
	})

	t.Run("tampered token", func(t *testing.T) {
		svc := new(MockBookingService)
		handler := NewBookingsHandler(svc, nil, "", "test")
		svc.On("VerifyTicket", mock.Anything, testBookingID, "forged").Return(bookings.TicketCheck{}, nil)

		req := withPath(httptest.NewRequest(http.MethodGet, "/bookings/"+testBookingID+"/ticket/verify?token=forged", nil), "id", testBookingID)
		w := httptest.NewRecorder()
		handler.VerifyTicket(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var resp TicketVerification
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.False(t, resp.Valid)
		assert.Equal(t, testBookingID, resp.BookingID)
		assert.Empty(t, resp.Reference)
	})
}

func TestTicket_PDF(t *testing.T) {
	svc := new(MockBookingService)
	handler := NewBookingsHandler(svc, nil, "http://localhost:8080", "test")
	confirmed := sampleBooking(bookings.StatusConfirmed)
	at := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	confirmed.ConfirmedAt = &at
	svc.On("Ticket", mock.Anything, testBookingID, "good").Return(confirmed, nil)
	svc.On("Ticket", mock.Anything, testBookingID, "forged").Return(nil, bookings.ErrInvalidTicket)

	req := withPath(httptest.NewRequest(http.MethodGet, "/bookings/"+testBookingID+"/ticket?token=good", nil), "id", testBookingID)
	w := httptest.NewRecorder()
	handler.Ticket(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="ticket-BK-7Q2M9X.pdf"`, w.Header().Get("Content-Disposition"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")))

	req = withPath(httptest.NewRequest(http.MethodGet, "/bookings/"+testBookingID+"/ticket?token=forged", nil), "id", testBookingID)
	w = httptest.NewRecorder()
	handler.Ticket(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}
