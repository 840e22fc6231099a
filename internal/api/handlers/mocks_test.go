package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/api/middleware"
	"github.com/Togather-Foundation/eventbook/internal/audit"
	"github.com/Togather-Foundation/eventbook/internal/auth"
	"github.com/Togather-Foundation/eventbook/internal/cache"
	"github.com/Togather-Foundation/eventbook/internal/domain/bookings"
	"github.com/Togather-Foundation/eventbook/internal/domain/events"
	"github.com/Togather-Foundation/eventbook/internal/domain/users"
	"github.com/stretchr/testify/mock"
)

const (
	testUserID    = "00000000-0000-0000-0000-000000000001"
	testAdminID   = "00000000-0000-0000-0000-000000000002"
	testEventID   = "00000000-0000-0000-0000-0000000000e1"
	testBookingID = "00000000-0000-0000-0000-0000000000b1"
)

// MockUserService is a mock implementation of UserService
type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) Register(ctx context.Context, params users.RegisterParams) (*users.User, error) {
	args := m.Called(ctx, params)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUserService) Authenticate(ctx context.Context, email, password string) (*users.User, error) {
	args := m.Called(ctx, email, password)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUserService) GetUser(ctx context.Context, id string) (*users.User, error) {
	args := m.Called(ctx, id)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUserService) ListUsers(ctx context.Context, filters users.ListFilters) ([]users.User, int64, error) {
	args := m.Called(ctx, filters)
	return args.Get(0).([]users.User), args.Get(1).(int64), args.Error(2)
}

func (m *MockUserService) CreateUser(ctx context.Context, params users.CreateUserParams) (*users.User, error) {
	args := m.Called(ctx, params)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUserService) UpdateProfile(ctx context.Context, id string, params users.ProfileParams) (*users.User, error) {
	args := m.Called(ctx, id, params)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUserService) UpdateUser(ctx context.Context, id string, params users.UpdateUserParams, actorID string) (*users.User, error) {
	args := m.Called(ctx, id, params, actorID)
	return userArg(args, 0), args.Error(1)
}

func (m *MockUserService) ChangePassword(ctx context.Context, id, currentPassword, newPassword string) error {
	return m.Called(ctx, id, currentPassword, newPassword).Error(0)
}

func (m *MockUserService) DeleteUser(ctx context.Context, id, actorID string) error {
	return m.Called(ctx, id, actorID).Error(0)
}

func (m *MockUserService) VerifyEmail(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func (m *MockUserService) ResendVerification(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockUserService) RequestPasswordReset(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *MockUserService) ResetPassword(ctx context.Context, token, newPassword string) error {
	return m.Called(ctx, token, newPassword).Error(0)
}

func userArg(args mock.Arguments, i int) *users.User {
	if u, ok := args.Get(i).(*users.User); ok {
		return u
	}
	return nil
}

// MockEventService implements EventReader and EventAdmin.
type MockEventService struct {
	mock.Mock
}

func (m *MockEventService) List(ctx context.Context, filters events.Filters) ([]events.Event, int64, error) {
	args := m.Called(ctx, filters)
	return args.Get(0).([]events.Event), args.Get(1).(int64), args.Error(2)
}

func (m *MockEventService) Get(ctx context.Context, id string, includeHidden bool) (*events.Event, error) {
	args := m.Called(ctx, id, includeHidden)
	return eventArg(args, 0), args.Error(1)
}

func (m *MockEventService) CreateEvent(ctx context.Context, params events.CreateEventParams, createdBy string) (*events.Event, error) {
	args := m.Called(ctx, params, createdBy)
	return eventArg(args, 0), args.Error(1)
}

func (m *MockEventService) UpdateEvent(ctx context.Context, id string, params events.UpdateEventParams) (*events.Event, error) {
	args := m.Called(ctx, id, params)
	return eventArg(args, 0), args.Error(1)
}

func (m *MockEventService) DeleteEvent(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func eventArg(args mock.Arguments, i int) *events.Event {
	if e, ok := args.Get(i).(*events.Event); ok {
		return e
	}
	return nil
}

// MockBookingService is a mock implementation of BookingService
type MockBookingService struct {
	mock.Mock
}

func (m *MockBookingService) Create(ctx context.Context, userID string, params bookings.CreateBookingParams) (*bookings.Booking, error) {
	args := m.Called(ctx, userID, params)
	return bookingArg(args, 0), args.Error(1)
}

func (m *MockBookingService) Get(ctx context.Context, id string, actor bookings.Actor) (*bookings.Booking, error) {
	args := m.Called(ctx, id, actor)
	return bookingArg(args, 0), args.Error(1)
}

func (m *MockBookingService) List(ctx context.Context, filters bookings.Filters, actor bookings.Actor) ([]bookings.Booking, int64, error) {
	args := m.Called(ctx, filters, actor)
	return args.Get(0).([]bookings.Booking), args.Get(1).(int64), args.Error(2)
}

func (m *MockBookingService) Confirm(ctx context.Context, id string, actor bookings.Actor) (*bookings.Booking, error) {
	args := m.Called(ctx, id, actor)
	return bookingArg(args, 0), args.Error(1)
}

func (m *MockBookingService) Refuse(ctx context.Context, id, reason string, actor bookings.Actor) (*bookings.Booking, error) {
	args := m.Called(ctx, id, reason, actor)
	return bookingArg(args, 0), args.Error(1)
}

func (m *MockBookingService) Cancel(ctx context.Context, id, reason string, actor bookings.Actor) (*bookings.Booking, error) {
	args := m.Called(ctx, id, reason, actor)
	return bookingArg(args, 0), args.Error(1)
}

func (m *MockBookingService) TicketToken(ctx context.Context, id string, actor bookings.Actor) (string, *bookings.Booking, error) {
	args := m.Called(ctx, id, actor)
	return args.String(0), bookingArg(args, 1), args.Error(2)
}

func (m *MockBookingService) VerifyTicket(ctx context.Context, id, token string) (bookings.TicketCheck, error) {
	args := m.Called(ctx, id, token)
	return args.Get(0).(bookings.TicketCheck), args.Error(1)
}

func (m *MockBookingService) Ticket(ctx context.Context, id, token string) (*bookings.Booking, error) {
	args := m.Called(ctx, id, token)
	return bookingArg(args, 0), args.Error(1)
}

func bookingArg(args mock.Arguments, i int) *bookings.Booking {
	if b, ok := args.Get(i).(*bookings.Booking); ok {
		return b
	}
	return nil
}

// MockIdempotencyStore is a mock implementation of cache.IdempotencyStore
type MockIdempotencyStore struct {
	mock.Mock
}

func (m *MockIdempotencyStore) Reserve(ctx context.Context, key string) (cache.Reservation, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(cache.Reservation), args.Error(1)
}

func (m *MockIdempotencyStore) Complete(ctx context.Context, key, resultID string) error {
	return m.Called(ctx, key, resultID).Error(0)
}

func (m *MockIdempotencyStore) Release(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

// MockAuditReader is a mock implementation of AuditReader
type MockAuditReader struct {
	mock.Mock
}

func (m *MockAuditReader) List(ctx context.Context, filters audit.Filters) ([]audit.Entry, int64, error) {
	args := m.Called(ctx, filters)
	return args.Get(0).([]audit.Entry), args.Get(1).(int64), args.Error(2)
}

func (m *MockAuditReader) Get(ctx context.Context, id string) (*audit.Entry, error) {
	args := m.Called(ctx, id)
	if e, ok := args.Get(0).(*audit.Entry); ok {
		return e, args.Error(1)
	}
	return nil, args.Error(1)
}

// Helper to attach claims the way JWTAuth does
func withClaims(r *http.Request, userID string, role auth.Role, perms ...auth.Permission) *http.Request {
	claims := &auth.Claims{Role: string(role), Email: "someone@example.com"}
	for _, p := range perms {
		claims.Permissions = append(claims.Permissions, string(p))
	}
	claims.Subject = userID
	return r.WithContext(middleware.ContextWithClaims(r.Context(), claims))
}

func asParticipant(r *http.Request, perms ...auth.Permission) *http.Request {
	return withClaims(r, testUserID, auth.RoleParticipant, perms...)
}

func asAdmin(r *http.Request) *http.Request {
	return withClaims(r, testAdminID, auth.RoleAdmin)
}

func jsonRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			_ = json.NewEncoder(&buf).Encode(v)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withPath(r *http.Request, key, value string) *http.Request {
	r.SetPathValue(key, value)
	return r
}

func sampleUser() *users.User {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &users.User{
		ID:        testUserID,
		Email:     "ana@example.com",
		FirstName: "Ana",
		LastName:  "Lopez",
		Role:      string(auth.RoleParticipant),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func sampleEvent() *events.Event {
	start := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	return &events.Event{
		ID:              testEventID,
		Title:           "Go meetup",
		Description:     "<p>Talks</p>",
		Location:        "Lyon",
		StartsAt:        start,
		EndsAt:          start.Add(2 * time.Hour),
		MaxCapacity:     30,
		CurrentBookings: 12,
		Status:          events.StatusPublished,
	}
}

func sampleBooking(status bookings.Status) *bookings.Booking {
	event := sampleEvent()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return &bookings.Booking{
		ID:            testBookingID,
		Reference:     "BK-7Q2M9X",
		EventID:       event.ID,
		UserID:        testUserID,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
		EventTitle:    event.Title,
		EventLocation: event.Location,
		EventStartsAt: event.StartsAt,
		EventEndsAt:   event.EndsAt,
		UserEmail:     "ana@example.com",
		UserName:      "Ana Lopez",
	}
}
