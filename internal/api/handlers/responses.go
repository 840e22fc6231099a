package handlers

import (
	"encoding/json"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/audit"
	"github.com/Togather-Foundation/eventbook/internal/domain/bookings"
	"github.com/Togather-Foundation/eventbook/internal/domain/events"
	"github.com/Togather-Foundation/eventbook/internal/domain/users"
)

type UserResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"firstName"`
	LastName      string     `json:"lastName"`
	Role          string     `json:"role"`
	Permissions   []string   `json:"permissions"`
	EmailVerified bool       `json:"emailVerified"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func newUserResponse(u users.User) UserResponse {
	perms := u.Permissions
	if perms == nil {
		perms = []string{}
	}
	return UserResponse{
		ID:            u.ID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Role:          u.Role,
		Permissions:   perms,
		EmailVerified: u.EmailVerified,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

type EventResponse struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Location        string    `json:"location"`
	StartsAt        time.Time `json:"startsAt"`
	EndsAt          time.Time `json:"endsAt"`
	MaxCapacity     int       `json:"maxCapacity"`
	CurrentBookings int       `json:"currentBookings"`
	RemainingSeats  int       `json:"remainingSeats"`
	Status          string    `json:"status"`
	IsExpired       bool      `json:"isExpired"`
	CreatedBy       *string   `json:"createdBy,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// newEventResponse derives isExpired from now; it is never stored.
func newEventResponse(e events.Event, now time.Time) EventResponse {
	return EventResponse{
		ID:              e.ID,
		Title:           e.Title,
		Description:     e.Description,
		Location:        e.Location,
		StartsAt:        e.StartsAt,
		EndsAt:          e.EndsAt,
		MaxCapacity:     e.MaxCapacity,
		CurrentBookings: e.CurrentBookings,
		RemainingSeats:  e.RemainingSeats(),
		Status:          string(e.Status),
		IsExpired:       e.IsExpired(now),
		CreatedBy:       e.CreatedBy,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

type bookingEventSummary struct {
	ID       string    `json:"id"`
	Title    string    `json:"title,omitempty"`
	Location string    `json:"location,omitempty"`
	StartsAt time.Time `json:"startsAt,omitempty"`
	EndsAt   time.Time `json:"endsAt,omitempty"`
}

type bookingUserSummary struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type BookingResponse struct {
	ID          string              `json:"id"`
	Reference   string              `json:"reference"`
	Status      string              `json:"status"`
	Reason      string              `json:"reason,omitempty"`
	Notes       string              `json:"notes,omitempty"`
	Event       bookingEventSummary `json:"event"`
	User        bookingUserSummary  `json:"user"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
	ConfirmedAt *time.Time          `json:"confirmedAt,omitempty"`
	CanceledAt  *time.Time          `json:"canceledAt,omitempty"`
}

func newBookingResponse(b bookings.Booking) BookingResponse {
	return BookingResponse{
		ID:        b.ID,
		Reference: b.Reference,
		Status:    string(b.Status),
		Reason:    b.Reason,
		Notes:     b.Notes,
		Event: bookingEventSummary{
			ID:       b.EventID,
			Title:    b.EventTitle,
			Location: b.EventLocation,
			StartsAt: b.EventStartsAt,
			EndsAt:   b.EventEndsAt,
		},
		User: bookingUserSummary{
			ID:    b.UserID,
			Email: b.UserEmail,
			Name:  b.UserName,
		},
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
		ConfirmedAt: b.ConfirmedAt,
		CanceledAt:  b.CanceledAt,
	}
}

type AuditEntryResponse struct {
	ID         string          `json:"id"`
	Method     string          `json:"method"`
	URL        string          `json:"url"`
	UserID     *string         `json:"userId"`
	UserEmail  string          `json:"userEmail,omitempty"`
	Status     int             `json:"status"`
	Changes    json.RawMessage `json:"changes,omitempty"`
	RemoteAddr string          `json:"remoteAddr,omitempty"`
	RequestID  string          `json:"requestId,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

func newAuditEntryResponse(e audit.Entry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:         e.ID,
		Method:     e.Method,
		URL:        e.URL,
		UserID:     e.UserID,
		UserEmail:  e.UserEmail,
		Status:     e.Status,
		Changes:    e.Changes,
		RemoteAddr: e.RemoteAddr,
		RequestID:  e.RequestID,
		CreatedAt:  e.CreatedAt,
	}
}
