package bookings

import (
	"context"
	"errors"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/domain/events"
)

var (
	ErrNotFound          = errors.New("booking not found")
	ErrDuplicateBooking  = errors.New("user already holds an active booking for this event")
	ErrInvalidTransition = errors.New("invalid booking status transition")
	ErrForbidden         = errors.New("not allowed to access this booking")
	ErrNotConfirmed      = errors.New("booking is not confirmed")
	ErrInvalidTicket     = errors.New("invalid ticket token")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRefused   Status = "refused"
	StatusCanceled  Status = "canceled"
)

func ParseStatus(value string) (Status, bool) {
	switch s := Status(value); s {
	case StatusPending, StatusConfirmed, StatusRefused, StatusCanceled:
		return s, true
	}
	return "", false
}

// Active bookings hold a seat and count toward the event's capacity.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusRefused, StatusCanceled},
	StatusConfirmed: {StatusCanceled},
}

// CanTransition reports whether a booking may move from one status to another.
// Refused and canceled are absorbing.
func CanTransition(from, to Status) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

type Booking struct {
	ID          string
	Reference   string
	EventID     string
	UserID      string
	Status      Status
	Reason      string
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt *time.Time
	CanceledAt  *time.Time

	// Read-side details joined from events and users.
	EventTitle    string
	EventLocation string
	EventStartsAt time.Time
	EventEndsAt   time.Time
	UserEmail     string
	UserName      string
}

type CreateParams struct {
	Reference string
	EventID   string
	UserID    string
	Notes     string
}

type StatusUpdate struct {
	Status Status
	Reason string
	At     time.Time
}

type Filters struct {
	UserID  string
	EventID string
	Status  Status
	Limit   int
	Offset  int
}

type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Booking, error)
	GetByID(ctx context.Context, id string) (*Booking, error)
	// GetByIDForUpdate locks the booking row until the transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*Booking, error)
	// FindActive returns the user's pending or confirmed booking for the event.
	FindActive(ctx context.Context, userID, eventID string) (*Booking, error)
	List(ctx context.Context, filters Filters) ([]Booking, int64, error)
	UpdateStatus(ctx context.Context, id string, update StatusUpdate) (*Booking, error)
	// LockEvent reads the event row with FOR UPDATE.
	LockEvent(ctx context.Context, eventID string) (*events.Event, error)
	AdjustEventBookings(ctx context.Context, eventID string, delta int) error
	BeginTx(ctx context.Context) (Repository, TxCommitter, error)
}

type TxCommitter interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Notifier is told about status changes after they commit.
type Notifier interface {
	BookingStatusChanged(ctx context.Context, bookingID, status string) error
}

// TicketSigner issues and checks ticket tokens bound to a booking.
type TicketSigner interface {
	Sign(bookingID, eventID, userID string) string
	Verify(token, bookingID, eventID, userID string) bool
}

// Actor is the caller of a booking operation.
type Actor struct {
	UserID    string
	CanManage bool
}

func (a Actor) owns(b *Booking) bool {
	return a.UserID != "" && a.UserID == b.UserID
}
