package events

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound              = errors.New("event not found")
	ErrTitleTaken            = errors.New("an event with this title already exists")
	ErrInvalidTransition     = errors.New("invalid event status transition")
	ErrPastEvent             = errors.New("cannot publish an event that has already ended")
	ErrCapacityBelowBookings = errors.New("capacity cannot be lower than current bookings")
	ErrHasActiveBookings     = errors.New("event has active bookings; cancel it first")
	ErrNotBookable           = errors.New("event is not open for booking")
	ErrEventExpired          = errors.New("event has already ended")
	ErrEventFull             = errors.New("event is fully booked")
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusCanceled  Status = "canceled"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

func ParseStatus(value string) (Status, bool) {
	switch s := Status(value); s {
	case StatusDraft, StatusPublished, StatusCanceled, StatusCompleted, StatusExpired:
		return s, true
	}
	return "", false
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusCompleted || s == StatusExpired
}

// Public statuses are visible without events:write.
func (s Status) Public() bool {
	return s == StatusPublished || s == StatusCompleted || s == StatusExpired
}

var transitions = map[Status][]Status{
	StatusDraft:     {StatusPublished, StatusCanceled, StatusExpired},
	StatusPublished: {StatusCanceled, StatusCompleted},
}

// CanTransition reports whether an event may move from one status to another.
// Setting the current status again is a no-op and always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

type Event struct {
	ID              string
	Title           string
	Description     string
	Location        string
	StartsAt        time.Time
	EndsAt          time.Time
	MaxCapacity     int
	CurrentBookings int
	Status          Status
	CreatedBy       *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsExpired reports whether the event has ended at now.
func (e Event) IsExpired(now time.Time) bool {
	return now.After(e.EndsAt)
}

func (e Event) RemainingSeats() int {
	if remaining := e.MaxCapacity - e.CurrentBookings; remaining > 0 {
		return remaining
	}
	return 0
}

// CheckBookable returns nil when a new booking may be taken at now.
func (e Event) CheckBookable(now time.Time) error {
	if e.Status != StatusPublished {
		return ErrNotBookable
	}
	if e.IsExpired(now) {
		return ErrEventExpired
	}
	if e.CurrentBookings >= e.MaxCapacity {
		return ErrEventFull
	}
	return nil
}

type CreateParams struct {
	Title       string
	Description string
	Location    string
	StartsAt    time.Time
	EndsAt      time.Time
	MaxCapacity int
	Status      Status
	CreatedBy   *string
}

// UpdateParams is the full row written back after the service merged changes.
type UpdateParams struct {
	Title           string
	Description     string
	Location        string
	StartsAt        time.Time
	EndsAt          time.Time
	MaxCapacity     int
	CurrentBookings int
	Status          Status
}

type Filters struct {
	Status        Status
	Query         string
	Upcoming      bool
	From          *time.Time
	To            *time.Time
	IncludeHidden bool
	Limit         int
	Offset        int
}

type SweepResult struct {
	Completed int64
	Expired   int64
}

type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Event, error)
	GetByID(ctx context.Context, id string) (*Event, error)
	// GetByIDForUpdate locks the event row until the transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*Event, error)
	List(ctx context.Context, filters Filters) ([]Event, int64, error)
	Update(ctx context.Context, id string, params UpdateParams) (*Event, error)
	Delete(ctx context.Context, id string) error
	// CancelActiveBookings cancels every pending or confirmed booking of the
	// event and returns the affected booking IDs.
	CancelActiveBookings(ctx context.Context, eventID, reason string) ([]string, error)
	SweepStatuses(ctx context.Context, now time.Time) (SweepResult, error)
	BeginTx(ctx context.Context) (Repository, TxCommitter, error)
}

type TxCommitter interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// BookingNotifier is told about bookings changed as a side effect of event changes.
type BookingNotifier interface {
	BookingStatusChanged(ctx context.Context, bookingID, status string) error
}
