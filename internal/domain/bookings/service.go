package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/domain/events"
	"github.com/Togather-Foundation/eventbook/internal/domain/ids"
	"github.com/Togather-Foundation/eventbook/internal/metrics"
	"github.com/Togather-Foundation/eventbook/internal/sanitize"
	"github.com/Togather-Foundation/eventbook/internal/telemetry"
	"github.com/Togather-Foundation/eventbook/internal/validation"
	"github.com/rs/zerolog"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

type CreateBookingParams struct {
	EventID string `json:"eventId" validate:"required,uuid"`
	Notes   string `json:"notes" validate:"max=1000"`
}

// TicketCheck is the result of verifying a ticket token.
type TicketCheck struct {
	Valid   bool
	Booking *Booking
}

// Service runs the booking lifecycle. Every write locks the event row first,
// then the booking row, inside one transaction.
type Service struct {
	repo     Repository
	notifier Notifier
	tickets  TicketSigner
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, notifier Notifier, tickets TicketSigner, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		tickets:  tickets,
		logger:   logger.With().Str("component", "bookings").Logger(),
		now:      time.Now,
	}
}

// Create books a seat for userID. The booking starts pending and counts toward
// capacity immediately.
func (s *Service) Create(ctx context.Context, userID string, params CreateBookingParams) (*Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "bookings", "bookings.create", "event_id", params.EventID)
	booking, err := s.create(ctx, userID, params)
	telemetry.EndSpan(span, err)
	return booking, err
}

func (s *Service) create(ctx context.Context, userID string, params CreateBookingParams) (*Booking, error) {
	if err := validation.Struct(params); err != nil {
		return nil, err
	}
	eventID, err := ids.NormalizeID(params.EventID)
	if err != nil {
		return nil, validation.Field("eventId", "must be a UUID")
	}

	reference, err := ids.NewULID()
	if err != nil {
		return nil, fmt.Errorf("generate reference: %w", err)
	}

	txRepo, txCommitter, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = txCommitter.Rollback(ctx)
	}()

	event, err := txRepo.LockEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := event.CheckBookable(s.now()); err != nil {
		metrics.BookingRejections.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	if _, err := txRepo.FindActive(ctx, userID, eventID); err == nil {
		metrics.BookingRejections.WithLabelValues("duplicate").Inc()
		return nil, ErrDuplicateBooking
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}

	booking, err := txRepo.Create(ctx, CreateParams{
		Reference: reference,
		EventID:   eventID,
		UserID:    userID,
		Notes:     sanitize.Text(params.Notes),
	})
	if err != nil {
		return nil, err
	}
	if err := txRepo.AdjustEventBookings(ctx, eventID, 1); err != nil {
		return nil, fmt.Errorf("increment bookings: %w", err)
	}

	if err := txCommitter.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	metrics.BookingsCreated.Inc()
	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("event_id", eventID).
		Str("user_id", userID).
		Int("remaining_seats", event.RemainingSeats()-1).
		Msg("booking created")

	booking.EventTitle = event.Title
	booking.EventLocation = event.Location
	booking.EventStartsAt = event.StartsAt
	booking.EventEndsAt = event.EndsAt
	return booking, nil
}

// Confirm moves a pending booking to confirmed.
func (s *Service) Confirm(ctx context.Context, id string, actor Actor) (*Booking, error) {
	if !actor.CanManage {
		return nil, ErrForbidden
	}
	return s.transition(ctx, id, StatusConfirmed, "", actor)
}

// Refuse moves a pending booking to refused and frees its seat.
func (s *Service) Refuse(ctx context.Context, id, reason string, actor Actor) (*Booking, error) {
	if !actor.CanManage {
		return nil, ErrForbidden
	}
	return s.transition(ctx, id, StatusRefused, reason, actor)
}

// Cancel cancels a pending or confirmed booking and frees its seat. Owners may
// cancel their own bookings.
func (s *Service) Cancel(ctx context.Context, id, reason string, actor Actor) (*Booking, error) {
	return s.transition(ctx, id, StatusCanceled, reason, actor)
}

func (s *Service) transition(ctx context.Context, id string, to Status, reason string, actor Actor) (*Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "bookings", "bookings.transition", "booking_id", id, "to", string(to))
	booking, err := s.applyTransition(ctx, id, to, reason, actor)
	telemetry.EndSpan(span, err)
	return booking, err
}

func (s *Service) applyTransition(ctx context.Context, id string, to Status, reason string, actor Actor) (*Booking, error) {
	reason = sanitize.Text(reason)
	if len(reason) > 500 {
		return nil, validation.Field("reason", "must be at most 500 characters")
	}

	// Read once unlocked to learn the event, so locks are always taken event
	// first, booking second.
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage && !actor.owns(current) {
		return nil, ErrForbidden
	}

	txRepo, txCommitter, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = txCommitter.Rollback(ctx)
	}()

	event, err := txRepo.LockEvent(ctx, current.EventID)
	if err != nil {
		return nil, err
	}
	locked, err := txRepo.GetByIDForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}

	from := locked.Status
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	if to == StatusConfirmed && event.Status != events.StatusPublished {
		return nil, events.ErrNotBookable
	}

	if from.Active() && !to.Active() {
		if err := txRepo.AdjustEventBookings(ctx, locked.EventID, -1); err != nil {
			return nil, fmt.Errorf("decrement bookings: %w", err)
		}
	}

	updated, err := txRepo.UpdateStatus(ctx, id, StatusUpdate{Status: to, Reason: reason, At: s.now().UTC()})
	if err != nil {
		return nil, err
	}

	if err := txCommitter.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	metrics.BookingTransitions.WithLabelValues(string(from), string(to)).Inc()
	s.logger.Info().
		Str("booking_id", id).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("actor_id", actor.UserID).
		Msg("booking status changed")

	if s.notifier != nil {
		if err := s.notifier.BookingStatusChanged(ctx, id, string(to)); err != nil {
			s.logger.Error().Err(err).Str("booking_id", id).Msg("failed to queue booking notification")
		}
	}
	return updated, nil
}

// Get returns a booking visible to actor.
func (s *Service) Get(ctx context.Context, id string, actor Actor) (*Booking, error) {
	booking, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage && !actor.owns(booking) {
		return nil, ErrForbidden
	}
	return booking, nil
}

// List returns bookings. Callers without manage rights only see their own.
func (s *Service) List(ctx context.Context, filters Filters, actor Actor) ([]Booking, int64, error) {
	if !actor.CanManage {
		filters.UserID = actor.UserID
	}
	if filters.Limit <= 0 {
		filters.Limit = DefaultLimit
	}
	if filters.Limit > MaxLimit {
		filters.Limit = MaxLimit
	}
	if filters.Offset < 0 {
		filters.Offset = 0
	}
	return s.repo.List(ctx, filters)
}

// TicketToken issues the download token for a confirmed booking.
func (s *Service) TicketToken(ctx context.Context, id string, actor Actor) (string, *Booking, error) {
	booking, err := s.Get(ctx, id, actor)
	if err != nil {
		return "", nil, err
	}
	if booking.Status != StatusConfirmed {
		return "", nil, ErrNotConfirmed
	}
	return s.tickets.Sign(booking.ID, booking.EventID, booking.UserID), booking, nil
}

// VerifyTicket checks a token against a booking. A token is valid only while
// the booking is confirmed.
func (s *Service) VerifyTicket(ctx context.Context, id, token string) (TicketCheck, error) {
	booking, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return TicketCheck{}, err
	}
	matches := token != "" && s.tickets.Verify(token, booking.ID, booking.EventID, booking.UserID)
	if !matches {
		return TicketCheck{Valid: false}, nil
	}
	return TicketCheck{Valid: booking.Status == StatusConfirmed, Booking: booking}, nil
}

// Ticket returns the booking behind a download token.
func (s *Service) Ticket(ctx context.Context, id, token string) (*Booking, error) {
	booking, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if token == "" || !s.tickets.Verify(token, booking.ID, booking.EventID, booking.UserID) {
		return nil, ErrInvalidTicket
	}
	if booking.Status != StatusConfirmed {
		return nil, ErrNotConfirmed
	}
	return booking, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, events.ErrEventFull):
		return "full"
	case errors.Is(err, events.ErrEventExpired):
		return "expired"
	default:
		return "not_bookable"
	}
}
