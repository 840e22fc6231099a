package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/sanitize"
	"github.com/Togather-Foundation/eventbook/internal/validation"
	"github.com/rs/zerolog"
)

// CancelReason is recorded on bookings canceled because their event was canceled.
const CancelReason = "event canceled"

// AdminService provides event mutations for users holding events:write.
type AdminService struct {
	repo     Repository
	notifier BookingNotifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewAdminService(repo Repository, notifier BookingNotifier, logger zerolog.Logger) *AdminService {
	return &AdminService{
		repo:     repo,
		notifier: notifier,
		logger:   logger.With().Str("component", "events").Logger(),
		now:      time.Now,
	}
}

type CreateEventParams struct {
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description" validate:"max=20000"`
	Location    string    `json:"location" validate:"required,max=300"`
	StartsAt    time.Time `json:"startsAt" validate:"required"`
	EndsAt      time.Time `json:"endsAt" validate:"required,gtfield=StartsAt"`
	MaxCapacity int       `json:"maxCapacity" validate:"gt=0,max=1000000"`
	Status      string    `json:"status" validate:"omitempty,oneof=draft published"`
}

// UpdateEventParams contains fields that can be changed. Nil fields are kept.
type UpdateEventParams struct {
	Title       *string    `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string    `json:"description" validate:"omitempty,max=20000"`
	Location    *string    `json:"location" validate:"omitempty,min=1,max=300"`
	StartsAt    *time.Time `json:"startsAt"`
	EndsAt      *time.Time `json:"endsAt"`
	MaxCapacity *int       `json:"maxCapacity" validate:"omitempty,gt=0,max=1000000"`
	Status      *string    `json:"status" validate:"omitempty,oneof=draft published canceled completed"`
}

func (s *AdminService) CreateEvent(ctx context.Context, params CreateEventParams, createdBy string) (*Event, error) {
	params.Title = sanitize.Text(params.Title)
	params.Location = sanitize.Text(params.Location)
	if err := validation.Struct(params); err != nil {
		return nil, err
	}

	status := StatusDraft
	if params.Status != "" {
		status = Status(params.Status)
	}
	if status == StatusPublished && !params.EndsAt.After(s.now()) {
		return nil, ErrPastEvent
	}

	var creator *string
	if createdBy != "" {
		creator = &createdBy
	}

	event, err := s.repo.Create(ctx, CreateParams{
		Title:       params.Title,
		Description: sanitize.HTML(params.Description),
		Location:    params.Location,
		StartsAt:    params.StartsAt.UTC(),
		EndsAt:      params.EndsAt.UTC(),
		MaxCapacity: params.MaxCapacity,
		Status:      status,
		CreatedBy:   creator,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("event_id", event.ID).Str("status", string(status)).Msg("event created")
	return event, nil
}

// UpdateEvent merges params into the event under a row lock. Moving to
// canceled cancels every active booking and resets the counter.
func (s *AdminService) UpdateEvent(ctx context.Context, id string, params UpdateEventParams) (*Event, error) {
	if err := validation.Struct(params); err != nil {
		return nil, err
	}

	txRepo, txCommitter, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = txCommitter.Rollback(ctx)
	}()

	existing, err := txRepo.GetByIDForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}

	next, err := s.apply(*existing, params)
	if err != nil {
		return nil, err
	}

	var canceledBookings []string
	if next.Status == StatusCanceled && existing.Status != StatusCanceled {
		canceledBookings, err = txRepo.CancelActiveBookings(ctx, id, CancelReason)
		if err != nil {
			return nil, fmt.Errorf("cancel bookings: %w", err)
		}
		next.CurrentBookings = 0
	}

	updated, err := txRepo.Update(ctx, id, next)
	if err != nil {
		return nil, err
	}

	if err := txCommitter.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	if existing.Status != updated.Status {
		s.logger.Info().
			Str("event_id", id).
			Str("from", string(existing.Status)).
			Str("to", string(updated.Status)).
			Int("bookings_canceled", len(canceledBookings)).
			Msg("event status changed")
	}
	s.notify(ctx, canceledBookings)
	return updated, nil
}

// CancelEvent is UpdateEvent with status canceled.
func (s *AdminService) CancelEvent(ctx context.Context, id string) (*Event, error) {
	status := string(StatusCanceled)
	return s.UpdateEvent(ctx, id, UpdateEventParams{Status: &status})
}

// DeleteEvent removes an event and its booking history. Events holding active
// bookings must be canceled first so participants are notified.
func (s *AdminService) DeleteEvent(ctx context.Context, id string) error {
	txRepo, txCommitter, err := s.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = txCommitter.Rollback(ctx)
	}()

	// The row lock keeps a booking from slipping in between the check and
	// the delete.
	existing, err := txRepo.GetByIDForUpdate(ctx, id)
	if err != nil {
		return err
	}
	if existing.CurrentBookings > 0 && existing.Status != StatusCanceled {
		return ErrHasActiveBookings
	}
	if err := txRepo.Delete(ctx, id); err != nil {
		return err
	}
	if err := txCommitter.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	s.logger.Info().Str("event_id", id).Msg("event deleted")
	return nil
}

// Sweep moves ended events out of draft and published.
func (s *AdminService) Sweep(ctx context.Context) (SweepResult, error) {
	return s.repo.SweepStatuses(ctx, s.now().UTC())
}

func (s *AdminService) apply(existing Event, params UpdateEventParams) (UpdateParams, error) {
	next := UpdateParams{
		Title:           existing.Title,
		Description:     existing.Description,
		Location:        existing.Location,
		StartsAt:        existing.StartsAt,
		EndsAt:          existing.EndsAt,
		MaxCapacity:     existing.MaxCapacity,
		CurrentBookings: existing.CurrentBookings,
		Status:          existing.Status,
	}

	if params.Title != nil {
		title := sanitize.Text(*params.Title)
		if title == "" {
			return next, validation.Field("title", "is required")
		}
		next.Title = title
	}
	if params.Description != nil {
		next.Description = sanitize.HTML(*params.Description)
	}
	if params.Location != nil {
		location := sanitize.Text(*params.Location)
		if location == "" {
			return next, validation.Field("location", "is required")
		}
		next.Location = location
	}
	if params.StartsAt != nil {
		next.StartsAt = params.StartsAt.UTC()
	}
	if params.EndsAt != nil {
		next.EndsAt = params.EndsAt.UTC()
	}
	if !next.EndsAt.After(next.StartsAt) {
		return next, validation.Field("endsAt", "must be after startsAt")
	}
	if params.MaxCapacity != nil {
		if *params.MaxCapacity < existing.CurrentBookings {
			return next, ErrCapacityBelowBookings
		}
		next.MaxCapacity = *params.MaxCapacity
	}

	if params.Status != nil {
		target := Status(strings.ToLower(*params.Status))
		if !CanTransition(existing.Status, target) {
			return next, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, existing.Status, target)
		}
		next.Status = target
	}

	publishing := next.Status == StatusPublished && (existing.Status != StatusPublished || params.EndsAt != nil)
	if publishing && !next.EndsAt.After(s.now()) {
		return next, ErrPastEvent
	}
	return next, nil
}

func (s *AdminService) notify(ctx context.Context, bookingIDs []string) {
	if s.notifier == nil {
		return
	}
	for _, id := range bookingIDs {
		if err := s.notifier.BookingStatusChanged(ctx, id, "canceled"); err != nil {
			s.logger.Error().Err(err).Str("booking_id", id).Msg("failed to queue booking notification")
		}
	}
}

// IsConflict reports whether err is a state conflict rather than bad input.
func IsConflict(err error) bool {
	return errors.Is(err, ErrTitleTaken) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrHasActiveBookings) ||
		errors.Is(err, ErrCapacityBelowBookings) ||
		errors.Is(err, ErrPastEvent)
}
