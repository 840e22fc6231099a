package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/Togather-Foundation/eventbook/internal/domain/bookings"
	"github.com/Togather-Foundation/eventbook/internal/domain/events"
	"github.com/Togather-Foundation/eventbook/internal/email"
	"github.com/Togather-Foundation/eventbook/internal/metrics"
	"github.com/riverqueue/river"
)

// BookingNotificationArgs asks for the participant of a booking to be told
// about a status change.
type BookingNotificationArgs struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

func (BookingNotificationArgs) Kind() string { return JobKindBookingNotification }

// BookingReader loads bookings with their event and user details.
type BookingReader interface {
	GetByID(ctx context.Context, id string) (*bookings.Booking, error)
}

// StatusMailer sends booking status emails.
type StatusMailer interface {
	SendBookingStatus(ctx context.Context, to string, data email.BookingStatusData) error
}

// BookingNotificationWorker emails the participant. Confirmed bookings get a
// link to their ticket; other statuses link to the event page.
type BookingNotificationWorker struct {
	river.WorkerDefaults[BookingNotificationArgs]
	Bookings BookingReader
	Mailer   StatusMailer
	Tickets  bookings.TicketSigner
	BaseURL  string
	Logger   *slog.Logger
}

func (BookingNotificationWorker) Kind() string { return JobKindBookingNotification }

func (w BookingNotificationWorker) Work(ctx context.Context, job *river.Job[BookingNotificationArgs]) error {
	if w.Bookings == nil || w.Mailer == nil {
		return fmt.Errorf("booking notification worker not configured")
	}
	if job == nil {
		return fmt.Errorf("booking notification job missing")
	}

	booking, err := w.Bookings.GetByID(ctx, job.Args.BookingID)
	if err != nil {
		if errors.Is(err, bookings.ErrNotFound) {
			// Deleted with its event; nothing left to tell.
			return river.JobCancel(err)
		}
		return fmt.Errorf("load booking: %w", err)
	}

	// The booking may have moved on since the job was queued. Report the
	// status it was queued for only if it still holds.
	if job.Args.Status != "" && string(booking.Status) != job.Args.Status {
		w.logger().Info("booking status changed before notification; skipping",
			"booking_id", booking.ID,
			"queued_status", job.Args.Status,
			"current_status", string(booking.Status),
		)
		return nil
	}

	data := email.BookingStatusData{
		Name:       booking.UserName,
		Reference:  booking.Reference,
		EventTitle: booking.EventTitle,
		Location:   booking.EventLocation,
		StartsAt:   booking.EventStartsAt,
		Status:     string(booking.Status),
		Reason:     booking.Reason,
		Link:       w.link(booking),
	}
	if err := w.Mailer.SendBookingStatus(ctx, booking.UserEmail, data); err != nil {
		return fmt.Errorf("send booking status email: %w", err)
	}
	return nil
}

func (w BookingNotificationWorker) link(b *bookings.Booking) string {
	base := strings.TrimRight(w.BaseURL, "/")
	if base == "" {
		return ""
	}
	if b.Status == bookings.StatusConfirmed && w.Tickets != nil {
		token := w.Tickets.Sign(b.ID, b.EventID, b.UserID)
		return base + "/bookings/" + url.PathEscape(b.ID) + "/ticket?token=" + url.QueryEscape(token)
	}
	return base + "/e/" + url.PathEscape(b.EventID)
}

func (w BookingNotificationWorker) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}

const (
	AccountEmailVerification  = "verification"
	AccountEmailPasswordReset = "password_reset"
)

// AccountEmailArgs carries a verification or password reset email. Link holds
// the plaintext token, so the job row is as sensitive as the email itself.
type AccountEmailArgs struct {
	Purpose string `json:"purpose"`
	To      string `json:"to"`
	Name    string `json:"name"`
	Link    string `json:"link"`
}

func (AccountEmailArgs) Kind() string { return JobKindAccountEmail }

// AccountMailer sends account emails.
type AccountMailer interface {
	SendVerification(ctx context.Context, to, name, link string) error
	SendPasswordReset(ctx context.Context, to, name, link string) error
}

// AccountEmailWorker delivers queued account emails.
type AccountEmailWorker struct {
	river.WorkerDefaults[AccountEmailArgs]
	Mailer AccountMailer
}

func (AccountEmailWorker) Kind() string { return JobKindAccountEmail }

func (w AccountEmailWorker) Work(ctx context.Context, job *river.Job[AccountEmailArgs]) error {
	if w.Mailer == nil {
		return fmt.Errorf("account email worker not configured")
	}
	if job == nil {
		return fmt.Errorf("account email job missing")
	}

	args := job.Args
	var err error
	switch args.Purpose {
	case AccountEmailVerification:
		err = w.Mailer.SendVerification(ctx, args.To, args.Name, args.Link)
	case AccountEmailPasswordReset:
		err = w.Mailer.SendPasswordReset(ctx, args.To, args.Name, args.Link)
	default:
		return river.JobCancel(fmt.Errorf("unknown account email purpose %q", args.Purpose))
	}
	if err != nil {
		return fmt.Errorf("send %s email: %w", args.Purpose, err)
	}
	return nil
}

// EventSweepArgs triggers the event status sweep.
type EventSweepArgs struct{}

func (EventSweepArgs) Kind() string { return JobKindEventSweep }

// Sweeper moves ended events to their terminal status.
type Sweeper interface {
	Sweep(ctx context.Context) (events.SweepResult, error)
}

// EventSweepWorker completes ended published events and expires ended drafts.
type EventSweepWorker struct {
	river.WorkerDefaults[EventSweepArgs]
	Sweeper Sweeper
	Logger  *slog.Logger
}

func (EventSweepWorker) Kind() string { return JobKindEventSweep }

func (w EventSweepWorker) Work(ctx context.Context, job *river.Job[EventSweepArgs]) error {
	if w.Sweeper == nil {
		return fmt.Errorf("event sweeper not configured")
	}

	result, err := w.Sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep events: %w", err)
	}

	metrics.EventsSwept.WithLabelValues(string(events.StatusCompleted)).Add(float64(result.Completed))
	metrics.EventsSwept.WithLabelValues(string(events.StatusExpired)).Add(float64(result.Expired))

	if result.Completed > 0 || result.Expired > 0 {
		logger := w.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Info("event sweep finished",
			"completed", result.Completed,
			"expired", result.Expired,
		)
	}
	return nil
}

// WorkerDeps holds what the workers need.
type WorkerDeps struct {
	Bookings      BookingReader
	Mailer        StatusMailer
	AccountMailer AccountMailer
	Tickets       bookings.TicketSigner
	Sweeper       Sweeper
	BaseURL       string
	Logger        *slog.Logger
}

// NewWorkers registers every worker.
func NewWorkers(deps WorkerDeps) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker[BookingNotificationArgs](workers, BookingNotificationWorker{
		Bookings: deps.Bookings,
		Mailer:   deps.Mailer,
		Tickets:  deps.Tickets,
		BaseURL:  deps.BaseURL,
		Logger:   deps.Logger,
	})
	river.AddWorker[AccountEmailArgs](workers, AccountEmailWorker{
		Mailer: deps.AccountMailer,
	})
	river.AddWorker[EventSweepArgs](workers, EventSweepWorker{
		Sweeper: deps.Sweeper,
		Logger:  deps.Logger,
	})
	return workers
}
