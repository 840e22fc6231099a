package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/domain/bookings"
	"github.com/Togather-Foundation/eventbook/internal/domain/events"
	"github.com/Togather-Foundation/eventbook/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ bookings.Repository = (*BookingRepository)(nil)

type BookingRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewBookingRepository(pool *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

func (r *BookingRepository) BeginTx(ctx context.Context) (bookings.Repository, bookings.TxCommitter, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &BookingRepository{pool: r.pool, tx: tx}, txCommitter{tx: tx}, nil
}

// bookingSelect joins the event and user details shown alongside a booking.
const bookingSelect = `
SELECT b.id, b.reference, b.event_id, b.user_id, b.status, b.reason, b.notes,
       b.created_at, b.updated_at, b.confirmed_at, b.canceled_at,
       e.title, e.location, e.starts_at, e.ends_at,
       u.email, trim(u.first_name || ' ' || u.last_name)
  FROM bookings b
  JOIN events e ON e.id = b.event_id
  JOIN users u ON u.id = b.user_id`

func scanBooking(row pgx.Row) (*bookings.Booking, error) {
	var (
		b      bookings.Booking
		status string
	)
	err := row.Scan(
		&b.ID, &b.Reference, &b.EventID, &b.UserID, &status, &b.Reason, &b.Notes,
		&b.CreatedAt, &b.UpdatedAt, &b.ConfirmedAt, &b.CanceledAt,
		&b.EventTitle, &b.EventLocation, &b.EventStartsAt, &b.EventEndsAt,
		&b.UserEmail, &b.UserName,
	)
	if err != nil {
		return nil, err
	}
	b.Status = bookings.Status(status)
	return &b, nil
}

func (r *BookingRepository) Create(ctx context.Context, params bookings.CreateParams) (*bookings.Booking, error) {
	var id string
	err := r.queryer().QueryRow(ctx, `
INSERT INTO bookings (reference, event_id, user_id, notes)
VALUES ($1, $2, $3, $4)
RETURNING id`,
		params.Reference, params.EventID, params.UserID, params.Notes,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err, "bookings_one_active_per_user") {
			return nil, bookings.ErrDuplicateBooking
		}
		if code, name := pgError(err); code == fkViolation && name == "bookings_event_id_fkey" {
			return nil, events.ErrNotFound
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}
	return r.get(ctx, id, "")
}

func (r *BookingRepository) GetByID(ctx context.Context, id string) (*bookings.Booking, error) {
	return r.get(ctx, id, "")
}

// GetByIDForUpdate locks only the booking row; the event row is locked
// separately by LockEvent, always first.
func (r *BookingRepository) GetByIDForUpdate(ctx context.Context, id string) (*bookings.Booking, error) {
	if r.tx == nil {
		return nil, fmt.Errorf("get booking for update: requires a transaction")
	}
	return r.get(ctx, id, " FOR UPDATE OF b")
}

func (r *BookingRepository) get(ctx context.Context, id, lock string) (*bookings.Booking, error) {
	booking, err := scanBooking(r.queryer().QueryRow(ctx, bookingSelect+` WHERE b.id = $1`+lock, id))
	if err != nil {
		if isNotFound(err) {
			return nil, bookings.ErrNotFound
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return booking, nil
}

func (r *BookingRepository) FindActive(ctx context.Context, userID, eventID string) (*bookings.Booking, error) {
	booking, err := scanBooking(r.queryer().QueryRow(ctx, bookingSelect+`
 WHERE b.user_id = $1 AND b.event_id = $2 AND b.status IN ('pending', 'confirmed')`, userID, eventID))
	if err != nil {
		if isNotFound(err) {
			return nil, bookings.ErrNotFound
		}
		return nil, fmt.Errorf("find active booking: %w", err)
	}
	return booking, nil
}

func (r *BookingRepository) List(ctx context.Context, filters bookings.Filters) ([]bookings.Booking, int64, error) {
	var (
		conditions []string
		args       []any
	)
	add := func(format string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(format, len(args)))
	}
	if filters.UserID != "" {
		add("b.user_id = $%d", filters.UserID)
	}
	if filters.EventID != "" {
		add("b.event_id = $%d", filters.EventID)
	}
	if filters.Status != "" {
		add("b.status = $%d", string(filters.Status))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.queryer().QueryRow(ctx, `SELECT count(*) FROM bookings b`+where, args...).Scan(&total); err != nil {
		if isNotFound(err) {
			return []bookings.Booking{}, 0, nil
		}
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}

	args = append(args, filters.Limit, filters.Offset)
	rows, err := r.queryer().Query(ctx,
		bookingSelect+where+fmt.Sprintf(" ORDER BY b.created_at DESC, b.id LIMIT $%d OFFSET $%d", len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	result := make([]bookings.Booking, 0, filters.Limit)
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan booking: %w", err)
		}
		result = append(result, *booking)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate bookings: %w", err)
	}
	return result, total, nil
}

func (r *BookingRepository) UpdateStatus(ctx context.Context, id string, update bookings.StatusUpdate) (*bookings.Booking, error) {
	tag, err := r.queryer().Exec(ctx, `
UPDATE bookings
   SET status       = $2,
       reason       = CASE WHEN $3 = '' THEN reason ELSE $3 END,
       confirmed_at = CASE WHEN $2 = 'confirmed' THEN $4 ELSE confirmed_at END,
       canceled_at  = CASE WHEN $2 = 'canceled' THEN $4 ELSE canceled_at END,
       updated_at   = $4
 WHERE id = $1`, id, string(update.Status), update.Reason, update.At)
	if err != nil {
		return nil, fmt.Errorf("update booking status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, bookings.ErrNotFound
	}
	return r.get(ctx, id, "")
}

// LockEvent reads the event row with FOR UPDATE so concurrent bookings for the
// same event serialize on it.
func (r *BookingRepository) LockEvent(ctx context.Context, eventID string) (event *events.Event, err error) {
	if r.tx == nil {
		return nil, fmt.Errorf("lock event: requires a transaction")
	}
	start := time.Now()
	defer func() { metrics.RecordQuery(metrics.QueryLockEvent, start, err) }()

	event, err = scanEvent(r.tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, eventID))
	if err != nil {
		if isNotFound(err) {
			return nil, events.ErrNotFound
		}
		return nil, fmt.Errorf("lock event: %w", err)
	}
	return event, nil
}

func (r *BookingRepository) AdjustEventBookings(ctx context.Context, eventID string, delta int) (err error) {
	start := time.Now()
	defer func() { metrics.RecordQuery(metrics.QueryAdjustBookings, start, err) }()

	tag, err := r.queryer().Exec(ctx, `
UPDATE events SET current_bookings = current_bookings + $2, updated_at = now()
 WHERE id = $1`, eventID, delta)
	if err != nil {
		if code, name := pgError(err); code == checkViolation && name == "events_bookings_within_capacity" {
			if delta > 0 {
				return events.ErrEventFull
			}
			return fmt.Errorf("adjust bookings below zero: %w", err)
		}
		return fmt.Errorf("adjust bookings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return events.ErrNotFound
	}
	return nil
}
