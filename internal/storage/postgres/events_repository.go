package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/domain/events"
	"github.com/Togather-Foundation/eventbook/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ events.Repository = (*EventRepository)(nil)

type EventRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

func (r *EventRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

// BeginTx starts a transaction and returns a repository bound to it.
func (r *EventRepository) BeginTx(ctx context.Context) (events.Repository, events.TxCommitter, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &EventRepository{pool: r.pool, tx: tx}, txCommitter{tx: tx}, nil
}

const eventColumns = `id, title, description, location, starts_at, ends_at, max_capacity,
       current_bookings, status, created_by, created_at, updated_at`

func scanEvent(row pgx.Row) (*events.Event, error) {
	var (
		e      events.Event
		status string
	)
	err := row.Scan(
		&e.ID, &e.Title, &e.Description, &e.Location, &e.StartsAt, &e.EndsAt, &e.MaxCapacity,
		&e.CurrentBookings, &status, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = events.Status(status)
	return &e, nil
}

func (r *EventRepository) Create(ctx context.Context, params events.CreateParams) (*events.Event, error) {
	row := r.queryer().QueryRow(ctx, `
INSERT INTO events (title, description, location, starts_at, ends_at, max_capacity, status, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+eventColumns,
		params.Title, params.Description, params.Location, params.StartsAt, params.EndsAt,
		params.MaxCapacity, string(params.Status), params.CreatedBy,
	)
	event, err := scanEvent(row)
	if err != nil {
		if isUniqueViolation(err, "events_title_key") {
			return nil, events.ErrTitleTaken
		}
		return nil, fmt.Errorf("create event: %w", err)
	}
	return event, nil
}

func (r *EventRepository) GetByID(ctx context.Context, id string) (*events.Event, error) {
	return r.get(ctx, id, "")
}

// GetByIDForUpdate locks the row until the surrounding transaction ends.
func (r *EventRepository) GetByIDForUpdate(ctx context.Context, id string) (*events.Event, error) {
	if r.tx == nil {
		return nil, fmt.Errorf("get event for update: requires a transaction")
	}
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *EventRepository) get(ctx context.Context, id, lock string) (*events.Event, error) {
	event, err := scanEvent(r.queryer().QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`+lock, id))
	if err != nil {
		if isNotFound(err) {
			return nil, events.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

func (r *EventRepository) List(ctx context.Context, filters events.Filters) ([]events.Event, int64, error) {
	var (
		conditions []string
		args       []any
	)
	add := func(format string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(format, len(args)))
	}

	switch {
	case filters.Status != "":
		add("status = $%d", string(filters.Status))
	case !filters.IncludeHidden:
		conditions = append(conditions, "status IN ('published', 'completed', 'expired')")
	}
	if q := strings.TrimSpace(filters.Query); q != "" {
		args = append(args, likePattern(q))
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(title ILIKE $%d OR location ILIKE $%d)", n, n))
	}
	if filters.Upcoming {
		conditions = append(conditions, "ends_at > now()")
	}
	if filters.From != nil {
		add("starts_at >= $%d", filters.From.UTC())
	}
	if filters.To != nil {
		add("starts_at <= $%d", filters.To.UTC())
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.queryer().QueryRow(ctx, `SELECT count(*) FROM events`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	args = append(args, filters.Limit, filters.Offset)
	rows, err := r.queryer().Query(ctx,
		`SELECT `+eventColumns+` FROM events`+where+
			fmt.Sprintf(" ORDER BY starts_at ASC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	result := make([]events.Event, 0, filters.Limit)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan event: %w", err)
		}
		result = append(result, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate events: %w", err)
	}
	return result, total, nil
}

func (r *EventRepository) Update(ctx context.Context, id string, params events.UpdateParams) (*events.Event, error) {
	row := r.queryer().QueryRow(ctx, `
UPDATE events
   SET title = $2, description = $3, location = $4, starts_at = $5, ends_at = $6,
       max_capacity = $7, current_bookings = $8, status = $9, updated_at = now()
 WHERE id = $1
RETURNING `+eventColumns,
		id, params.Title, params.Description, params.Location, params.StartsAt, params.EndsAt,
		params.MaxCapacity, params.CurrentBookings, string(params.Status),
	)
	event, err := scanEvent(row)
	if err != nil {
		switch {
		case isNotFound(err):
			return nil, events.ErrNotFound
		case isUniqueViolation(err, "events_title_key"):
			return nil, events.ErrTitleTaken
		}
		if code, name := pgError(err); code == checkViolation && name == "events_bookings_within_capacity" {
			return nil, events.ErrCapacityBelowBookings
		}
		return nil, fmt.Errorf("update event: %w", err)
	}
	return event, nil
}

func (r *EventRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.queryer().Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		if isNotFound(err) {
			return events.ErrNotFound
		}
		return fmt.Errorf("delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return events.ErrNotFound
	}
	return nil
}

// CancelActiveBookings cancels the event's pending and confirmed bookings.
// The caller resets the event counter in the same transaction.
func (r *EventRepository) CancelActiveBookings(ctx context.Context, eventID, reason string) ([]string, error) {
	rows, err := r.queryer().Query(ctx, `
UPDATE bookings
   SET status = 'canceled', reason = $2, canceled_at = now(), updated_at = now()
 WHERE event_id = $1 AND status IN ('pending', 'confirmed')
RETURNING id`, eventID, reason)
	if err != nil {
		return nil, fmt.Errorf("cancel bookings: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("cancel bookings: %w", err)
	}
	return ids, nil
}

// SweepStatuses closes events whose end time has passed.
func (r *EventRepository) SweepStatuses(ctx context.Context, now time.Time) (result events.SweepResult, err error) {
	start := time.Now()
	defer func() { metrics.RecordQuery(metrics.QuerySweepEventStatuses, start, err) }()

	tag, err := r.queryer().Exec(ctx, `
UPDATE events SET status = 'completed', updated_at = now()
 WHERE status = 'published' AND ends_at <= $1`, now)
	if err != nil {
		return result, fmt.Errorf("complete events: %w", err)
	}
	result.Completed = tag.RowsAffected()

	tag, err = r.queryer().Exec(ctx, `
UPDATE events SET status = 'expired', updated_at = now()
 WHERE status = 'draft' AND ends_at <= $1`, now)
	if err != nil {
		return result, fmt.Errorf("expire events: %w", err)
	}
	result.Expired = tag.RowsAffected()
	return result, nil
}
