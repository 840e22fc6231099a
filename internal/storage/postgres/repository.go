package postgres

import (
	"context"
	"fmt"

	"github.com/Togather-Foundation/eventbook/internal/audit"
	"github.com/Togather-Foundation/eventbook/internal/domain/bookings"
	"github.com/Togather-Foundation/eventbook/internal/domain/events"
	"github.com/Togather-Foundation/eventbook/internal/domain/users"
	"github.com/Togather-Foundation/eventbook/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ storage.Repository = (*Repository)(nil)

// Repository implements storage.Repository with a PostgreSQL backend
type Repository struct {
	pool *pgxpool.Pool

	users    *UserRepository
	events   *EventRepository
	bookings *BookingRepository
	audit    *AuditRepository
}

// NewRepository creates a new PostgreSQL-backed repository
func NewRepository(pool *pgxpool.Pool) (*Repository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool cannot be nil")
	}
	return &Repository{
		pool:     pool,
		users:    &UserRepository{pool: pool},
		events:   &EventRepository{pool: pool},
		bookings: &BookingRepository{pool: pool},
		audit:    &AuditRepository{pool: pool},
	}, nil
}

func (r *Repository) Users() users.Repository {
	return r.users
}

func (r *Repository) Events() events.Repository {
	return r.events
}

func (r *Repository) Bookings() bookings.Repository {
	return r.bookings
}

func (r *Repository) Audit() audit.Repository {
	return r.audit
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// txCommitter adapts pgx.Tx to the domain TxCommitter interfaces.
type txCommitter struct {
	tx pgx.Tx
}

func (c txCommitter) Commit(ctx context.Context) error {
	return c.tx.Commit(ctx)
}

func (c txCommitter) Rollback(ctx context.Context) error {
	return c.tx.Rollback(ctx)
}
