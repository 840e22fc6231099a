package postgres

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/domain/users"
	"github.com/Togather-Foundation/eventbook/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ users.Repository = (*UserRepository)(nil)

type UserRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

const userColumns = `id, email, password_hash, first_name, last_name, role, permissions,
       email_verified, verification_expires_at, reset_expires_at, last_login_at,
       created_at, updated_at`

func scanUser(row pgx.Row) (*users.User, error) {
	var u users.User
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role, &u.Permissions,
		&u.EmailVerified, &u.VerificationExpiresAt, &u.ResetExpiresAt, &u.LastLoginAt,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if u.Permissions == nil {
		u.Permissions = []string{}
	}
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, params users.CreateParams) (*users.User, error) {
	permissions := params.Permissions
	if permissions == nil {
		permissions = []string{}
	}
	row := r.queryer().QueryRow(ctx, `
INSERT INTO users (email, password_hash, first_name, last_name, role, permissions)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+userColumns,
		params.Email, params.PasswordHash, params.FirstName, params.LastName, params.Role, permissions,
	)
	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return nil, users.ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (r *UserRepository) getOne(ctx context.Context, op, where string, arg any) (*users.User, error) {
	row := r.queryer().QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	user, err := scanUser(row)
	if err != nil {
		if isNotFound(err) {
			return nil, users.ErrUserNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*users.User, error) {
	return r.getOne(ctx, "get user by id", "id = $1", id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	return r.getOne(ctx, "get user by email", "lower(email) = lower($1)", email)
}

func (r *UserRepository) GetByVerificationToken(ctx context.Context, tokenHash string) (*users.User, error) {
	return r.getOne(ctx, "get user by verification token", "verification_token_hash = $1", tokenHash)
}

func (r *UserRepository) GetByResetToken(ctx context.Context, tokenHash string) (*users.User, error) {
	return r.getOne(ctx, "get user by reset token", "reset_token_hash = $1", tokenHash)
}

func (r *UserRepository) List(ctx context.Context, filters users.ListFilters) ([]users.User, int64, error) {
	var (
		conditions []string
		args       []any
	)
	if filters.Role != "" {
		args = append(args, filters.Role)
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)))
	}
	if q := strings.TrimSpace(filters.Query); q != "" {
		args = append(args, likePattern(q))
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(email ILIKE $%d OR first_name ILIKE $%d OR last_name ILIKE $%d)", n, n, n))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.queryer().QueryRow(ctx, `SELECT count(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	args = append(args, filters.Limit, filters.Offset)
	rows, err := r.queryer().Query(ctx,
		`SELECT `+userColumns+` FROM users`+where+
			fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	result := make([]users.User, 0, filters.Limit)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		result = append(result, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate users: %w", err)
	}
	return result, total, nil
}

func (r *UserRepository) Update(ctx context.Context, id string, params users.UpdateParams) (*users.User, error) {
	var permissions any
	if params.Permissions != nil {
		permissions = *params.Permissions
		if *params.Permissions == nil {
			permissions = []string{}
		}
	}
	row := r.queryer().QueryRow(ctx, `
UPDATE users
   SET first_name  = COALESCE($2, first_name),
       last_name   = COALESCE($3, last_name),
       role        = COALESCE($4, role),
       permissions = COALESCE($5::text[], permissions),
       updated_at  = now()
 WHERE id = $1
RETURNING `+userColumns,
		id, params.FirstName, params.LastName, params.Role, permissions,
	)
	user, err := scanUser(row)
	if err != nil {
		if isNotFound(err) {
			return nil, users.ErrUserNotFound
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// exec runs a single-row UPDATE or DELETE and maps zero rows to ErrUserNotFound.
func (r *UserRepository) exec(ctx context.Context, op, sql string, args ...any) error {
	tag, err := r.queryer().Exec(ctx, sql, args...)
	if err != nil {
		if isNotFound(err) {
			return users.ErrUserNotFound
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return users.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) SetPassword(ctx context.Context, id, passwordHash string) error {
	return r.exec(ctx, "set password", `
UPDATE users
   SET password_hash = $2, reset_token_hash = NULL, reset_expires_at = NULL, updated_at = now()
 WHERE id = $1`, id, passwordHash)
}

func (r *UserRepository) SetVerificationToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	return r.exec(ctx, "set verification token", `
UPDATE users
   SET verification_token_hash = $2, verification_expires_at = $3, updated_at = now()
 WHERE id = $1`, id, tokenHash, expiresAt)
}

func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string) error {
	return r.exec(ctx, "mark email verified", `
UPDATE users
   SET email_verified = true, verification_token_hash = NULL, verification_expires_at = NULL, updated_at = now()
 WHERE id = $1`, id)
}

func (r *UserRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	return r.exec(ctx, "set reset token", `
UPDATE users
   SET reset_token_hash = $2, reset_expires_at = $3, updated_at = now()
 WHERE id = $1`, id, tokenHash, expiresAt)
}

func (r *UserRepository) RecordLogin(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, "record login", `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
}

// Delete removes the user and their bookings. Seats held by active bookings are
// released on the owning events before the user row goes, with each event row
// locked first so the counter stays consistent with concurrent bookings.
func (r *UserRepository) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { metrics.RecordQuery(metrics.QueryDeleteUser, start, err) }()

	tx := r.tx
	if tx == nil {
		tx, err = r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("delete user: begin: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()
	}

	if _, err = tx.Exec(ctx, `
SELECT id FROM events
 WHERE id IN (SELECT event_id FROM bookings WHERE user_id = $1 AND status IN ('pending', 'confirmed'))
 ORDER BY id
   FOR UPDATE`, id); err != nil {
		return fmt.Errorf("delete user: lock events: %w", err)
	}

	rows, err := tx.Query(ctx, `
DELETE FROM bookings WHERE user_id = $1
RETURNING event_id::text, status IN ('pending', 'confirmed')`, id)
	if err != nil {
		return fmt.Errorf("delete user: delete bookings: %w", err)
	}
	released := map[string]int{}
	for rows.Next() {
		var (
			eventID string
			active  bool
		)
		if err = rows.Scan(&eventID, &active); err != nil {
			rows.Close()
			return fmt.Errorf("delete user: scan booking: %w", err)
		}
		if active {
			released[eventID]++
		}
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return fmt.Errorf("delete user: delete bookings: %w", err)
	}

	eventIDs := make([]string, 0, len(released))
	for eventID := range released {
		eventIDs = append(eventIDs, eventID)
	}
	slices.Sort(eventIDs)
	for _, eventID := range eventIDs {
		if _, err = tx.Exec(ctx, `
UPDATE events SET current_bookings = current_bookings - $2, updated_at = now()
 WHERE id = $1`, eventID, released[eventID]); err != nil {
			return fmt.Errorf("delete user: release seats: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return users.ErrUserNotFound
	}

	if r.tx == nil {
		if err = tx.Commit(ctx); err != nil {
			return fmt.Errorf("delete user: commit: %w", err)
		}
	}
	return nil
}
