package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/Togather-Foundation/eventbook/internal/audit"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ audit.Repository = (*AuditRepository)(nil)

// AuditRepository is append-only: there is no update or delete.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

const auditColumns = `id, method, url, user_id, user_email, status, changes, remote_addr, request_id, created_at`

func scanAuditEntry(row pgx.Row) (*audit.Entry, error) {
	var (
		e       audit.Entry
		changes []byte
	)
	err := row.Scan(&e.ID, &e.Method, &e.URL, &e.UserID, &e.UserEmail, &e.Status, &changes, &e.RemoteAddr, &e.RequestID, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Changes = changes
	return &e, nil
}

func (r *AuditRepository) Insert(ctx context.Context, entry audit.Entry) error {
	var changes any
	if len(entry.Changes) > 0 {
		changes = string(entry.Changes)
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO audit_logs (method, url, user_id, user_email, status, changes, remote_addr, request_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9)`,
		entry.Method, entry.URL, entry.UserID, entry.UserEmail, entry.Status, changes,
		entry.RemoteAddr, entry.RequestID, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepository) List(ctx context.Context, filters audit.Filters) ([]audit.Entry, int64, error) {
	var (
		conditions []string
		args       []any
	)
	if filters.UserID != "" {
		args = append(args, filters.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filters.Method != "" {
		args = append(args, filters.Method)
		conditions = append(conditions, fmt.Sprintf("method = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		if isNotFound(err) {
			return []audit.Entry{}, 0, nil
		}
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	args = append(args, filters.Limit, filters.Offset)
	rows, err := r.pool.Query(ctx,
		`SELECT `+auditColumns+` FROM audit_logs`+where+
			fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	result := make([]audit.Entry, 0, filters.Limit)
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		result = append(result, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit entries: %w", err)
	}
	return result, total, nil
}

func (r *AuditRepository) GetByID(ctx context.Context, id string) (*audit.Entry, error) {
	entry, err := scanAuditEntry(r.pool.QueryRow(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE id = $1`, id))
	if err != nil {
		if isNotFound(err) {
			return nil, audit.ErrNotFound
		}
		return nil, fmt.Errorf("get audit entry: %w", err)
	}
	return entry, nil
}
