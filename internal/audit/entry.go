// Package audit records mutating HTTP requests for later review.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("audit entry not found")

// Entry is one recorded request.
type Entry struct {
	ID         string
	Method     string
	URL        string
	UserID     *string
	UserEmail  string
	Status     int
	Changes    json.RawMessage
	RemoteAddr string
	RequestID  string
	CreatedAt  time.Time
}

type Filters struct {
	UserID string
	Method string
	Limit  int
	Offset int
}

type Repository interface {
	Insert(ctx context.Context, entry Entry) error
	List(ctx context.Context, filters Filters) ([]Entry, int64, error)
	GetByID(ctx context.Context, id string) (*Entry, error)
}
