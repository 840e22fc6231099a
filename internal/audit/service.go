package audit

import (
	"context"
	"strings"

	"github.com/Togather-Foundation/eventbook/internal/validation"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// AuditedMethods are the request methods the middleware records.
var AuditedMethods = map[string]struct{}{
	"POST":   {},
	"PUT":    {},
	"PATCH":  {},
	"DELETE": {},
}

// Service answers audit log queries.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters Filters) ([]Entry, int64, error) {
	if filters.Method != "" {
		filters.Method = strings.ToUpper(filters.Method)
		if _, ok := AuditedMethods[filters.Method]; !ok {
			return nil, 0, validation.Field("method", "must be one of: POST, PUT, PATCH, DELETE")
		}
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

func (s *Service) Get(ctx context.Context, id string) (*Entry, error) {
	return s.repo.GetByID(ctx, id)
}
