package events

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Service serves event reads.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters Filters) ([]Event, int64, error) {
	if !filters.IncludeHidden && filters.Status != "" && !filters.Status.Public() {
		return nil, 0, nil
	}
	return s.repo.List(ctx, filters)
}

// Get returns an event. Hidden events (draft, canceled) are reported as not
// found unless includeHidden is set.
func (s *Service) Get(ctx context.Context, id string, includeHidden bool) (*Event, error) {
	event, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !includeHidden && !event.Status.Public() {
		return nil, ErrNotFound
	}
	return event, nil
}

type FilterError struct {
	Field   string
	Message string
}

func (e FilterError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ParseFilters reads list filters from query parameters.
func ParseFilters(values url.Values) (Filters, error) {
	filters := Filters{Limit: DefaultLimit}

	if raw := strings.TrimSpace(values.Get("status")); raw != "" {
		status, ok := ParseStatus(strings.ToLower(raw))
		if !ok {
			return filters, FilterError{Field: "status", Message: "must be one of draft, published, canceled, completed, expired"}
		}
		filters.Status = status
	}

	filters.Query = strings.TrimSpace(values.Get("q"))

	if raw := strings.TrimSpace(values.Get("upcoming")); raw != "" {
		upcoming, err := strconv.ParseBool(raw)
		if err != nil {
			return filters, FilterError{Field: "upcoming", Message: "must be true or false"}
		}
		filters.Upcoming = upcoming
	}

	from, err := parseTime("from", values.Get("from"))
	if err != nil {
		return filters, err
	}
	to, err := parseTime("to", values.Get("to"))
	if err != nil {
		return filters, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return filters, FilterError{Field: "to", Message: "must be on or after from"}
	}
	filters.From = from
	filters.To = to

	limit, err := parseLimit(values)
	if err != nil {
		return filters, err
	}
	filters.Limit = limit

	offset, err := parseOffset(values)
	if err != nil {
		return filters, err
	}
	filters.Offset = offset

	return filters, nil
}

// parseTime accepts RFC3339 timestamps or plain dates.
func parseTime(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return &parsed, nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, FilterError{Field: field, Message: "must be an RFC3339 timestamp or YYYY-MM-DD date"}
	}
	return &parsed, nil
}

func parseLimit(values url.Values) (int, error) {
	raw := strings.TrimSpace(values.Get("limit"))
	if raw == "" {
		return DefaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > MaxLimit {
		return 0, FilterError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", MaxLimit)}
	}
	return limit, nil
}

func parseOffset(values url.Values) (int, error) {
	raw := strings.TrimSpace(values.Get("offset"))
	if raw == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(raw)
	if err != nil || offset < 0 {
		return 0, FilterError{Field: "offset", Message: "must be a non-negative integer"}
	}
	return offset, nil
}
