// Package pagination parses limit/offset query parameters and builds the
// page envelope shared by list endpoints.
package pagination

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Params is a validated limit/offset pair.
type Params struct {
	Limit  int
	Offset int
}

// ParamError names the query parameter that failed to parse.
type ParamError struct {
	Field   string
	Message string
}

func (e ParamError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Parse reads limit and offset. Missing values fall back to defaults;
// out-of-range values are rejected rather than clamped.
func Parse(values url.Values) (Params, error) {
	params := Params{Limit: DefaultLimit}

	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > MaxLimit {
			return params, ParamError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", MaxLimit)}
		}
		params.Limit = limit
	}

	if raw := strings.TrimSpace(values.Get("offset")); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return params, ParamError{Field: "offset", Message: "must be a non-negative integer"}
		}
		params.Offset = offset
	}

	return params, nil
}

// Page is the JSON envelope for list responses.
type Page[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// NewPage builds a Page. A nil items slice is encoded as [].
func NewPage[T any](items []T, total int64, params Params) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Total: total, Limit: params.Limit, Offset: params.Offset}
}

// Map converts each element with fn.
func Map[S, T any](in []S, fn func(S) T) []T {
	out := make([]T, 0, len(in))
	for _, v := range in {
		out = append(out, fn(v))
	}
	return out
}
