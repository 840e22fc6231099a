// Package cache holds short-lived shared state, currently the Idempotency-Key
// store used by booking creation.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultTTL is how long a completed idempotency key is remembered.
const DefaultTTL = 24 * time.Hour

// pendingTTL bounds how long a crashed request can hold a key.
const pendingTTL = time.Minute

const pendingValue = "pending"

var ErrInFlight = errors.New("a request with this idempotency key is still in progress")

// Reservation is the outcome of claiming an idempotency key.
type Reservation struct {
	// Claimed is true when the caller owns the key and must Complete or Release it.
	Claimed bool
	// ResultID is the resource created by an earlier request with the same key.
	ResultID string
}

// IdempotencyStore remembers which resource an Idempotency-Key produced.
type IdempotencyStore interface {
	// Reserve claims key. It returns ErrInFlight when another request holds it.
	Reserve(ctx context.Context, key string) (Reservation, error)
	Complete(ctx context.Context, key, resultID string) error
	Release(ctx context.Context, key string) error
}

// ScopedKey namespaces a client key by operation and caller so two users can
// reuse the same key value.
func ScopedKey(operation, userID, key string) string {
	return "idempotency:" + operation + ":" + userID + ":" + strings.TrimSpace(key)
}

func decode(value string) (Reservation, error) {
	if value == pendingValue {
		return Reservation{}, ErrInFlight
	}
	return Reservation{ResultID: strings.TrimPrefix(value, "done:")}, nil
}
