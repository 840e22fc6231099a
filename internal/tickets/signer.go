// Package tickets issues booking ticket tokens and renders ticket PDFs.
package tickets

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/Togather-Foundation/eventbook/internal/auth"
)

// Signer MACs the identity of a booking. A token stays bound to one
// booking, event and user, so it cannot be replayed against another booking.
type Signer struct {
	key []byte
}

// NewSigner derives the ticket key from the server's master secret.
func NewSigner(masterSecret string) (*Signer, error) {
	key, err := auth.DeriveTicketKey([]byte(masterSecret))
	if err != nil {
		return nil, fmt.Errorf("derive ticket key: %w", err)
	}
	return &Signer{key: key}, nil
}

func (s *Signer) Sign(bookingID, eventID, userID string) string {
	return base64.RawURLEncoding.EncodeToString(s.mac(bookingID, eventID, userID))
}

// Verify reports whether token was issued for the given booking.
func (s *Signer) Verify(token, bookingID, eventID, userID string) bool {
	provided, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(provided) != sha256.Size {
		return false
	}
	return hmac.Equal(provided, s.mac(bookingID, eventID, userID))
}

func (s *Signer) mac(bookingID, eventID, userID string) []byte {
	h := hmac.New(sha256.New, s.key)
	_, _ = fmt.Fprintf(h, "booking:%s|event:%s|user:%s", bookingID, eventID, userID)
	return h.Sum(nil)
}
