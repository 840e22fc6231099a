package auth

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// DerivedKeyLength is the length of derived keys in bytes (32 bytes = 256 bits for HMAC-SHA256)
	DerivedKeyLength = 32

	purposeAccessToken = "eventbook-access-jwt-v1"
	purposeTicketToken = "eventbook-ticket-token-v1"
)

var ErrInvalidMasterSecret = errors.New("master secret cannot be empty")

// DeriveKey derives a 32-byte key from a master secret using HKDF-SHA256.
// Keys derived with different purpose strings are independent of each other.
func DeriveKey(masterSecret []byte, purpose string) ([]byte, error) {
	if len(masterSecret) == 0 {
		return nil, ErrInvalidMasterSecret
	}

	// salt=nil is acceptable per RFC 5869
	reader := hkdf.New(sha256.New, masterSecret, nil, []byte(purpose))

	derivedKey := make([]byte, DerivedKeyLength)
	if _, err := io.ReadFull(reader, derivedKey); err != nil {
		return nil, err
	}

	return derivedKey, nil
}

// DeriveAccessTokenKey derives the key that signs access JWTs.
func DeriveAccessTokenKey(masterSecret []byte) ([]byte, error) {
	return DeriveKey(masterSecret, purposeAccessToken)
}

// DeriveTicketKey derives the key that MACs ticket tokens.
func DeriveTicketKey(masterSecret []byte) ([]byte, error) {
	return DeriveKey(masterSecret, purposeTicketToken)
}
