package htlc

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SecretLength is the size of a swap secret. Redemption transactions reveal
// exactly this many bytes, which is what redeem queries match on.
const SecretLength = 32

// Secret is the preimage known only to the initiator until redemption.
type Secret [SecretLength]byte

// NewSecret draws a fresh random secret.
func NewSecret() (Secret, error) {
	var s Secret
	if _, err := rand.Read(s[:]); err != nil {
		return Secret{}, fmt.Errorf("failed to draw secret: %w", err)
	}
	return s, nil
}

// SecretFromBytes copies b into a Secret, b must be SecretLength long.
func SecretFromBytes(b []byte) (Secret, error) {
	var s Secret
	if len(b) != SecretLength {
		return s, fmt.Errorf("%w: secret has %d bytes, want %d", ErrMalformedParams, len(b), SecretLength)
	}
	copy(s[:], b)
	return s, nil
}

func (s Secret) Hash() SecretHash {
	return SecretHash(sha256.Sum256(s[:]))
}

func (s Secret) String() string {
	return hex.EncodeToString(s[:])
}

// SecretHash is the sha256 digest of a Secret, published up front.
type SecretHash [sha256.Size]byte

// ParseSecretHash decodes a hex encoded hash, with or without 0x prefix.
func ParseSecretHash(s string) (SecretHash, error) {
	var h SecretHash
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h, fmt.Errorf("%w: secret hash: %v", ErrMalformedParams, err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("%w: secret hash has %d bytes, want %d", ErrMalformedParams, len(raw), len(h))
	}
	copy(h[:], raw)
	return h, nil
}

func (h SecretHash) IsZero() bool {
	return h == SecretHash{}
}

// Matches tells if s is the preimage of h.
func (h SecretHash) Matches(s Secret) bool {
	return s.Hash() == h
}

func (h SecretHash) String() string {
	return hex.EncodeToString(h[:])
}

func (h SecretHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *SecretHash) UnmarshalText(text []byte) error {
	parsed, err := ParseSecretHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Secret) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(string(text), "0x"))
	if err != nil {
		return fmt.Errorf("%w: secret: %v", ErrMalformedParams, err)
	}
	parsed, err := SecretFromBytes(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
