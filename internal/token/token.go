// Package token issues and verifies single-use opaque secrets.
//
// The raw secret travels out of band (an emailed link) and is never stored.
// Only its SHA-256 fingerprint and expiry are persisted on the account.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"
)

const secretSize = 32

// Purpose names what a token authorizes.
type Purpose uint8

const (
	PurposeConfirmation Purpose = iota + 1
	PurposeReset
)

func (p Purpose) String() string {
	switch p {
	case PurposeConfirmation:
		return "confirmation"
	case PurposeReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Default lifetimes.
const (
	ConfirmationTTL = 30 * time.Minute
	ResetTTL        = 10 * time.Minute
)

// ErrMalformed is returned by Fingerprint for input that cannot be a secret
// this package issued.
var ErrMalformed = errors.New("token: malformed secret")

// Issued is a freshly generated token. Secret goes to the user; Fingerprint
// and ExpiresAt go to the store.
type Issued struct {
	Purpose     Purpose
	Secret      string
	Fingerprint string
	ExpiresAt   time.Time
}

// Codec issues tokens against an injectable clock.
type Codec struct {
	now func() time.Time
	ttl map[Purpose]time.Duration
}

// NewCodec returns a codec with the given lifetimes. Non-positive values fall
// back to the defaults.
func NewCodec(now func() time.Time, confirmationTTL, resetTTL time.Duration) *Codec {
	if now == nil {
		now = time.Now
	}
	if confirmationTTL <= 0 {
		confirmationTTL = ConfirmationTTL
	}
	if resetTTL <= 0 {
		resetTTL = ResetTTL
	}
	return &Codec{
		now: now,
		ttl: map[Purpose]time.Duration{
			PurposeConfirmation: confirmationTTL,
			PurposeReset:        resetTTL,
		},
	}
}

// TTL returns the lifetime configured for p.
func (c *Codec) TTL(p Purpose) time.Duration {
	return c.ttl[p]
}

// Issue generates a 256-bit secret for p.
func (c *Codec) Issue(p Purpose) (Issued, error) {
	ttl, ok := c.ttl[p]
	if !ok {
		return Issued{}, errors.New("token: unknown purpose")
	}

	var raw [secretSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return Issued{}, err
	}

	return Issued{
		Purpose:     p,
		Secret:      base64.RawURLEncoding.EncodeToString(raw[:]),
		Fingerprint: fingerprintBytes(raw[:]),
		ExpiresAt:   c.now().Add(ttl),
	}, nil
}

// Verify reports whether presented fingerprints to stored and now is not
// past expiresAt. The fingerprint comparison is constant-time.
func (c *Codec) Verify(presented, stored string, expiresAt time.Time) bool {
	fp, err := Fingerprint(presented)
	if err != nil || stored == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(fp), []byte(stored)) != 1 {
		return false
	}
	return !c.now().After(expiresAt)
}

// Expired reports whether expiresAt has passed.
func (c *Codec) Expired(expiresAt time.Time) bool {
	return c.now().After(expiresAt)
}

// Fingerprint derives the storable lookup key for a presented secret.
func Fingerprint(secret string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(secret)
	if err != nil || len(raw) != secretSize {
		return "", ErrMalformed
	}
	return fingerprintBytes(raw), nil
}

func fingerprintBytes(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
