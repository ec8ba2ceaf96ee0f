// Package policy holds the pure authorization and cooldown predicates. None
// of these functions perform I/O or return errors.
package policy

import (
	"time"

	"github.com/arthurh0812/natours-identity/account"
)

// HandleCooldown is the minimum interval between two handle changes.
const HandleCooldown = 30 * 24 * time.Hour

// Verifier compares a candidate password against a stored slow hash.
type Verifier interface {
	Verify(password, encodedHash string) (bool, error)
}

// PasswordMatches reports whether candidate matches hash. An unreadable
// stored hash never matches.
func PasswordMatches(v Verifier, candidate, hash string) bool {
	if v == nil || hash == "" {
		return false
	}
	ok, err := v.Verify(candidate, hash)
	return err == nil && ok
}

// HandleChangeAllowed reports whether a may change its handle at now. When
// it may not, the second result is the earliest instant a change is allowed.
// Administrators are exempt.
func HandleChangeAllowed(a *account.Account, now time.Time, cooldown time.Duration) (bool, time.Time) {
	if a == nil {
		return false, time.Time{}
	}
	if a.Role == account.RoleAdmin || a.HandleChangedAt == nil {
		return true, time.Time{}
	}
	next := a.HandleChangedAt.Add(cooldown)
	if now.After(next) {
		return true, time.Time{}
	}
	return false, next
}

// CredentialStillValid reports whether a session issued at issuedAt survives
// the account's last password change.
func CredentialStillValid(a *account.Account, issuedAt time.Time) bool {
	if a == nil {
		return false
	}
	if a.PasswordChangedAt == nil {
		return true
	}
	return !issuedAt.Before(*a.PasswordChangedAt)
}

// RoleAllowed reports whether role is one of required. An empty required set
// allows every role.
func RoleAllowed(role account.Role, required ...account.Role) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if r == role {
			return true
		}
	}
	return false
}
