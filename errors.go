package identity

import (
	"errors"
	"time"
)

// Error kinds. Every error returned by an Engine operation matches exactly one
// of these with errors.Is.
var (
	// ErrValidation is missing or malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is an absent account where disclosure does not matter.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is a bad credential, token or session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrLocked is an active brute-force lockout. See UnlockTime.
	ErrLocked = errors.New("locked")
	// ErrForbidden is a role, state or cooldown rejection. See RetryTime.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict is a duplicate handle or email.
	ErrConflict = errors.New("conflict")
	// ErrDependencyUnavailable is a store or mailer failure. Retryable.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// Error is the concrete error type returned by the Engine.
type Error struct {
	// Kind is one of the Err* sentinels above.
	Kind error
	// Message is safe to show to the end user.
	Message string
	// Until is the unlock time for ErrLocked, or the earliest retry time for
	// ErrForbidden cooldowns. Zero otherwise.
	Until time.Time
	// Err is the internal cause, never shown to users.
	Err error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Error()
}

func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind error, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func wrapError(kind error, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// UnlockTime returns the lockout end carried by an ErrLocked error.
func UnlockTime(err error) (time.Time, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == ErrLocked && !e.Until.IsZero() {
		return e.Until, true
	}
	return time.Time{}, false
}

// RetryTime returns the earliest retry instant carried by an ErrForbidden
// error, when the rejection is time-bound.
func RetryTime(err error) (time.Time, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == ErrForbidden && !e.Until.IsZero() {
		return e.Until, true
	}
	return time.Time{}, false
}

// IsRetryable reports whether the same request may succeed unchanged later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDependencyUnavailable)
}

// Message returns the user-facing message of err, or a generic one for
// errors not produced by the Engine.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return "something went wrong"
}
