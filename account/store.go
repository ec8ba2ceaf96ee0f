package account

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no active record matches a lookup.
	ErrNotFound = errors.New("account: record not found")
	// ErrDuplicate is returned when a handle or email is already taken.
	ErrDuplicate = errors.New("account: duplicate handle or email")
	// ErrConflict is returned when an optimistic transaction kept losing races.
	ErrConflict = errors.New("account: concurrent modification")
)

// LookupField selects the indexed field a Lookup matches on.
type LookupField uint8

const (
	ByID LookupField = iota
	ByHandle
	ByEmail
	ByConfirmFingerprint
	ByResetFingerprint
)

func (f LookupField) String() string {
	switch f {
	case ByID:
		return "id"
	case ByHandle:
		return "handle"
	case ByEmail:
		return "email"
	case ByConfirmFingerprint:
		return "confirm_fingerprint"
	case ByResetFingerprint:
		return "reset_fingerprint"
	default:
		return fmt.Sprintf("field(%d)", uint8(f))
	}
}

// Lookup identifies one account by an indexed field.
type Lookup struct {
	By    LookupField
	Value string
}

func ID(id string) Lookup { return Lookup{By: ByID, Value: id} }
func Handle(h string) Lookup { return Lookup{By: ByHandle, Value: h} }
func Email(e string) Lookup { return Lookup{By: ByEmail, Value: e} }
func ConfirmFingerprint(fp string) Lookup { return Lookup{By: ByConfirmFingerprint, Value: fp} }
func ResetFingerprint(fp string) Lookup { return Lookup{By: ByResetFingerprint, Value: fp} }

// Matches reports whether a satisfies the lookup. Soft-deleted accounts never
// match. Store implementations that cannot express the lookup natively use
// this as the single source of truth.
func (l Lookup) Matches(a *Account) bool {
	if a == nil || !a.Active || l.Value == "" {
		return false
	}
	switch l.By {
	case ByID:
		return a.ID == l.Value
	case ByHandle:
		return a.Handle == l.Value
	case ByEmail:
		return a.Email == l.Value
	case ByConfirmFingerprint:
		return a.Confirmation != nil && a.Confirmation.Fingerprint == l.Value
	case ByResetFingerprint:
		return a.Reset != nil && a.Reset.Fingerprint == l.Value
	default:
		return false
	}
}

// MutateFunc edits a record inside a store transaction. Returning an error
// aborts the transaction and the error is returned unchanged to the caller.
type MutateFunc func(*Account) error

// AttemptFunc edits a failed-attempt record inside a store transaction.
type AttemptFunc func(*FailedAttempt) error

// Store persists accounts and failed-attempt records.
//
// Every lookup applies the active predicate: soft-deleted accounts behave as
// absent. UpdateAccount and UpdateAttempt are atomic read-modify-write
// operations; concurrent callers never observe or overwrite each other's
// intermediate state.
type Store interface {
	CreateAccount(ctx context.Context, a *Account) error
	FindAccount(ctx context.Context, l Lookup) (*Account, error)
	UpdateAccount(ctx context.Context, l Lookup, fn MutateFunc) (*Account, error)

	GetAttempt(ctx context.Context, subject string) (*FailedAttempt, error)
	// UpdateAttempt creates the record with a zero count when it does not
	// exist yet, then applies fn.
	UpdateAttempt(ctx context.Context, subject string, fn AttemptFunc) (*FailedAttempt, error)
}
