package identity

import (
	"context"
	"time"

	"github.com/arthurh0812/natours-identity/account"
)

type (
	// Account is the stored credential record.
	Account = account.Account
	// AccountView is an Account without its password hash or token state.
	AccountView = account.View
	// Role is one of the fixed account roles.
	Role = account.Role
	// Store persists accounts and failed-attempt records.
	Store = account.Store
)

const (
	RoleUser      = account.RoleUser
	RoleGuide     = account.RoleGuide
	RoleLeadGuide = account.RoleLeadGuide
	RoleAdmin     = account.RoleAdmin
)

// Mailer delivers an outbound message. Implementations must honor ctx.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, to, subject, body string) error

func (f MailerFunc) Send(ctx context.Context, to, subject, body string) error {
	return f(ctx, to, subject, body)
}

// Clock is the engine's time source.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

type SignupInput struct {
	Name            string
	Handle          string
	Email           string
	Password        string
	PasswordConfirm string
}

// SignupResult carries Session only when the engine is configured to issue
// one before email confirmation.
type SignupResult struct {
	Account AccountView
	Session string
}

type ConfirmEmailInput struct {
	Token string
}

type ResendConfirmationInput struct {
	Email string
}

// LoginInput.Identifier is a handle, or an email when it contains "@".
type LoginInput struct {
	Identifier string
	Password   string
}

type ForgotPasswordInput struct {
	Email string
}

type ResetPasswordInput struct {
	Token           string
	Password        string
	PasswordConfirm string
}

type ChangePasswordInput struct {
	AccountID          string
	CurrentPassword    string
	NewPassword        string
	NewPasswordConfirm string
}

type ChangeUsernameInput struct {
	AccountID string
	Handle    string
}

// UpdateProfileInput changes only the non-nil fields. An email change is not
// applied until the new address is confirmed.
type UpdateProfileInput struct {
	AccountID string
	Name      *string
	Email     *string
	Handle    *string
}

type DeactivateInput struct {
	AccountID string
}

// AuthResult is returned by every flow that ends with a fresh session.
type AuthResult struct {
	Account   AccountView
	Session   string
	ExpiresAt time.Time
}

// Principal is the verified caller behind a session credential.
type Principal struct {
	Account   AccountView
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// LockoutStatus is the guard state for a login identifier.
type LockoutStatus struct {
	Locked   bool
	Failures int
	Until    time.Time
}
