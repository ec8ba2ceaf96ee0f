package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/arthurh0812/natours-identity/account"
	"github.com/arthurh0812/natours-identity/internal/audit"
	"github.com/arthurh0812/natours-identity/internal/metrics"
	"github.com/arthurh0812/natours-identity/internal/token"
)

// Signup creates an unconfirmed account and emails a confirmation link.
//
// If the account was stored but the email could not be sent, Signup returns
// both the result and an ErrDependencyUnavailable error. The undeliverable
// token is revoked; the caller can request a new one with ResendConfirmation.
func (e *Engine) Signup(ctx context.Context, in SignupInput) (*SignupResult, error) {
	name, verr := normalizeName(in.Name)
	if verr != nil {
		return nil, verr
	}
	handle, verr := normalizeHandle(in.Handle)
	if verr != nil {
		return nil, verr
	}
	email, verr := normalizeEmail(in.Email)
	if verr != nil {
		return nil, verr
	}
	if verr := e.validateNewPassword(in.Password, in.PasswordConfirm); verr != nil {
		return nil, verr
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return nil, e.dependencyError(ctx, "signup.hash", err)
	}
	issued, err := e.codec.Issue(token.PurposeConfirmation)
	if err != nil {
		return nil, e.dependencyError(ctx, "signup.token", err)
	}

	a := &account.Account{
		ID:           uuid.NewString(),
		Name:         name,
		Handle:       handle,
		Email:        email,
		PasswordHash: hash,
		Role:         e.config.Signup.DefaultRole,
		Active:       true,
		Registered:   false,
		Confirmation: &account.PendingToken{
			Fingerprint: issued.Fingerprint,
			ExpiresAt:   issued.ExpiresAt,
		},
		CreatedAt: e.now(),
	}

	if err := e.createAccount(ctx, a); err != nil {
		if errors.Is(err, account.ErrDuplicate) {
			e.metrics.Inc(metrics.SignupConflict)
			e.emitAudit(ctx, audit.EventSignup, "", "", false, ErrConflict, nil)
			return nil, wrapError(ErrConflict, "that username or email is already in use", err)
		}
		return nil, e.dependencyError(ctx, "signup.create", err)
	}
	e.metrics.Inc(metrics.SignupSuccess)

	res := &SignupResult{Account: a.View()}
	if e.config.Signup.IssueSessionImmediately {
		auth, err := e.mint(ctx, a)
		if err != nil {
			return nil, err
		}
		res.Session = auth.Session
	}

	if err := e.sendConfirmation(ctx, a.Email, a.Name, issued.Secret); err != nil {
		e.revokeConfirmation(ctx, a.ID, issued.Fingerprint)
		e.emitAudit(ctx, audit.EventSignup, a.ID, "", true, nil, map[string]string{"delivery": "failed"})
		return res, wrapError(ErrDependencyUnavailable,
			"your account was created, but the confirmation email could not be sent; please request a new one later", err)
	}

	e.emitAudit(ctx, audit.EventSignup, a.ID, "", true, nil, nil)
	return res, nil
}

// ConfirmEmail redeems a confirmation secret. The secret's fingerprint is the
// lookup key. On success the account is registered, any pending email is
// promoted, and a session is issued.
func (e *Engine) ConfirmEmail(ctx context.Context, in ConfirmEmailInput) (*AuthResult, error) {
	fp, err := token.Fingerprint(in.Token)
	if err != nil {
		e.metrics.Inc(metrics.ConfirmFailure)
		return nil, unauthorizedToken()
	}

	var expired bool
	a, err := e.updateAccount(ctx, account.ConfirmFingerprint(fp), func(a *account.Account) error {
		pending := a.Confirmation
		if pending == nil {
			return errTokenRejected
		}
		if e.codec.Expired(pending.ExpiresAt) {
			a.Confirmation = nil
			a.PendingEmail = ""
			expired = true
			return nil
		}
		if !e.codec.Verify(in.Token, pending.Fingerprint, pending.ExpiresAt) {
			return errTokenRejected
		}

		a.Confirmation = nil
		a.Registered = true
		if a.PendingEmail != "" {
			a.Email = a.PendingEmail
			a.PendingEmail = ""
		}
		return nil
	})
	switch {
	case err == nil && expired:
		err = unauthorizedToken()
	case errors.Is(err, errTokenRejected), errors.Is(err, account.ErrNotFound):
		err = unauthorizedToken()
	case errors.Is(err, account.ErrDuplicate):
		err = wrapError(ErrConflict, "that email address is already in use by another account", err)
	case err != nil:
		err = e.dependencyError(ctx, "confirm.update", err)
	}
	if err != nil {
		e.metrics.Inc(metrics.ConfirmFailure)
		e.emitAudit(ctx, audit.EventConfirmEmail, "", "", false, err, nil)
		return nil, err
	}

	e.metrics.Inc(metrics.ConfirmSuccess)
	e.emitAudit(ctx, audit.EventConfirmEmail, a.ID, "", true, nil, nil)
	return e.mint(ctx, a)
}

// ResendConfirmation issues a fresh confirmation token for an account that
// has not confirmed its email yet. Any earlier token stops working.
func (e *Engine) ResendConfirmation(ctx context.Context, in ResendConfirmationInput) error {
	email, verr := normalizeEmail(in.Email)
	if verr != nil {
		return verr
	}

	issued, err := e.codec.Issue(token.PurposeConfirmation)
	if err != nil {
		return e.dependencyError(ctx, "resend.token", err)
	}

	a, err := e.updateAccount(ctx, account.Email(email), func(a *account.Account) error {
		if a.Registered {
			return validationError("this email address is already confirmed")
		}
		a.Confirmation = &account.PendingToken{
			Fingerprint: issued.Fingerprint,
			ExpiresAt:   issued.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return e.storeError(ctx, "resend.update", err,
			newError(ErrNotFound, "there is no account with that email address"))
	}

	if err := e.sendConfirmation(ctx, a.Email, a.Name, issued.Secret); err != nil {
		e.revokeConfirmation(ctx, a.ID, issued.Fingerprint)
		e.emitAudit(ctx, audit.EventResendConfirmation, a.ID, "", false, ErrDependencyUnavailable, nil)
		return wrapError(ErrDependencyUnavailable, "there was an error sending the email, try again later", err)
	}

	e.emitAudit(ctx, audit.EventResendConfirmation, a.ID, "", true, nil, nil)
	return nil
}
