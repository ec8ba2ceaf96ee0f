package identity

import (
	"context"
	"errors"
	"strconv"

	"github.com/arthurh0812/natours-identity/account"
	"github.com/arthurh0812/natours-identity/internal/audit"
	"github.com/arthurh0812/natours-identity/internal/metrics"
	"github.com/arthurh0812/natours-identity/internal/policy"
	"github.com/arthurh0812/natours-identity/internal/token"
)

// ForgotPassword emails a reset link to an existing account. An unknown
// email yields ErrNotFound: email existence is already observable through
// Signup.
func (e *Engine) ForgotPassword(ctx context.Context, in ForgotPasswordInput) error {
	email, verr := normalizeEmail(in.Email)
	if verr != nil {
		return verr
	}

	issued, err := e.codec.Issue(token.PurposeReset)
	if err != nil {
		return e.dependencyError(ctx, "forgot.token", err)
	}

	a, err := e.updateAccount(ctx, account.Email(email), func(a *account.Account) error {
		a.Reset = &account.PendingToken{
			Fingerprint: issued.Fingerprint,
			ExpiresAt:   issued.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return e.storeError(ctx, "forgot.update", err,
			newError(ErrNotFound, "there is no account with that email address"))
	}

	if err := e.sendReset(ctx, a.Email, a.Name, issued.Secret); err != nil {
		e.revokeReset(ctx, a.ID, issued.Fingerprint)
		e.emitAudit(ctx, audit.EventForgotPassword, a.ID, "", false, ErrDependencyUnavailable, nil)
		return wrapError(ErrDependencyUnavailable, "there was an error sending the email, try again later", err)
	}

	e.metrics.Inc(metrics.ResetRequested)
	e.emitAudit(ctx, audit.EventForgotPassword, a.ID, "", true, nil, nil)
	return nil
}

// ResetPassword redeems a reset secret exactly once, replaces the password,
// and issues a new session. Every session issued before the reset stops
// verifying. The secret was delivered to the account email, so redeeming it
// also confirms that address.
func (e *Engine) ResetPassword(ctx context.Context, in ResetPasswordInput) (*AuthResult, error) {
	fp, err := token.Fingerprint(in.Token)
	if err != nil {
		e.metrics.Inc(metrics.ResetFailure)
		return nil, unauthorizedToken()
	}
	if verr := e.validateNewPassword(in.Password, in.PasswordConfirm); verr != nil {
		return nil, verr
	}

	// Cheap existence check before paying for the hash.
	if _, err := e.findAccount(ctx, account.ResetFingerprint(fp)); err != nil {
		e.metrics.Inc(metrics.ResetFailure)
		return nil, e.storeError(ctx, "reset.lookup", err, unauthorizedToken())
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return nil, e.dependencyError(ctx, "reset.hash", err)
	}

	var expired bool
	a, err := e.updateAccount(ctx, account.ResetFingerprint(fp), func(a *account.Account) error {
		pending := a.Reset
		if pending == nil {
			return errTokenRejected
		}
		if e.codec.Expired(pending.ExpiresAt) {
			a.Reset = nil
			expired = true
			return nil
		}
		if !e.codec.Verify(in.Token, pending.Fingerprint, pending.ExpiresAt) {
			return errTokenRejected
		}

		e.setPassword(a, hash)
		a.Reset = nil
		if !a.Registered {
			a.Registered = true
			// A pending confirmation for a new address stays valid.
			if a.PendingEmail == "" {
				a.Confirmation = nil
			}
		}
		return nil
	})
	switch {
	case err == nil && expired:
		err = unauthorizedToken()
	case errors.Is(err, errTokenRejected), errors.Is(err, account.ErrNotFound):
		err = unauthorizedToken()
	case err != nil:
		err = e.dependencyError(ctx, "reset.update", err)
	}
	if err != nil {
		e.metrics.Inc(metrics.ResetFailure)
		e.emitAudit(ctx, audit.EventResetPassword, "", "", false, err, nil)
		return nil, err
	}

	if err := e.guardReset(ctx, e.guardSubject(ctx, a, "")); err != nil {
		e.log.Warn(ctx, "guard reset after password reset failed", "account_id", a.ID, "error", err)
	}

	e.metrics.Inc(metrics.ResetSuccess)
	e.emitAudit(ctx, audit.EventResetPassword, a.ID, "", true, nil, nil)
	return e.mint(ctx, a)
}

// ChangePassword replaces the password of an authenticated account after
// re-verifying the current one. Wrong current passwords count against the
// brute-force guard.
func (e *Engine) ChangePassword(ctx context.Context, in ChangePasswordInput) (*AuthResult, error) {
	if in.CurrentPassword == "" {
		return nil, validationError("please provide your current password")
	}

	a, err := e.findAccount(ctx, account.ID(in.AccountID))
	if err != nil {
		return nil, e.storeError(ctx, "change_password.lookup", err,
			newError(ErrUnauthorized, msgSessionAccountGone))
	}

	subject := e.guardSubject(ctx, a, "")
	status, err := e.guardCheck(ctx, subject)
	if err != nil {
		return nil, e.dependencyError(ctx, "change_password.guard", err)
	}
	if status.IsLocked() {
		return nil, lockedError(status.Until, e.now())
	}

	if !policy.PasswordMatches(e.hasher, in.CurrentPassword, a.PasswordHash) {
		status, err := e.countFailure(ctx, subject)
		if err != nil {
			return nil, e.dependencyError(ctx, "change_password.guard_failure", err)
		}
		if status.IsLocked() {
			e.emitAudit(ctx, audit.EventChangePassword, a.ID, subject, false, ErrLocked, map[string]string{
				"failures": strconv.Itoa(status.Count),
			})
			return nil, lockedError(status.Until, e.now())
		}
		e.emitAudit(ctx, audit.EventChangePassword, a.ID, subject, false, ErrUnauthorized, nil)
		return nil, newError(ErrUnauthorized, "your current password is wrong")
	}
	if err := e.guardReset(ctx, subject); err != nil {
		return nil, e.dependencyError(ctx, "change_password.guard_reset", err)
	}

	if verr := e.validateNewPassword(in.NewPassword, in.NewPasswordConfirm); verr != nil {
		return nil, verr
	}
	hash, err := e.hasher.Hash(in.NewPassword)
	if err != nil {
		return nil, e.dependencyError(ctx, "change_password.hash", err)
	}

	updated, err := e.updateAccount(ctx, account.ID(a.ID), func(cur *account.Account) error {
		e.setPassword(cur, hash)
		return nil
	})
	if err != nil {
		return nil, e.storeError(ctx, "change_password.update", err,
			newError(ErrUnauthorized, msgSessionAccountGone))
	}

	e.metrics.Inc(metrics.PasswordChanged)
	e.emitAudit(ctx, audit.EventChangePassword, a.ID, subject, true, nil, nil)
	return e.mint(ctx, updated)
}

// setPassword stores hash and back-dates password_changed_at by ChangeSkew so
// that a session minted right after the change still verifies.
func (e *Engine) setPassword(a *account.Account, hash string) {
	changed := e.now().Add(-e.config.Session.ChangeSkew)
	a.PasswordHash = hash
	a.PasswordChangedAt = &changed
}
