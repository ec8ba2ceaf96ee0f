package identity

import (
	"context"
	"errors"
	"time"

	"github.com/arthurh0812/natours-identity/account"
	"github.com/arthurh0812/natours-identity/internal/audit"
	"github.com/arthurh0812/natours-identity/internal/metrics"
	"github.com/arthurh0812/natours-identity/internal/policy"
	"github.com/arthurh0812/natours-identity/internal/token"
)

// ChangeUsername replaces the account handle. Non-administrators may do so
// once per cooldown window; a rejection carries the earliest retry time.
func (e *Engine) ChangeUsername(ctx context.Context, in ChangeUsernameInput) (*AccountView, error) {
	handle, verr := normalizeHandle(in.Handle)
	if verr != nil {
		return nil, verr
	}

	a, err := e.updateAccount(ctx, account.ID(in.AccountID), func(a *account.Account) error {
		return e.applyHandleChange(ctx, a, handle)
	})
	if err != nil {
		return nil, e.profileError(ctx, audit.EventChangeUsername, in.AccountID, err)
	}

	e.metrics.Inc(metrics.UsernameChanged)
	e.emitAudit(ctx, audit.EventChangeUsername, a.ID, "", true, nil, nil)
	v := a.View()
	return &v, nil
}

// applyHandleChange runs inside a store transaction.
func (e *Engine) applyHandleChange(ctx context.Context, a *account.Account, handle string) error {
	if a.Handle == handle {
		return validationError("that is already your username")
	}

	now := e.now()
	allowed, next := policy.HandleChangeAllowed(a, now, e.config.Profile.HandleCooldown)
	if !allowed {
		e.metrics.Inc(metrics.UsernameCooldown)
		return &Error{
			Kind:    ErrForbidden,
			Message: "please wait until " + next.UTC().Format(time.RFC1123) + " to change your username again",
			Until:   next,
		}
	}

	a.Handle = handle
	a.HandleChangedAt = &now
	return nil
}

// UpdateProfile applies the non-nil fields of in. Name changes apply at once,
// a handle change follows the ChangeUsername rules, and an email change is
// parked as pending until the link sent to the new address is confirmed.
//
// As with Signup, a delivery failure returns both the updated view and an
// ErrDependencyUnavailable error; the pending email is then discarded.
func (e *Engine) UpdateProfile(ctx context.Context, in UpdateProfileInput) (*AccountView, error) {
	if in.Name == nil && in.Email == nil && in.Handle == nil {
		return nil, validationError("nothing to update")
	}

	var (
		name, handle, email string
		verr                *Error
	)
	if in.Name != nil {
		if name, verr = normalizeName(*in.Name); verr != nil {
			return nil, verr
		}
	}
	if in.Handle != nil {
		if handle, verr = normalizeHandle(*in.Handle); verr != nil {
			return nil, verr
		}
	}
	if in.Email != nil {
		if email, verr = normalizeEmail(*in.Email); verr != nil {
			return nil, verr
		}
		if other, err := e.findAccount(ctx, account.Email(email)); err == nil && other.ID != in.AccountID {
			return nil, newError(ErrConflict, "that email address is already in use")
		} else if err != nil && !errors.Is(err, account.ErrNotFound) {
			return nil, e.dependencyError(ctx, "update_profile.lookup", err)
		}
	}

	var (
		issued        *token.Issued
		handleChanged bool
	)
	a, err := e.updateAccount(ctx, account.ID(in.AccountID), func(a *account.Account) error {
		issued, handleChanged = nil, false
		if in.Name != nil {
			a.Name = name
		}
		if in.Handle != nil && handle != a.Handle {
			if err := e.applyHandleChange(ctx, a, handle); err != nil {
				return err
			}
			handleChanged = true
		}
		if in.Email != nil {
			if email == a.Email {
				a.PendingEmail = ""
				return nil
			}
			t, err := e.codec.Issue(token.PurposeConfirmation)
			if err != nil {
				return err
			}
			issued = &t
			a.PendingEmail = email
			a.Confirmation = &account.PendingToken{Fingerprint: t.Fingerprint, ExpiresAt: t.ExpiresAt}
		}
		return nil
	})
	if err != nil {
		return nil, e.profileError(ctx, audit.EventUpdateProfile, in.AccountID, err)
	}
	if handleChanged {
		e.metrics.Inc(metrics.UsernameChanged)
	}
	e.metrics.Inc(metrics.ProfileUpdated)

	v := a.View()
	if issued != nil {
		if err := e.sendConfirmation(ctx, a.PendingEmail, a.Name, issued.Secret); err != nil {
			e.revokeConfirmation(ctx, a.ID, issued.Fingerprint)
			v.PendingEmail = ""
			e.emitAudit(ctx, audit.EventUpdateProfile, a.ID, "", true, nil, map[string]string{"delivery": "failed"})
			return &v, wrapError(ErrDependencyUnavailable,
				"your profile was updated, but the confirmation email for the new address could not be sent", err)
		}
	}

	e.emitAudit(ctx, audit.EventUpdateProfile, a.ID, "", true, nil, nil)
	return &v, nil
}

// Deactivate soft-deletes the account. It disappears from every lookup and
// its sessions stop verifying; the record itself is kept.
func (e *Engine) Deactivate(ctx context.Context, in DeactivateInput) error {
	_, err := e.updateAccount(ctx, account.ID(in.AccountID), func(a *account.Account) error {
		a.Active = false
		a.Confirmation = nil
		a.Reset = nil
		a.PendingEmail = ""
		return nil
	})
	if err != nil {
		return e.profileError(ctx, audit.EventDeactivate, in.AccountID, err)
	}

	e.metrics.Inc(metrics.AccountDeactivated)
	e.emitAudit(ctx, audit.EventDeactivate, in.AccountID, "", true, nil, nil)
	return nil
}

func (e *Engine) profileError(ctx context.Context, eventType, accountID string, err error) error {
	var mapped error
	if errors.Is(err, account.ErrDuplicate) {
		mapped = wrapError(ErrConflict, "that username is already taken", err)
	} else {
		mapped = e.storeError(ctx, eventType, err, newError(ErrUnauthorized, msgSessionAccountGone))
	}
	e.emitAudit(ctx, eventType, accountID, "", false, mapped, nil)
	return mapped
}
