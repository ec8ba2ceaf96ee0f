package identity

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/arthurh0812/natours-identity/account"
	"github.com/arthurh0812/natours-identity/internal/audit"
	"github.com/arthurh0812/natours-identity/internal/guard"
	"github.com/arthurh0812/natours-identity/internal/metrics"
	"github.com/arthurh0812/natours-identity/internal/policy"
)

const msgBadCredentials = "incorrect username, email or password"

// identifierLookup treats anything containing "@" as an email.
func identifierLookup(identifier string) account.Lookup {
	id := strings.ToLower(strings.TrimSpace(identifier))
	if strings.Contains(id, "@") {
		return account.Email(id)
	}
	return account.Handle(id)
}

// resolve looks an identifier up without disclosing absence: a missing
// account is (nil, nil).
func (e *Engine) resolve(ctx context.Context, identifier string) (*account.Account, error) {
	a, err := e.findAccount(ctx, identifierLookup(identifier))
	if errors.Is(err, account.ErrNotFound) {
		return nil, nil
	}
	return a, err
}

// Login authenticates a handle or email with a password.
//
// The brute-force guard is consulted before any password comparison. An
// unknown identifier is counted and answered exactly like a wrong password.
// A correct password on an unconfirmed account yields ErrForbidden.
func (e *Engine) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	if strings.TrimSpace(in.Identifier) == "" || in.Password == "" {
		return nil, validationError("please provide a username or email and a password")
	}

	a, err := e.resolve(ctx, in.Identifier)
	if err != nil {
		return nil, e.dependencyError(ctx, "login.lookup", err)
	}
	subject := e.guardSubject(ctx, a, in.Identifier)
	accountID := ""
	if a != nil {
		accountID = a.ID
	}

	status, err := e.guardCheck(ctx, subject)
	if err != nil {
		return nil, e.dependencyError(ctx, "login.guard", err)
	}
	if status.IsLocked() {
		e.metrics.Inc(metrics.LoginLocked)
		e.emitAudit(ctx, audit.EventLogin, accountID, subject, false, ErrLocked, nil)
		return nil, lockedError(status.Until, e.now())
	}

	hash := e.timingHash
	if a != nil {
		hash = a.PasswordHash
	}
	if !policy.PasswordMatches(e.hasher, in.Password, hash) || a == nil {
		return nil, e.loginFailed(ctx, accountID, subject)
	}

	if err := e.guardReset(ctx, subject); err != nil {
		return nil, e.dependencyError(ctx, "login.guard_reset", err)
	}

	if !a.Registered {
		e.emitAudit(ctx, audit.EventLogin, a.ID, subject, false, ErrForbidden, map[string]string{"reason": "unconfirmed"})
		return nil, newError(ErrForbidden, "please confirm your email address before logging in")
	}

	e.upgradeHash(ctx, a, in.Password)

	res, err := e.mint(ctx, a)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(metrics.LoginSuccess)
	e.emitAudit(ctx, audit.EventLogin, a.ID, subject, true, nil, nil)
	return res, nil
}

func (e *Engine) loginFailed(ctx context.Context, accountID, subject string) error {
	status, err := e.countFailure(ctx, subject)
	if err != nil {
		return e.dependencyError(ctx, "login.guard_failure", err)
	}
	if status.IsLocked() {
		e.emitAudit(ctx, audit.EventLockout, accountID, subject, false, ErrLocked, map[string]string{
			"failures": strconv.Itoa(status.Count),
		})
		return lockedError(status.Until, e.now())
	}

	e.emitAudit(ctx, audit.EventLogin, accountID, subject, false, ErrUnauthorized, nil)
	return newError(ErrUnauthorized, msgBadCredentials)
}

// countFailure records one failed credential check against subject. It
// updates the metrics and logs a lockout but emits no audit event.
func (e *Engine) countFailure(ctx context.Context, subject string) (guard.Status, error) {
	status, err := e.guardFailure(ctx, subject)
	if err != nil {
		return status, err
	}
	e.metrics.Inc(metrics.LoginFailure)
	if status.IsLocked() {
		e.metrics.Inc(metrics.LockoutTriggered)
		e.log.Warn(ctx, "lockout triggered", "subject", subject, "failures", status.Count, "until", status.Until)
	}
	return status, nil
}

// upgradeHash re-hashes a legacy or weaker stored hash. Failures are logged
// and never fail the login.
func (e *Engine) upgradeHash(ctx context.Context, a *account.Account, plain string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsUpgrade(a.PasswordHash)
	if err != nil || !needs {
		return
	}
	upgraded, err := e.hasher.Hash(plain)
	if err != nil {
		e.log.Warn(ctx, "password upgrade hash failed", "account_id", a.ID, "error", err)
		return
	}

	old := a.PasswordHash
	_, err = e.updateAccount(ctx, account.ID(a.ID), func(cur *account.Account) error {
		if cur.PasswordHash != old {
			return errTokenRejected
		}
		cur.PasswordHash = upgraded
		return nil
	})
	if err != nil {
		if !errors.Is(err, errTokenRejected) {
			e.log.Warn(ctx, "password upgrade store failed", "account_id", a.ID, "error", err)
		}
		return
	}
	a.PasswordHash = upgraded
	e.metrics.Inc(metrics.PasswordUpgraded)
}

// LockoutStatus reports the guard state a login with identifier would meet.
func (e *Engine) LockoutStatus(ctx context.Context, identifier string) (*LockoutStatus, error) {
	if strings.TrimSpace(identifier) == "" {
		return nil, validationError("please provide a username or email")
	}
	a, err := e.resolve(ctx, identifier)
	if err != nil {
		return nil, e.dependencyError(ctx, "lockout.lookup", err)
	}

	status, err := e.guardCheck(ctx, e.guardSubject(ctx, a, identifier))
	if err != nil {
		return nil, e.dependencyError(ctx, "lockout.guard", err)
	}
	return &LockoutStatus{
		Locked:   status.IsLocked(),
		Failures: status.Count,
		Until:    status.Until,
	}, nil
}
