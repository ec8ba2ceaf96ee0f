package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/arthurh0812/natours-identity/account"
	"github.com/arthurh0812/natours-identity/internal/audit"
	"github.com/arthurh0812/natours-identity/internal/guard"
	"github.com/arthurh0812/natours-identity/internal/metrics"
	"github.com/arthurh0812/natours-identity/internal/policy"
	"github.com/arthurh0812/natours-identity/internal/token"
	"github.com/arthurh0812/natours-identity/password"
	"github.com/arthurh0812/natours-identity/session"
)

const (
	msgUnavailable        = "the service is temporarily unavailable, please try again later"
	msgSessionAccountGone = "the account belonging to this session no longer exists"
)

// Engine runs the account lifecycle flows. It holds no per-request state and
// is safe for concurrent use.
type Engine struct {
	config Config
	store  account.Store
	mailer Mailer
	clock  Clock
	log    Logger

	hasher     *password.Argon2
	timingHash string
	issuer     *session.Issuer
	codec      *token.Codec
	guard      *guard.Guard

	metrics *metrics.Metrics
	audit   *audit.Dispatcher
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// SessionTTL is the lifetime of issued session credentials.
func (e *Engine) SessionTTL() time.Duration {
	return e.issuer.TTL()
}

// MetricsSnapshot returns the current counter values.
func (e *Engine) MetricsSnapshot() metrics.Snapshot {
	return e.metrics.Snapshot()
}

// AuditDropped returns how many audit events were dropped under pressure.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// RoleAllowed reports whether the account holds one of roles. An empty role
// list allows everyone.
func RoleAllowed(a AccountView, roles ...Role) bool {
	return policy.RoleAllowed(a.Role, roles...)
}

func (e *Engine) now() time.Time {
	return e.clock.Now()
}

/*
====================================
STORE ACCESS
====================================
*/

func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.Timeouts.Store)
}

func (e *Engine) findAccount(ctx context.Context, l account.Lookup) (*account.Account, error) {
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	return e.store.FindAccount(sctx, l)
}

func (e *Engine) createAccount(ctx context.Context, a *account.Account) error {
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	return e.store.CreateAccount(sctx, a)
}

func (e *Engine) updateAccount(ctx context.Context, l account.Lookup, fn account.MutateFunc) (*account.Account, error) {
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	return e.store.UpdateAccount(sctx, l, fn)
}

func (e *Engine) guardCheck(ctx context.Context, subject string) (guard.Status, error) {
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	return e.guard.Check(sctx, subject)
}

func (e *Engine) guardFailure(ctx context.Context, subject string) (guard.Status, error) {
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	return e.guard.RecordFailure(sctx, subject)
}

func (e *Engine) guardReset(ctx context.Context, subject string) error {
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	return e.guard.Reset(sctx, subject)
}

// guardSubject returns the key failed attempts are counted against.
func (e *Engine) guardSubject(ctx context.Context, a *account.Account, identifier string) string {
	if e.config.Lockout.Binding == BindClient {
		if ip := ClientIPFromContext(ctx); ip != "" {
			return "client:" + ip
		}
	}
	if a != nil {
		return "account:" + a.ID
	}
	return "identifier:" + strings.ToLower(strings.TrimSpace(identifier))
}

/*
====================================
ERROR MAPPING
====================================
*/

// errTokenRejected aborts a token-consuming transaction without writing.
var errTokenRejected = errors.New("token rejected")

func (e *Engine) dependencyError(ctx context.Context, op string, err error) *Error {
	e.metrics.Inc(metrics.DependencyFailure)
	e.log.Error(ctx, "dependency failure", "op", op, "error", err)
	return wrapError(ErrDependencyUnavailable, msgUnavailable, err)
}

// storeError maps a store failure. ErrNotFound becomes notFound when given;
// a *Error produced inside a mutate callback passes through unchanged.
func (e *Engine) storeError(ctx context.Context, op string, err error, notFound *Error) error {
	var engineErr *Error
	switch {
	case errors.As(err, &engineErr):
		return engineErr
	case errors.Is(err, account.ErrNotFound) && notFound != nil:
		notFound.Err = err
		return notFound
	default:
		return e.dependencyError(ctx, op, err)
	}
}

func lockedError(until, now time.Time) *Error {
	remaining := until.Sub(now).Round(time.Second)
	if remaining < time.Second {
		remaining = time.Second
	}
	return &Error{
		Kind: ErrLocked,
		Message: "too many failed login attempts, please wait until " +
			until.UTC().Format(time.RFC1123) + " (" + remaining.String() + ") before trying again",
		Until: until,
	}
}

func unauthorizedToken() *Error {
	return newError(ErrUnauthorized, "token is invalid or has expired")
}

/*
====================================
SESSIONS
====================================
*/

func (e *Engine) mint(ctx context.Context, a *account.Account) (*AuthResult, error) {
	cred, assertion, err := e.issuer.Mint(a.ID)
	if err != nil {
		return nil, e.dependencyError(ctx, "session.mint", err)
	}
	return &AuthResult{
		Account:   a.View(),
		Session:   cred,
		ExpiresAt: assertion.ExpiresAt,
	}, nil
}

// Authenticate verifies a session credential and loads its account. A
// credential issued before the account's last password change is rejected.
func (e *Engine) Authenticate(ctx context.Context, credential string) (*Principal, error) {
	assertion, err := e.issuer.Verify(credential)
	if err != nil {
		e.metrics.Inc(metrics.SessionRejected)
		return nil, wrapError(ErrUnauthorized, "you are not logged in, please log in to get access", err)
	}

	a, err := e.findAccount(ctx, account.ID(assertion.AccountID))
	if err != nil {
		e.metrics.Inc(metrics.SessionRejected)
		return nil, e.storeError(ctx, "authenticate", err,
			newError(ErrUnauthorized, msgSessionAccountGone))
	}

	if !policy.CredentialStillValid(a, assertion.IssuedAt) {
		e.metrics.Inc(metrics.SessionRejected)
		e.emitAudit(ctx, audit.EventAuthenticate, a.ID, "", false, ErrUnauthorized, map[string]string{
			"reason": "password_changed",
		})
		return nil, newError(ErrUnauthorized, "password was changed recently, please log in again")
	}

	return &Principal{
		Account:   a.View(),
		IssuedAt:  assertion.IssuedAt,
		ExpiresAt: assertion.ExpiresAt,
	}, nil
}

// Me returns the account view for id.
func (e *Engine) Me(ctx context.Context, accountID string) (*AccountView, error) {
	a, err := e.findAccount(ctx, account.ID(accountID))
	if err != nil {
		return nil, e.storeError(ctx, "me", err, newError(ErrNotFound, "no account found with that id"))
	}
	v := a.View()
	return &v, nil
}
