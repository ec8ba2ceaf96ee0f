package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	identity "github.com/arthurh0812/natours-identity"
)

// SessionCookie is the cookie the session credential is read from when no
// Authorization header is present.
const SessionCookie = "jwt"

// Authenticator verifies a session credential. *identity.Engine implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*identity.Principal, error)
}

// ErrorHandler writes the response for a rejected request.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

type principalContextKey struct{}

// PrincipalFromContext returns the principal stored by Protect.
func PrincipalFromContext(ctx context.Context) (*identity.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*identity.Principal)
	return p, ok && p != nil
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *identity.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// Protect rejects requests without a valid session. onError may be nil.
func Protect(auth Authenticator, onError ErrorHandler) func(http.Handler) http.Handler {
	if onError == nil {
		onError = WriteError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				onError(w, r, identity.ErrUnauthorized)
				return
			}

			credential, ok := credentialFromRequest(r)
			if !ok {
				onError(w, r, &identity.Error{
					Kind:    identity.ErrUnauthorized,
					Message: "you are not logged in, please log in to get access",
				})
				return
			}

			p, err := auth.Authenticate(r.Context(), credential)
			if err != nil {
				onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// Optional attaches the principal when the request carries a credential that
// verifies. It never rejects: a missing, invalid or stale credential simply
// leaves the request anonymous.
func Optional(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential, ok := credentialFromRequest(r)
			if !ok || auth == nil {
				next.ServeHTTP(w, r)
				return
			}
			p, err := auth.Authenticate(r.Context(), credential)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RestrictTo admits principals holding one of roles. It must run after
// Protect.
func RestrictTo(onError ErrorHandler, roles ...identity.Role) func(http.Handler) http.Handler {
	if onError == nil {
		onError = WriteError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				onError(w, r, identity.ErrUnauthorized)
				return
			}
			if !identity.RoleAllowed(p.Account, roles...) {
				onError(w, r, &identity.Error{
					Kind:    identity.ErrForbidden,
					Message: "you do not have permission to perform this action",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func credentialFromRequest(r *http.Request) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" && c.Value != "loggedout" {
		return c.Value, true
	}
	return "", false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

// WriteError is the default ErrorHandler: a JSON body with 401 or 403.
func WriteError(w http.ResponseWriter, _ *http.Request, err error) {
	status := http.StatusUnauthorized
	if errors.Is(err, identity.ErrForbidden) {
		status = http.StatusForbidden
	} else if errors.Is(err, identity.ErrDependencyUnavailable) {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "fail",
		"message": identity.Message(err),
	})
}
