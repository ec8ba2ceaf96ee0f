package httpapi

import (
	"net/http"
	"time"

	identity "github.com/arthurh0812/natours-identity"
	"github.com/arthurh0812/natours-identity/internal/logging"
	"github.com/arthurh0812/natours-identity/internal/metrics"
	"github.com/arthurh0812/natours-identity/middleware"
)

const usersPrefix = "/api/v1/users/"

// Options tunes the adapter.
type Options struct {
	// CookieSecure marks the session cookie Secure.
	CookieSecure bool
	// TrustProxy takes the client IP from X-Forwarded-For.
	TrustProxy bool
	Logger     logging.Logger
	// Now defaults to time.Now. Only Retry-After and cookie expiry use it.
	Now func() time.Time
}

// Handler serves the account routes.
type Handler struct {
	engine *identity.Engine
	opts   Options
	errs   errorWriter
}

// New returns the daemon's root handler.
func New(engine *identity.Engine, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	h := &Handler{
		engine: engine,
		opts:   opts,
		errs:   errorWriter{log: opts.Logger, now: opts.Now},
	}

	mux := http.NewServeMux()
	h.Register(mux)
	return middleware.ClientInfo(opts.TrustProxy)(requestLog(opts.Logger, mux))
}

// Register attaches every route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	protect := middleware.Protect(h.engine, h.errs.write)
	admin := func(next http.Handler) http.Handler {
		return protect(middleware.RestrictTo(h.errs.write, identity.RoleAdmin)(next))
	}

	mux.HandleFunc("POST "+usersPrefix+"signup", h.signup)
	mux.HandleFunc("GET "+usersPrefix+"confirmEmail/{token}", h.confirmEmail)
	mux.HandleFunc("POST "+usersPrefix+"resendConfirmation", h.resendConfirmation)
	mux.HandleFunc("POST "+usersPrefix+"login", h.login)
	mux.HandleFunc("GET "+usersPrefix+"logout", h.logout)
	mux.HandleFunc("POST "+usersPrefix+"forgotPassword", h.forgotPassword)
	mux.HandleFunc("PATCH "+usersPrefix+"resetPassword/{token}", h.resetPassword)

	mux.Handle("PATCH "+usersPrefix+"changeMyPassword", protect(http.HandlerFunc(h.changePassword)))
	mux.Handle("PATCH "+usersPrefix+"changeMyUsername", protect(http.HandlerFunc(h.changeUsername)))
	mux.Handle("PATCH "+usersPrefix+"updateMe", protect(http.HandlerFunc(h.updateMe)))
	mux.Handle("DELETE "+usersPrefix+"deleteMe", protect(http.HandlerFunc(h.deleteMe)))
	mux.Handle("GET "+usersPrefix+"me", protect(http.HandlerFunc(h.me)))
	mux.Handle("GET "+usersPrefix+"session", middleware.Optional(h.engine)(http.HandlerFunc(h.session)))

	mux.Handle("GET "+usersPrefix+"lockout/{identifier}", admin(http.HandlerFunc(h.lockout)))

	mux.HandleFunc("GET /metrics", h.metrics)
	mux.HandleFunc("GET /healthz", h.health)
}

func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if err := metrics.WritePrometheus(w, h.engine.MetricsSnapshot(), h.engine.AuditDropped()); err != nil {
		h.opts.Logger.Warn(r.Context(), "write metrics failed", "error", err)
	}
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Message: "ok"})
}
