package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	identity "github.com/arthurh0812/natours-identity"
	"github.com/arthurh0812/natours-identity/internal/logging"
)

const maxBodyBytes = 1 << 20

// envelope is the response wrapper used by every JSON endpoint.
type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Token   string `json:"token,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func statusWord(code int) string {
	switch {
	case code >= 500:
		return "error"
	case code >= 400:
		return "fail"
	default:
		return "success"
	}
}

func writeJSON(w http.ResponseWriter, code int, body envelope) {
	body.Status = statusWord(code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor maps an engine error kind onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, identity.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, identity.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, identity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, identity.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, identity.ErrLocked):
		return http.StatusTooManyRequests
	case errors.Is(err, identity.ErrDependencyUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// retryAfter is the whole number of seconds until t, at least 1.
func retryAfter(t, now time.Time) string {
	secs := math.Ceil(t.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(int64(secs), 10)
}

type errorWriter struct {
	log logging.Logger
	now func() time.Time
}

func (ew errorWriter) write(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := identity.Message(err)
	if code == http.StatusInternalServerError {
		ew.log.Error(r.Context(), "unhandled error", "route", r.Pattern, "error", err)
		msg = "something went very wrong"
	}
	if until, ok := identity.UnlockTime(err); ok {
		w.Header().Set("Retry-After", retryAfter(until, ew.now()))
	}
	writeJSON(w, code, envelope{Message: msg})
}

func decode(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &identity.Error{Kind: identity.ErrValidation, Message: "request body is empty"}
		}
		return &identity.Error{Kind: identity.ErrValidation, Message: "invalid JSON payload", Err: err}
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLog logs one line per request. It records the matched route
// pattern, never the raw path, so secrets carried in the URL stay out of the
// log. It must wrap the mux directly for r.Pattern to be set.
func requestLog(log logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info(r.Context(), "request",
			"method", r.Method,
			"route", r.Pattern,
			"status", rec.status,
			"duration", time.Since(start),
			"client_ip", identity.ClientIPFromContext(r.Context()),
		)
	})
}
