package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/arthurh0812/natours-identity"
	"github.com/arthurh0812/natours-identity/account"
	"github.com/arthurh0812/natours-identity/store/memstore"
)

var linkSecret = regexp.MustCompile(`(?:confirmEmail|resetPassword)/([A-Za-z0-9_-]+)`)

type inbox struct {
	mu     sync.Mutex
	bodies []string
	err    error
}

func (m *inbox) Send(_ context.Context, _, _, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.bodies = append(m.bodies, body)
	return nil
}

func (m *inbox) lastSecret(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.bodies, "no mail sent")
	match := linkSecret.FindStringSubmatch(m.bodies[len(m.bodies)-1])
	require.Len(t, match, 2, "no link in mail body")
	return match[1]
}

type apiHarness struct {
	srv   *httptest.Server
	store *memstore.Store
	mail  *inbox
}

func newAPI(t *testing.T) *apiHarness {
	t.Helper()
	cfg := identity.DefaultConfig()
	cfg.Session.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	store := memstore.New()
	mail := &inbox{}
	engine, err := identity.New().
		WithConfig(cfg).
		WithStore(store).
		WithMailer(mail).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	srv := httptest.NewServer(New(engine, Options{}))
	t.Cleanup(srv.Close)
	return &apiHarness{srv: srv, store: store, mail: mail}
}

type reply struct {
	Code   int
	Header http.Header
	Body   map[string]any
}

func (h *apiHarness) do(t *testing.T, method, path, session string, body any) reply {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set("Authorization", "Bearer "+session)
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := reply{Code: resp.StatusCode, Header: resp.Header}
	if resp.StatusCode != http.StatusNoContent && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out.Body))
	}
	return out
}

// register signs up and confirms handle, returning its session.
func (h *apiHarness) register(t *testing.T, handle string) string {
	t.Helper()
	r := h.do(t, http.MethodPost, "/api/v1/users/signup", "", map[string]string{
		"name":            "Test " + handle,
		"username":        handle,
		"email":           handle + "@example.com",
		"password":        "pass1234",
		"passwordConfirm": "pass1234",
	})
	require.Equal(t, http.StatusCreated, r.Code)

	r = h.do(t, http.MethodGet, "/api/v1/users/confirmEmail/"+h.mail.lastSecret(t), "", nil)
	require.Equal(t, http.StatusOK, r.Code)
	token, _ := r.Body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestSignupConfirmLoginMe(t *testing.T) {
	h := newAPI(t)

	r := h.do(t, http.MethodPost, "/api/v1/users/signup", "", map[string]string{
		"name":            "Jonas",
		"username":        "Jonas",
		"email":           "jonas@example.com",
		"password":        "pass1234",
		"passwordConfirm": "pass1234",
	})
	require.Equal(t, http.StatusCreated, r.Code)
	assert.Equal(t, "success", r.Body["status"])
	assert.Empty(t, r.Body["token"])

	r = h.do(t, http.MethodPost, "/api/v1/users/login", "", map[string]string{"identifier": "jonas", "password": "pass1234"})
	assert.Equal(t, http.StatusForbidden, r.Code)

	r = h.do(t, http.MethodGet, "/api/v1/users/confirmEmail/"+h.mail.lastSecret(t), "", nil)
	require.Equal(t, http.StatusOK, r.Code)

	r = h.do(t, http.MethodPost, "/api/v1/users/login", "", map[string]string{"email": "jonas@example.com", "password": "pass1234"})
	require.Equal(t, http.StatusOK, r.Code)
	token, _ := r.Body["token"].(string)
	require.NotEmpty(t, token)
	assert.Contains(t, r.Header.Get("Set-Cookie"), "jwt="+token)
	assert.Contains(t, r.Header.Get("Set-Cookie"), "HttpOnly")

	r = h.do(t, http.MethodGet, "/api/v1/users/me", token, nil)
	require.Equal(t, http.StatusOK, r.Code)
	user := r.Body["data"].(map[string]any)["user"].(map[string]any)
	assert.Equal(t, "jonas", user["handle"])
	assert.NotContains(t, user, "password_hash")
}

func TestStatusMapping(t *testing.T) {
	h := newAPI(t)
	h.register(t, "taken")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"validation", http.MethodPost, "/api/v1/users/login", map[string]string{}, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/v1/users/login", "not an object", http.StatusBadRequest},
		{"bad credentials", http.MethodPost, "/api/v1/users/login", map[string]string{"identifier": "taken", "password": "nope12345"}, http.StatusUnauthorized},
		{"unknown email", http.MethodPost, "/api/v1/users/forgotPassword", map[string]string{"email": "ghost@example.com"}, http.StatusNotFound},
		{"conflict", http.MethodPost, "/api/v1/users/signup", map[string]string{
			"name": "Other", "username": "taken", "email": "other@example.com",
			"password": "pass1234", "passwordConfirm": "pass1234",
		}, http.StatusConflict},
		{"bad token", http.MethodGet, "/api/v1/users/confirmEmail/nonsense", nil, http.StatusUnauthorized},
		{"no session", http.MethodGet, "/api/v1/users/me", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := h.do(t, tt.method, tt.path, "", tt.body)
			assert.Equal(t, tt.want, r.Code)
			assert.Equal(t, "fail", r.Body["status"])
			assert.NotEmpty(t, r.Body["message"])
		})
	}
}

func TestLockoutAnswersTooManyRequests(t *testing.T) {
	h := newAPI(t)
	h.register(t, "victim")

	var r reply
	for i := 0; i < 6; i++ {
		r = h.do(t, http.MethodPost, "/api/v1/users/login", "", map[string]string{"identifier": "victim", "password": "wrong-pass"})
	}
	require.Equal(t, http.StatusTooManyRequests, r.Code)
	assert.NotEmpty(t, r.Header.Get("Retry-After"))

	r = h.do(t, http.MethodPost, "/api/v1/users/login", "", map[string]string{"identifier": "victim", "password": "pass1234"})
	assert.Equal(t, http.StatusTooManyRequests, r.Code)
}

func TestLockoutProbeIsAdminOnly(t *testing.T) {
	h := newAPI(t)
	user := h.register(t, "plain")
	admin := h.register(t, "boss")

	_, err := h.store.UpdateAccount(context.Background(), account.Handle("boss"), func(a *account.Account) error {
		a.Role = account.RoleAdmin
		return nil
	})
	require.NoError(t, err)

	r := h.do(t, http.MethodGet, "/api/v1/users/lockout/plain", user, nil)
	assert.Equal(t, http.StatusForbidden, r.Code)

	h.do(t, http.MethodPost, "/api/v1/users/login", "", map[string]string{"identifier": "plain", "password": "wrong-pass"})

	r = h.do(t, http.MethodGet, "/api/v1/users/lockout/plain", admin, nil)
	require.Equal(t, http.StatusOK, r.Code)
	data := r.Body["data"].(map[string]any)
	assert.Equal(t, false, data["locked"])
	assert.EqualValues(t, 1, data["failures"])
}

func TestPasswordResetFlow(t *testing.T) {
	h := newAPI(t)
	old := h.register(t, "forgetful")

	r := h.do(t, http.MethodPost, "/api/v1/users/forgotPassword", "", map[string]string{"email": "forgetful@example.com"})
	require.Equal(t, http.StatusOK, r.Code)

	// Sessions are issued-at millisecond precision; step past the old one.
	time.Sleep(5 * time.Millisecond)

	r = h.do(t, http.MethodPatch, "/api/v1/users/resetPassword/"+h.mail.lastSecret(t), "", map[string]string{
		"password": "newpass123", "passwordConfirm": "newpass123",
	})
	require.Equal(t, http.StatusOK, r.Code)
	fresh, _ := r.Body["token"].(string)
	require.NotEmpty(t, fresh)

	assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/api/v1/users/me", old, nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/v1/users/me", fresh, nil).Code)
}

func TestUpdateMeRejectsPassword(t *testing.T) {
	h := newAPI(t)
	token := h.register(t, "updater")

	r := h.do(t, http.MethodPatch, "/api/v1/users/updateMe", token, map[string]string{"password": "sneaky123"})
	assert.Equal(t, http.StatusBadRequest, r.Code)

	r = h.do(t, http.MethodPatch, "/api/v1/users/updateMe", token, map[string]string{"name": "New Name"})
	require.Equal(t, http.StatusOK, r.Code)
	user := r.Body["data"].(map[string]any)["user"].(map[string]any)
	assert.Equal(t, "New Name", user["name"])
}

func TestDeleteMe(t *testing.T) {
	h := newAPI(t)
	token := h.register(t, "leaver")

	r := h.do(t, http.MethodDelete, "/api/v1/users/deleteMe", token, nil)
	require.Equal(t, http.StatusNoContent, r.Code)
	assert.Contains(t, r.Header.Get("Set-Cookie"), "jwt=loggedout")

	r = h.do(t, http.MethodGet, "/api/v1/users/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, r.Code)
}

func TestSignupDeliveryFailureStillCreates(t *testing.T) {
	h := newAPI(t)
	h.mail.err = errors.New("smtp down")

	r := h.do(t, http.MethodPost, "/api/v1/users/signup", "", map[string]string{
		"name": "Late", "username": "late", "email": "late@example.com",
		"password": "pass1234", "passwordConfirm": "pass1234",
	})
	require.Equal(t, http.StatusCreated, r.Code)
	assert.Contains(t, r.Body["message"], "could not be sent")
	assert.Equal(t, 1, h.store.Len())
}

func TestMetricsEndpoint(t *testing.T) {
	h := newAPI(t)
	h.register(t, "counted")

	resp, err := h.srv.Client().Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "identity_signup_success_total 1")
	assert.Contains(t, buf.String(), "identity_audit_dropped_total 0")
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, "1800", retryAfter(now.Add(30*time.Minute), now))
	assert.Equal(t, "2", retryAfter(now.Add(1500*time.Millisecond), now))
	assert.Equal(t, "1", retryAfter(now.Add(-time.Second), now))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(&identity.Error{Kind: identity.ErrDependencyUnavailable}))
	assert.Equal(t, http.StatusTooManyRequests, statusFor(&identity.Error{Kind: identity.ErrLocked}))
}

func TestSessionNeverRejects(t *testing.T) {
	h := newAPI(t)
	session := h.register(t, "viewer")

	r := h.do(t, http.MethodGet, "/api/v1/users/session", "", nil)
	require.Equal(t, http.StatusOK, r.Code)
	data := r.Body["data"].(map[string]any)
	assert.Equal(t, false, data["loggedIn"])
	assert.NotContains(t, data, "user")

	r = h.do(t, http.MethodGet, "/api/v1/users/session", "not-a-jwt", nil)
	require.Equal(t, http.StatusOK, r.Code)
	assert.Equal(t, false, r.Body["data"].(map[string]any)["loggedIn"])

	r = h.do(t, http.MethodGet, "/api/v1/users/session", session, nil)
	require.Equal(t, http.StatusOK, r.Code)
	data = r.Body["data"].(map[string]any)
	assert.Equal(t, true, data["loggedIn"])
	user := data["user"].(map[string]any)
	assert.Equal(t, "viewer", user["handle"])
}
