package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	identity "github.com/arthurh0812/natours-identity"
)

type fakeAuth struct {
	credential string
	principal  *identity.Principal
	err        error
	calls      int
}

func (f *fakeAuth) Authenticate(_ context.Context, credential string) (*identity.Principal, error) {
	f.calls++
	f.credential = credential
	if f.err != nil {
		return nil, f.err
	}
	return f.principal, nil
}

func principal(role identity.Role) *identity.Principal {
	return &identity.Principal{Account: identity.AccountView{ID: "a1", Handle: "jonas", Role: role}}
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			t.Fatalf("principal missing from context")
		}
		w.Header().Set("X-Account", p.Account.ID)
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestProtectBearerHeader(t *testing.T) {
	auth := &fakeAuth{principal: principal(identity.RoleUser)}
	h := Protect(auth, nil)(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer tok-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if auth.credential != "tok-123" || rec.Header().Get("X-Account") != "a1" {
		t.Fatalf("unexpected credential %q / account %q", auth.credential, rec.Header().Get("X-Account"))
	}
}

func TestProtectCookieFallback(t *testing.T) {
	auth := &fakeAuth{principal: principal(identity.RoleUser)}
	h := Protect(auth, nil)(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "cookie-tok"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent || auth.credential != "cookie-tok" {
		t.Fatalf("expected cookie credential to be used, got %d %q", rec.Code, auth.credential)
	}
}

func TestProtectMissingCredential(t *testing.T) {
	auth := &fakeAuth{principal: principal(identity.RoleUser)}
	h := Protect(auth, nil)(okHandler(t))

	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer"} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
	if auth.calls != 0 {
		t.Fatalf("authenticator must not be called without a credential")
	}
}

func TestProtectRejectedCredential(t *testing.T) {
	auth := &fakeAuth{err: &identity.Error{Kind: identity.ErrUnauthorized, Message: "password was changed recently, please log in again"}}
	h := Protect(auth, nil)(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "bearer stale")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "fail" || body["message"] != "password was changed recently, please log in again" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestProtectCustomErrorHandler(t *testing.T) {
	var got error
	auth := &fakeAuth{err: identity.ErrDependencyUnavailable}
	h := Protect(auth, func(w http.ResponseWriter, _ *http.Request, err error) {
		got = err
		w.WriteHeader(http.StatusTeapot)
	})(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot || !errors.Is(got, identity.ErrDependencyUnavailable) {
		t.Fatalf("custom handler not used: %d %v", rec.Code, got)
	}
}

func TestRestrictTo(t *testing.T) {
	cases := []struct {
		role identity.Role
		want int
	}{
		{identity.RoleAdmin, http.StatusNoContent},
		{identity.RoleLeadGuide, http.StatusNoContent},
		{identity.RoleUser, http.StatusForbidden},
	}
	for _, tc := range cases {
		auth := &fakeAuth{principal: principal(tc.role)}
		h := Protect(auth, nil)(RestrictTo(nil, identity.RoleAdmin, identity.RoleLeadGuide)(okHandler(t)))

		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer x")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("role %s: expected %d, got %d", tc.role, tc.want, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	RestrictTo(nil, identity.RoleAdmin)(okHandler(t)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("RestrictTo without Protect must reject with 401, got %d", rec.Code)
	}
}

func TestClientInfo(t *testing.T) {
	cases := []struct {
		name       string
		trustProxy bool
		remote     string
		forwarded  string
		want       string
	}{
		{"remote addr", false, "192.0.2.1:5555", "", "192.0.2.1"},
		{"ignores forwarded", false, "192.0.2.1:5555", "203.0.113.9", "192.0.2.1"},
		{"trusted forwarded", true, "10.0.0.1:5555", "203.0.113.9, 10.0.0.1", "203.0.113.9"},
		{"bad forwarded", true, "10.0.0.1:5555", "garbage", "10.0.0.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var gotIP, gotUA string
			h := ClientInfo(tc.trustProxy)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				gotIP = identity.ClientIPFromContext(r.Context())
				gotUA = identity.UserAgentFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			req.Header.Set("User-Agent", "curl/8")
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if gotIP != tc.want || gotUA != "curl/8" {
				t.Fatalf("got ip %q ua %q", gotIP, gotUA)
			}
		})
	}
}

func TestOptional(t *testing.T) {
	anonymous := func(t *testing.T) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := PrincipalFromContext(r.Context()); ok {
				t.Fatalf("no principal expected")
			}
			w.WriteHeader(http.StatusOK)
		})
	}

	tests := []struct {
		name   string
		auth   *fakeAuth
		cookie string
		want   int
		calls  int
		signed bool
	}{
		{name: "valid cookie", auth: &fakeAuth{principal: principal(identity.RoleUser)}, cookie: "tok", want: http.StatusNoContent, calls: 1, signed: true},
		{name: "no credential", auth: &fakeAuth{principal: principal(identity.RoleUser)}, want: http.StatusOK},
		{name: "logged out cookie", auth: &fakeAuth{principal: principal(identity.RoleUser)}, cookie: "loggedout", want: http.StatusOK},
		{name: "stale session", auth: &fakeAuth{err: identity.ErrUnauthorized}, cookie: "tok", want: http.StatusOK, calls: 1},
		{name: "store down", auth: &fakeAuth{err: identity.ErrDependencyUnavailable}, cookie: "tok", want: http.StatusOK, calls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := anonymous(t)
			if tt.signed {
				next = okHandler(t)
			}
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			Optional(tt.auth)(next).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
			if tt.auth.calls != tt.calls {
				t.Fatalf("expected %d Authenticate calls, got %d", tt.calls, tt.auth.calls)
			}
		})
	}
}
