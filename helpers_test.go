package identity

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/arthurh0812/natours-identity/store/memstore"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentMessage struct {
	To      string
	Subject string
	Body    string
}

type captureMailer struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *captureMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{To: to, Subject: subject, Body: body})
	return nil
}

func (m *captureMailer) fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *captureMailer) last(t *testing.T) sentMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatalf("no message was sent")
	}
	return m.sent[len(m.sent)-1]
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

var (
	confirmLinkRE = regexp.MustCompile(`confirmEmail/([A-Za-z0-9_-]+)`)
	resetLinkRE   = regexp.MustCompile(`resetPassword/([A-Za-z0-9_-]+)`)
)

func (m *captureMailer) confirmSecret(t *testing.T) string {
	t.Helper()
	match := confirmLinkRE.FindStringSubmatch(m.last(t).Body)
	if match == nil {
		t.Fatalf("last message carries no confirmation link")
	}
	return match[1]
}

func (m *captureMailer) resetSecret(t *testing.T) string {
	t.Helper()
	match := resetLinkRE.FindStringSubmatch(m.last(t).Body)
	if match == nil {
		t.Fatalf("last message carries no reset link")
	}
	return match[1]
}

type testHarness struct {
	engine *Engine
	store  *memstore.Store
	mailer *captureMailer
	clock  *fakeClock
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Session.PrivateKey = testKey
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	return newHarnessWithConfig(t, testConfig())
}

func newHarnessWithConfig(t *testing.T, cfg Config) *testHarness {
	t.Helper()

	h := &testHarness{
		store:  memstore.New(),
		mailer: &captureMailer{},
		clock:  newFakeClock(),
	}
	engine, err := New().
		WithConfig(cfg).
		WithStore(h.store).
		WithMailer(h.mailer).
		WithClock(h.clock).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

const testPassword = "pass1234"

// signup creates an account and returns its id and the confirmation secret.
func (h *testHarness) signup(t *testing.T, handle string) (string, string) {
	t.Helper()
	res, err := h.engine.Signup(context.Background(), SignupInput{
		Name:            "Jonas Schmedtmann",
		Handle:          handle,
		Email:           handle + "@example.com",
		Password:        testPassword,
		PasswordConfirm: testPassword,
	})
	if err != nil {
		t.Fatalf("Signup(%s): %v", handle, err)
	}
	return res.Account.ID, h.mailer.confirmSecret(t)
}

// registered creates and confirms an account.
func (h *testHarness) registered(t *testing.T, handle string) string {
	t.Helper()
	id, secret := h.signup(t, handle)
	if _, err := h.engine.ConfirmEmail(context.Background(), ConfirmEmailInput{Token: secret}); err != nil {
		t.Fatalf("ConfirmEmail(%s): %v", handle, err)
	}
	return id
}

func (h *testHarness) login(identifier, password string) (*AuthResult, error) {
	return h.engine.Login(context.Background(), LoginInput{Identifier: identifier, Password: password})
}

func assertKind(t *testing.T, err error, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}
