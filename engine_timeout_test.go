package identity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arthurh0812/natours-identity/account"
	"github.com/arthurh0812/natours-identity/store/memstore"
)

// stallingStore blocks the selected calls until their context is done.
type stallingStore struct {
	*memstore.Store
	stallFind   atomic.Bool
	stallCreate atomic.Bool
}

func (s *stallingStore) FindAccount(ctx context.Context, l account.Lookup) (*account.Account, error) {
	if s.stallFind.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.Store.FindAccount(ctx, l)
}

func (s *stallingStore) CreateAccount(ctx context.Context, a *account.Account) error {
	if s.stallCreate.Load() {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.Store.CreateAccount(ctx, a)
}

type stallingMailer struct {
	calls atomic.Int32
}

func (m *stallingMailer) Send(ctx context.Context, _, _, _ string) error {
	m.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func shortTimeoutConfig() Config {
	cfg := testConfig()
	cfg.Timeouts.Store = 20 * time.Millisecond
	cfg.Timeouts.Mail = 20 * time.Millisecond
	return cfg
}

func buildWith(t *testing.T, store account.Store, mailer Mailer) *Engine {
	t.Helper()
	engine, err := New().
		WithConfig(shortTimeoutConfig()).
		WithStore(store).
		WithMailer(mailer).
		WithClock(newFakeClock()).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func assertRetryable(t *testing.T, err error) {
	t.Helper()
	assertKind(t, err, ErrDependencyUnavailable)
	if !IsRetryable(err) {
		t.Fatalf("expected a retryable error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the deadline to be wrapped, got %v", err)
	}
}

func TestStoreTimeoutIsRetryable(t *testing.T) {
	store := &stallingStore{Store: memstore.New()}
	engine := buildWith(t, store, &captureMailer{})

	store.stallCreate.Store(true)
	_, err := engine.Signup(context.Background(), SignupInput{
		Name:            "Slow Store",
		Handle:          "slow",
		Email:           "slow@example.com",
		Password:        testPassword,
		PasswordConfirm: testPassword,
	})
	assertRetryable(t, err)

	store.stallFind.Store(true)
	start := time.Now()
	_, err = engine.Login(context.Background(), LoginInput{Identifier: "slow", Password: testPassword})
	assertRetryable(t, err)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("store timeout was not applied, login took %v", elapsed)
	}
}

func TestMailTimeoutRollsBackConfirmation(t *testing.T) {
	store := memstore.New()
	mailer := &stallingMailer{}
	engine := buildWith(t, store, mailer)

	res, err := engine.Signup(context.Background(), SignupInput{
		Name:            "Slow Mail",
		Handle:          "slowmail",
		Email:           "slowmail@example.com",
		Password:        testPassword,
		PasswordConfirm: testPassword,
	})
	assertRetryable(t, err)
	if res == nil {
		t.Fatalf("the account must be reported even when delivery fails")
	}
	if mailer.calls.Load() != 1 {
		t.Fatalf("expected one delivery attempt, got %d", mailer.calls.Load())
	}

	stored, ok := store.Raw(res.Account.ID)
	if !ok {
		t.Fatalf("account must be kept after a delivery timeout")
	}
	if stored.Confirmation != nil {
		t.Fatalf("undeliverable confirmation fingerprint must be cleared, got %+v", stored.Confirmation)
	}
}

func TestMailTimeoutRollsBackReset(t *testing.T) {
	h := newHarness(t)
	id := h.registered(t, "resetslow")

	mailer := &stallingMailer{}
	engine := buildWith(t, h.store, mailer)

	err := engine.ForgotPassword(context.Background(), ForgotPasswordInput{Email: "resetslow@example.com"})
	assertRetryable(t, err)

	stored, _ := h.store.Raw(id)
	if stored.Reset != nil {
		t.Fatalf("undeliverable reset fingerprint must be cleared")
	}
}
