package guard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arthurh0812/natours-identity/store/memstore"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestGuard() (*Guard, *testClock) {
	clock := &testClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	return New(memstore.New(), clock.Now), clock
}

func TestLockoutTable(t *testing.T) {
	want := map[int]time.Duration{
		0:  0,
		1:  0,
		5:  0,
		6:  30 * time.Minute,
		7:  time.Hour,
		8:  2 * time.Hour,
		9:  4 * time.Hour,
		10: 8 * time.Hour,
		25: 8 * time.Hour,
	}
	for count, d := range want {
		if got := LockoutFor(count); got != d {
			t.Fatalf("LockoutFor(%d) = %v, want %v", count, got, d)
		}
	}
	for c := 1; c < 30; c++ {
		if LockoutFor(c+1) < LockoutFor(c) {
			t.Fatalf("lockout shrinks between %d and %d", c, c+1)
		}
	}
}

func TestSixthFailureLocksForThirtyMinutes(t *testing.T) {
	ctx := context.Background()
	g, clock := newTestGuard()

	for i := 1; i <= 5; i++ {
		st, err := g.RecordFailure(ctx, "account:a1")
		if err != nil {
			t.Fatalf("RecordFailure error: %v", err)
		}
		if st.State != Warning || st.Count != i {
			t.Fatalf("failure %d: unexpected status %+v", i, st)
		}
	}

	st, err := g.RecordFailure(ctx, "account:a1")
	if err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}
	if !st.IsLocked() {
		t.Fatalf("expected Locked after 6th failure, got %+v", st)
	}
	if want := clock.Now().Add(30 * time.Minute); !st.Until.Equal(want) {
		t.Fatalf("unlock time = %v, want %v", st.Until, want)
	}

	clock.Advance(time.Minute)
	st, err = g.RecordFailure(ctx, "account:a1")
	if err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}
	if want := clock.Now().Add(time.Hour); !st.Until.Equal(want) {
		t.Fatalf("7th failure unlock = %v, want %v", st.Until, want)
	}
}

func TestEscalationNeverShortensWindow(t *testing.T) {
	ctx := context.Background()
	g, clock := newTestGuard()

	for i := 0; i < 10; i++ {
		if _, err := g.RecordFailure(ctx, "s"); err != nil {
			t.Fatalf("RecordFailure error: %v", err)
		}
	}
	st, _ := g.Check(ctx, "s")
	eightHours := st.Until

	// A further failure one hour later must not move the window earlier.
	clock.Advance(time.Hour)
	st, err := g.RecordFailure(ctx, "s")
	if err != nil {
		t.Fatalf("RecordFailure error: %v", err)
	}
	if st.Until.Before(eightHours) {
		t.Fatalf("window shortened: %v < %v", st.Until, eightHours)
	}
}

func TestCheckExpiresLock(t *testing.T) {
	ctx := context.Background()
	g, clock := newTestGuard()

	for i := 0; i < 6; i++ {
		if _, err := g.RecordFailure(ctx, "s"); err != nil {
			t.Fatalf("RecordFailure error: %v", err)
		}
	}
	st, err := g.Check(ctx, "s")
	if err != nil || !st.IsLocked() {
		t.Fatalf("expected locked, got %+v %v", st, err)
	}

	clock.Advance(30 * time.Minute)
	st, err = g.Check(ctx, "s")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if st.IsLocked() || st.State != Warning || st.Count != 6 {
		t.Fatalf("expected Warning with count kept after expiry, got %+v", st)
	}
}

func TestResetClearsState(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGuard()

	for i := 0; i < 8; i++ {
		if _, err := g.RecordFailure(ctx, "s"); err != nil {
			t.Fatalf("RecordFailure error: %v", err)
		}
	}
	if err := g.Reset(ctx, "s"); err != nil {
		t.Fatalf("Reset error: %v", err)
	}
	st, err := g.Check(ctx, "s")
	if err != nil || st.State != Clear || st.Count != 0 {
		t.Fatalf("expected Clear after reset, got %+v %v", st, err)
	}

	if err := g.Reset(ctx, "never-failed"); err != nil {
		t.Fatalf("Reset on unknown subject error: %v", err)
	}
}

func TestConcurrentFailuresAreNotLost(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGuard()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.RecordFailure(ctx, "s"); err != nil {
				t.Errorf("RecordFailure error: %v", err)
			}
		}()
	}
	wg.Wait()

	st, err := g.Check(ctx, "s")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if st.Count != 20 || !st.IsLocked() {
		t.Fatalf("expected 20 failures and locked, got %+v", st)
	}
}
