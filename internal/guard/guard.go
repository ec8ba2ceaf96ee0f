// Package guard tracks consecutive authentication failures per subject and
// computes an escalating lockout window.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arthurh0812/natours-identity/account"
)

// ErrUnavailable wraps store failures.
var ErrUnavailable = errors.New("guard: attempt store unavailable")

// LockThreshold is the failure count at which a subject becomes Locked.
const LockThreshold = 6

// State is the coarse classification of a subject.
type State uint8

const (
	Clear State = iota
	Warning
	Locked
)

func (s State) String() string {
	switch s {
	case Clear:
		return "clear"
	case Warning:
		return "warning"
	case Locked:
		return "locked"
	default:
		return "unknown"
	}
}

// Status is the result of every guard operation.
type Status struct {
	State State
	Count int
	Until time.Time
}

// IsLocked reports whether the status forbids an authentication attempt.
func (s Status) IsLocked() bool {
	return s.State == Locked
}

// LockoutFor returns the lockout window reached at count consecutive
// failures, or zero below the threshold.
func LockoutFor(count int) time.Duration {
	switch {
	case count < LockThreshold:
		return 0
	case count == 6:
		return 30 * time.Minute
	case count == 7:
		return time.Hour
	case count == 8:
		return 2 * time.Hour
	case count == 9:
		return 4 * time.Hour
	default:
		return 8 * time.Hour
	}
}

// Classify maps a stored record to its state at now. A nil record is Clear.
// A record past its lockout window with count still at or above the
// threshold is Warning: the next failure re-locks with a longer window.
func Classify(rec *account.FailedAttempt, now time.Time) Status {
	if rec == nil || rec.Count <= 0 {
		return Status{State: Clear}
	}
	if rec.ProhibitedUntil != nil && now.Before(*rec.ProhibitedUntil) {
		return Status{State: Locked, Count: rec.Count, Until: *rec.ProhibitedUntil}
	}
	return Status{State: Warning, Count: rec.Count}
}

// Store is the subset of account.Store the guard needs.
type Store interface {
	GetAttempt(ctx context.Context, subject string) (*account.FailedAttempt, error)
	UpdateAttempt(ctx context.Context, subject string, fn account.AttemptFunc) (*account.FailedAttempt, error)
}

// Guard applies the lockout policy over a Store.
type Guard struct {
	store Store
	now   func() time.Time
}

// New returns a guard. now defaults to time.Now.
func New(store Store, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{store: store, now: now}
}

// Check returns the current status of subject without mutating it.
func (g *Guard) Check(ctx context.Context, subject string) (Status, error) {
	rec, err := g.store.GetAttempt(ctx, subject)
	if errors.Is(err, account.ErrNotFound) {
		return Status{State: Clear}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return Classify(rec, g.now()), nil
}

// RecordFailure atomically increments the failure count. Crossing the
// threshold sets the lockout window; an existing later window is kept.
func (g *Guard) RecordFailure(ctx context.Context, subject string) (Status, error) {
	now := g.now()
	rec, err := g.store.UpdateAttempt(ctx, subject, func(rec *account.FailedAttempt) error {
		rec.Count++
		rec.UpdatedAt = now
		if window := LockoutFor(rec.Count); window > 0 {
			until := now.Add(window)
			if rec.ProhibitedUntil == nil || until.After(*rec.ProhibitedUntil) {
				rec.ProhibitedUntil = &until
			}
		}
		return nil
	})
	if err != nil {
		return Status{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return Classify(rec, now), nil
}

// Reset returns subject to Clear. Subjects that never failed are left
// without a record.
func (g *Guard) Reset(ctx context.Context, subject string) error {
	rec, err := g.store.GetAttempt(ctx, subject)
	if errors.Is(err, account.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if rec.Count == 0 && rec.ProhibitedUntil == nil {
		return nil
	}

	now := g.now()
	_, err = g.store.UpdateAttempt(ctx, subject, func(rec *account.FailedAttempt) error {
		rec.Count = 0
		rec.ProhibitedUntil = nil
		rec.UpdatedAt = now
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}
