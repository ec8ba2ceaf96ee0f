// Package memstore is an in-process account.Store for tests and local
// development. All state lives behind one mutex, so every update is atomic.
package memstore

import (
	"context"
	"sync"

	"github.com/arthurh0812/natours-identity/account"
)

// Store implements account.Store in memory.
type Store struct {
	mu       sync.Mutex
	accounts map[string]*account.Account
	attempts map[string]*account.FailedAttempt
}

var _ account.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[string]*account.Account),
		attempts: make(map[string]*account.FailedAttempt),
	}
}

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; ok {
		return account.ErrDuplicate
	}
	if s.taken(a, "") {
		return account.ErrDuplicate
	}
	s.accounts[a.ID] = a.Clone()
	return nil
}

func (s *Store) FindAccount(ctx context.Context, l account.Lookup) (*account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.find(l)
	if a == nil {
		return nil, account.ErrNotFound
	}
	return a.Clone(), nil
}

func (s *Store) UpdateAccount(ctx context.Context, l account.Lookup, fn account.MutateFunc) (*account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.find(l)
	if current == nil {
		return nil, account.ErrNotFound
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	if s.taken(next, current.ID) {
		return nil, account.ErrDuplicate
	}

	s.accounts[current.ID] = next
	return next.Clone(), nil
}

func (s *Store) GetAttempt(ctx context.Context, subject string) (*account.FailedAttempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.attempts[subject]
	if !ok {
		return nil, account.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) UpdateAttempt(ctx context.Context, subject string, fn account.AttemptFunc) (*account.FailedAttempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := &account.FailedAttempt{Subject: subject}
	if rec, ok := s.attempts[subject]; ok {
		next = rec.Clone()
	}
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Subject = subject

	s.attempts[subject] = next
	return next.Clone(), nil
}

// Len returns the number of stored accounts, including soft-deleted ones.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

// Raw returns the stored record for id regardless of the active flag.
func (s *Store) Raw(id string) (*account.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	return a.Clone(), ok
}

func (s *Store) find(l account.Lookup) *account.Account {
	if l.By == account.ByID {
		a := s.accounts[l.Value]
		if !l.Matches(a) {
			return nil
		}
		return a
	}
	for _, a := range s.accounts {
		if l.Matches(a) {
			return a
		}
	}
	return nil
}

// taken reports whether a's handle or email belongs to another record.
// Soft-deleted accounts keep their handle and email reserved.
func (s *Store) taken(a *account.Account, selfID string) bool {
	for id, other := range s.accounts {
		if id == selfID {
			continue
		}
		if other.Handle == a.Handle || other.Email == a.Email {
			return true
		}
	}
	return false
}
