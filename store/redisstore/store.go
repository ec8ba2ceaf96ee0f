package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arthurh0812/natours-identity/account"
)

// ErrUnavailable wraps every Redis transport failure.
var ErrUnavailable = errors.New("redisstore: redis unavailable")

// ErrContention is returned when an optimistic transaction keeps losing
// races past the retry budget.
var ErrContention = errors.New("redisstore: too much contention")

const (
	defaultPrefix = "natours"
	maxRetries    = 8

	// Token index keys outlive the token so an expired secret can still be
	// resolved and cleared on presentation.
	tokenIndexGrace = 24 * time.Hour
)

// Store is a Redis-backed account.Store.
type Store struct {
	rdb        redis.UniversalClient
	prefix     string
	attemptTTL time.Duration
}

var _ account.Store = (*Store)(nil)

// Option customizes a Store.
type Option func(*Store)

// WithPrefix namespaces every key. Defaults to "natours".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithAttemptTTL expires failed-attempt records once they are cleared back to
// a zero count. Records holding failures never expire, so a lockout window
// and the escalation count survive until a reset. Zero keeps every record.
func WithAttemptTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.attemptTTL = ttl
		}
	}
}

// New returns a Store over rdb.
func New(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{rdb: rdb, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Store) accountKey(id string) string {
	return s.prefix + ":acct:" + id
}

func (s *Store) attemptKey(subject string) string {
	return s.prefix + ":fail:" + subject
}

func (s *Store) indexKey(field account.LookupField, value string) string {
	return s.prefix + ":idx:" + field.String() + ":" + value
}

/*
====================================
ACCOUNTS
====================================
*/

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	if a == nil || a.ID == "" {
		return errors.New("redisstore: account id is required")
	}
	data, err := encodeAccount(a)
	if err != nil {
		return err
	}

	acctKey := s.accountKey(a.ID)
	handleKey := s.indexKey(account.ByHandle, a.Handle)
	emailKey := s.indexKey(account.ByEmail, a.Email)

	for i := 0; i < maxRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, acctKey, handleKey, emailKey).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return account.ErrDuplicate
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, acctKey, data, 0)
				pipe.Set(ctx, handleKey, a.ID, 0)
				pipe.Set(ctx, emailKey, a.ID, 0)
				s.setTokenIndex(ctx, pipe, account.ByConfirmFingerprint, a.ID, a.Confirmation)
				s.setTokenIndex(ctx, pipe, account.ByResetFingerprint, a.ID, a.Reset)
				return nil
			})
			return err
		}, acctKey, handleKey, emailKey)

		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, account.ErrDuplicate):
			return err
		case err != nil:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	}
	return ErrContention
}

func (s *Store) FindAccount(ctx context.Context, l account.Lookup) (*account.Account, error) {
	id := l.Value
	if l.By != account.ByID {
		var err error
		id, err = s.rdb.Get(ctx, s.indexKey(l.By, l.Value)).Result()
		if err != nil {
			return nil, mapReadError(err)
		}
	}

	data, err := s.rdb.Get(ctx, s.accountKey(id)).Bytes()
	if err != nil {
		return nil, mapReadError(err)
	}
	a, err := decodeAccount(data)
	if err != nil {
		return nil, err
	}
	if !l.Matches(a) {
		return nil, account.ErrNotFound
	}
	return a, nil
}

func (s *Store) UpdateAccount(ctx context.Context, l account.Lookup, fn account.MutateFunc) (*account.Account, error) {
	watchKey := s.accountKey(l.Value)
	if l.By != account.ByID {
		watchKey = s.indexKey(l.By, l.Value)
	}

	for i := 0; i < maxRetries; i++ {
		var (
			updated *account.Account
			fnErr   error
		)

		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			id := l.Value
			if l.By != account.ByID {
				var err error
				if id, err = tx.Get(ctx, watchKey).Result(); err != nil {
					return err
				}
				if err := tx.Watch(ctx, s.accountKey(id)).Err(); err != nil {
					return err
				}
			}

			data, err := tx.Get(ctx, s.accountKey(id)).Bytes()
			if err != nil {
				return err
			}
			current, err := decodeAccount(data)
			if err != nil {
				return err
			}
			if !l.Matches(current) {
				return account.ErrNotFound
			}

			next := current.Clone()
			if fnErr = fn(next); fnErr != nil {
				return fnErr
			}
			next.ID = current.ID

			claims, err := s.claimIndexes(ctx, tx, current, next)
			if err != nil {
				return err
			}
			encoded, err := encodeAccount(next)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, s.accountKey(next.ID), encoded, 0)
				for _, key := range claims.release {
					pipe.Del(ctx, key)
				}
				for _, key := range claims.acquire {
					pipe.Set(ctx, key, next.ID, 0)
				}
				s.moveTokenIndex(ctx, pipe, account.ByConfirmFingerprint, next.ID, current.Confirmation, next.Confirmation)
				s.moveTokenIndex(ctx, pipe, account.ByResetFingerprint, next.ID, current.Reset, next.Reset)
				return nil
			})
			if err != nil {
				return err
			}
			updated = next
			return nil
		}, watchKey)

		if fnErr != nil {
			return nil, fnErr
		}
		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, account.ErrNotFound), errors.Is(err, account.ErrDuplicate):
			return nil, err
		case err != nil:
			return nil, mapReadError(err)
		}
		return updated, nil
	}
	return nil, ErrContention
}

type indexClaims struct {
	acquire []string
	release []string
}

// claimIndexes watches and checks the handle and email keys next moves to.
func (s *Store) claimIndexes(ctx context.Context, tx *redis.Tx, current, next *account.Account) (indexClaims, error) {
	var claims indexClaims
	pairs := []struct {
		field     account.LookupField
		old, want string
	}{
		{account.ByHandle, current.Handle, next.Handle},
		{account.ByEmail, current.Email, next.Email},
	}
	for _, p := range pairs {
		if p.old == p.want {
			continue
		}
		key := s.indexKey(p.field, p.want)
		if err := tx.Watch(ctx, key).Err(); err != nil {
			return claims, err
		}
		owner, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return claims, err
		case owner != next.ID:
			return claims, account.ErrDuplicate
		}
		claims.acquire = append(claims.acquire, key)
		claims.release = append(claims.release, s.indexKey(p.field, p.old))
	}
	return claims, nil
}

func (s *Store) setTokenIndex(ctx context.Context, pipe redis.Pipeliner, field account.LookupField, id string, t *account.PendingToken) {
	if t == nil || t.Fingerprint == "" {
		return
	}
	key := s.indexKey(field, t.Fingerprint)
	pipe.Set(ctx, key, id, 0)
	pipe.PExpireAt(ctx, key, t.ExpiresAt.Add(tokenIndexGrace))
}

func (s *Store) moveTokenIndex(ctx context.Context, pipe redis.Pipeliner, field account.LookupField, id string, old, next *account.PendingToken) {
	if old != nil && (next == nil || next.Fingerprint != old.Fingerprint) {
		pipe.Del(ctx, s.indexKey(field, old.Fingerprint))
	}
	if next != nil && (old == nil || old.Fingerprint != next.Fingerprint) {
		s.setTokenIndex(ctx, pipe, field, id, next)
	}
}

/*
====================================
FAILED ATTEMPTS
====================================
*/

func (s *Store) GetAttempt(ctx context.Context, subject string) (*account.FailedAttempt, error) {
	data, err := s.rdb.Get(ctx, s.attemptKey(subject)).Bytes()
	if err != nil {
		return nil, mapReadError(err)
	}
	return decodeAttempt(data)
}

func (s *Store) UpdateAttempt(ctx context.Context, subject string, fn account.AttemptFunc) (*account.FailedAttempt, error) {
	key := s.attemptKey(subject)

	for i := 0; i < maxRetries; i++ {
		var (
			updated *account.FailedAttempt
			fnErr   error
		)

		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			next := &account.FailedAttempt{Subject: subject}
			data, err := tx.Get(ctx, key).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				if next, err = decodeAttempt(data); err != nil {
					return err
				}
			}

			if fnErr = fn(next); fnErr != nil {
				return fnErr
			}
			next.Subject = subject

			encoded, err := json.Marshal(next)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, s.attemptExpiry(next))
				return nil
			})
			if err != nil {
				return err
			}
			updated = next
			return nil
		}, key)

		if fnErr != nil {
			return nil, fnErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return updated, nil
	}
	return nil, ErrContention
}

// attemptExpiry is zero (no expiry) for any record still carrying failures.
func (s *Store) attemptExpiry(rec *account.FailedAttempt) time.Duration {
	if rec.Count > 0 || rec.ProhibitedUntil != nil {
		return 0
	}
	return s.attemptTTL
}

/*
====================================
ENCODING
====================================
*/

// accountRecord persists the password hash, which account.Account keeps out
// of its own JSON form.
type accountRecord struct {
	account.Account
	PasswordHash string `json:"password_hash"`
}

func encodeAccount(a *account.Account) ([]byte, error) {
	return json.Marshal(accountRecord{Account: *a, PasswordHash: a.PasswordHash})
}

func decodeAccount(data []byte) (*account.Account, error) {
	var r accountRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("redisstore: corrupt account record: %w", err)
	}
	r.Account.PasswordHash = r.PasswordHash
	return &r.Account, nil
}

func decodeAttempt(data []byte) (*account.FailedAttempt, error) {
	var f account.FailedAttempt
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("redisstore: corrupt attempt record: %w", err)
	}
	return &f, nil
}

func mapReadError(err error) error {
	if errors.Is(err, redis.Nil) {
		return account.ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
