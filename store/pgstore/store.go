// Package pgstore implements account.Store on PostgreSQL through the pgx
// database/sql driver. Schema migrations are embedded and applied with goose.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arthurh0812/natours-identity/account"
)

const uniqueViolation = "23505"

const accountColumns = `id, name, handle, email, pending_email, password_hash, role,
	handle_changed_at, password_changed_at, active, registered,
	confirm_fingerprint, confirm_expires_at, reset_fingerprint, reset_expires_at, created_at`

// Store is a PostgreSQL-backed account.Store.
type Store struct {
	db *sql.DB
}

var _ account.Store = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func lookupColumn(f account.LookupField) (string, error) {
	switch f {
	case account.ByID:
		return "id", nil
	case account.ByHandle:
		return "handle", nil
	case account.ByEmail:
		return "email", nil
	case account.ByConfirmFingerprint:
		return "confirm_fingerprint", nil
	case account.ByResetFingerprint:
		return "reset_fingerprint", nil
	default:
		return "", fmt.Errorf("pgstore: unsupported lookup %s", f)
	}
}

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	query := `INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	confirmFP, confirmExp := tokenArgs(a.Confirmation)
	resetFP, resetExp := tokenArgs(a.Reset)
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.Name, a.Handle, a.Email, nullString(a.PendingEmail), a.PasswordHash, string(a.Role),
		nullTime(a.HandleChangedAt), nullTime(a.PasswordChangedAt), a.Active, a.Registered,
		confirmFP, confirmExp, resetFP, resetExp, a.CreatedAt,
	)
	return mapWriteError(err)
}

func (s *Store) FindAccount(ctx context.Context, l account.Lookup) (*account.Account, error) {
	column, err := lookupColumn(l.By)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + column + ` = $1 AND active`
	return scanMatching(s.db.QueryRowContext(ctx, query, l.Value), l)
}

func (s *Store) UpdateAccount(ctx context.Context, l account.Lookup, fn account.MutateFunc) (*account.Account, error) {
	column, err := lookupColumn(l.By)
	if err != nil {
		return nil, err
	}
	selectQuery := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + column + ` = $1 AND active FOR UPDATE`
	updateQuery := `UPDATE accounts SET
		name = $2, handle = $3, email = $4, pending_email = $5, password_hash = $6, role = $7,
		handle_changed_at = $8, password_changed_at = $9, active = $10, registered = $11,
		confirm_fingerprint = $12, confirm_expires_at = $13, reset_fingerprint = $14, reset_expires_at = $15
		WHERE id = $1`

	var updated *account.Account
	err = s.locked(ctx, func(tx *sql.Tx) error {
		current, err := scanMatching(tx.QueryRowContext(ctx, selectQuery, l.Value), l)
		if err != nil {
			return err
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.ID = current.ID

		confirmFP, confirmExp := tokenArgs(next.Confirmation)
		resetFP, resetExp := tokenArgs(next.Reset)
		_, err = tx.ExecContext(ctx, updateQuery,
			next.ID, next.Name, next.Handle, next.Email, nullString(next.PendingEmail), next.PasswordHash, string(next.Role),
			nullTime(next.HandleChangedAt), nullTime(next.PasswordChangedAt), next.Active, next.Registered,
			confirmFP, confirmExp, resetFP, resetExp,
		)
		if err != nil {
			return mapWriteError(err)
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// locked runs one SELECT ... FOR UPDATE read-modify-write in a transaction.
// Errors from fn roll back and pass through unchanged; a panic rolls back and
// is rethrown.
func (s *Store) locked(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("db error: %w", cerr)
		}
	}()
	return fn(tx)
}

func (s *Store) GetAttempt(ctx context.Context, subject string) (*account.FailedAttempt, error) {
	query := `SELECT subject, count, prohibited_until, updated_at FROM failed_attempts WHERE subject = $1`
	return scanAttempt(s.db.QueryRowContext(ctx, query, subject))
}

func (s *Store) UpdateAttempt(ctx context.Context, subject string, fn account.AttemptFunc) (*account.FailedAttempt, error) {
	var updated *account.FailedAttempt
	err := s.locked(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO failed_attempts (subject, count, updated_at) VALUES ($1, 0, now())
			 ON CONFLICT (subject) DO NOTHING`, subject)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		rec, err := scanAttempt(tx.QueryRowContext(ctx,
			`SELECT subject, count, prohibited_until, updated_at FROM failed_attempts
			 WHERE subject = $1 FOR UPDATE`, subject))
		if err != nil {
			return err
		}

		if err := fn(rec); err != nil {
			return err
		}
		rec.Subject = subject

		_, err = tx.ExecContext(ctx,
			`UPDATE failed_attempts SET count = $2, prohibited_until = $3, updated_at = $4 WHERE subject = $1`,
			subject, rec.Count, nullTime(rec.ProhibitedUntil), rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

/*
====================================
SCANNING
====================================
*/

func scanMatching(row *sql.Row, l account.Lookup) (*account.Account, error) {
	var (
		a                                account.Account
		role                             string
		pendingEmail, confirmFP, resetFP sql.NullString
		handleChanged, passwordChanged   sql.NullTime
		confirmExpires, resetExpires     sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.Name, &a.Handle, &a.Email, &pendingEmail, &a.PasswordHash, &role,
		&handleChanged, &passwordChanged, &a.Active, &a.Registered,
		&confirmFP, &confirmExpires, &resetFP, &resetExpires, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	a.Role = account.Role(role)
	a.PendingEmail = pendingEmail.String
	a.HandleChangedAt = timePtr(handleChanged)
	a.PasswordChangedAt = timePtr(passwordChanged)
	a.Confirmation = pendingToken(confirmFP, confirmExpires)
	a.Reset = pendingToken(resetFP, resetExpires)

	if !l.Matches(&a) {
		return nil, account.ErrNotFound
	}
	return &a, nil
}

func scanAttempt(row *sql.Row) (*account.FailedAttempt, error) {
	var (
		rec   account.FailedAttempt
		until sql.NullTime
	)
	if err := row.Scan(&rec.Subject, &rec.Count, &until, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	rec.ProhibitedUntil = timePtr(until)
	return &rec, nil
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return account.ErrDuplicate
	}
	return fmt.Errorf("db error: %w", err)
}

func tokenArgs(t *account.PendingToken) (sql.NullString, sql.NullTime) {
	if t == nil || t.Fingerprint == "" {
		return sql.NullString{}, sql.NullTime{}
	}
	return sql.NullString{String: t.Fingerprint, Valid: true}, sql.NullTime{Time: t.ExpiresAt, Valid: true}
}

func pendingToken(fp sql.NullString, expires sql.NullTime) *account.PendingToken {
	if !fp.Valid || fp.String == "" {
		return nil
	}
	return &account.PendingToken{Fingerprint: fp.String, ExpiresAt: expires.Time}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
