// Package account holds the identity data model shared by the engine and the
// store implementations, together with the Store contract they satisfy.
package account

import "time"

// Role is one of the fixed account roles.
type Role string

const (
	RoleUser      Role = "user"
	RoleGuide     Role = "guide"
	RoleLeadGuide Role = "lead-guide"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleGuide, RoleLeadGuide, RoleAdmin:
		return true
	default:
		return false
	}
}

// PendingToken is the stored half of a single-use secret: its fingerprint
// and the instant after which it must no longer be honored.
type PendingToken struct {
	Fingerprint string    `json:"fingerprint"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Account is the credential record for one identity.
//
// PasswordHash never leaves the process; use View for anything that is
// serialized to a client.
type Account struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Handle       string `json:"handle"`
	Email        string `json:"email"`
	PendingEmail string `json:"pending_email,omitempty"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role"`

	HandleChangedAt   *time.Time `json:"handle_changed_at,omitempty"`
	PasswordChangedAt *time.Time `json:"password_changed_at,omitempty"`

	Active     bool `json:"active"`
	Registered bool `json:"registered"`

	Confirmation *PendingToken `json:"confirmation,omitempty"`
	Reset        *PendingToken `json:"reset,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy of a so callers can mutate it freely.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.HandleChangedAt = cloneTime(a.HandleChangedAt)
	c.PasswordChangedAt = cloneTime(a.PasswordChangedAt)
	if a.Confirmation != nil {
		t := *a.Confirmation
		c.Confirmation = &t
	}
	if a.Reset != nil {
		t := *a.Reset
		c.Reset = &t
	}
	return &c
}

// View strips the password hash and token state.
func (a *Account) View() View {
	return View{
		ID:           a.ID,
		Name:         a.Name,
		Handle:       a.Handle,
		Email:        a.Email,
		PendingEmail: a.PendingEmail,
		Role:         a.Role,
		Registered:   a.Registered,
		CreatedAt:    a.CreatedAt,
	}
}

// View is the outward representation of an account.
type View struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Handle       string    `json:"handle"`
	Email        string    `json:"email"`
	PendingEmail string    `json:"pendingEmail,omitempty"`
	Role         Role      `json:"role"`
	Registered   bool      `json:"registered"`
	CreatedAt    time.Time `json:"createdAt"`
}

// FailedAttempt counts consecutive credential failures for one guarded
// subject. ProhibitedUntil is nil until the lockout threshold is reached.
type FailedAttempt struct {
	Subject         string     `json:"subject"`
	Count           int        `json:"count"`
	ProhibitedUntil *time.Time `json:"prohibited_until,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of f.
func (f *FailedAttempt) Clone() *FailedAttempt {
	if f == nil {
		return nil
	}
	c := *f
	c.ProhibitedUntil = cloneTime(f.ProhibitedUntil)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
