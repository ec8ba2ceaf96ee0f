package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arthurh0812/natours-identity/internal/policy"
	"github.com/arthurh0812/natours-identity/internal/token"
	"github.com/arthurh0812/natours-identity/session"
)

// Config holds every engine setting. Start from DefaultConfig and override.
type Config struct {
	Session  SessionConfig
	Password PasswordConfig
	Tokens   TokenConfig
	Lockout  LockoutConfig
	Profile  ProfileConfig
	Signup   SignupConfig
	Links    LinkConfig
	Timeouts TimeoutConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures the session credential.
type SessionConfig struct {
	TTL           time.Duration
	SigningMethod session.SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration

	// ChangeSkew back-dates password_changed_at so a session minted in the
	// same instant as the change is still accepted.
	ChangeSkew time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id cost and password length policy.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MinLength int
	MaxLength int

	// UpgradeOnLogin re-hashes legacy or weaker hashes after a successful
	// login.
	UpgradeOnLogin bool
}

/*
====================================
TOKENS, LOCKOUT, PROFILE
====================================
*/

type TokenConfig struct {
	ConfirmationTTL time.Duration
	ResetTTL        time.Duration
}

// GuardBinding selects what a failed login is counted against.
type GuardBinding uint8

const (
	// BindAccount counts failures per resolved account, or per normalized
	// identifier when it resolves to nothing.
	BindAccount GuardBinding = iota
	// BindClient counts failures per originating client IP.
	BindClient
)

func (b GuardBinding) String() string {
	switch b {
	case BindAccount:
		return "account"
	case BindClient:
		return "client"
	default:
		return fmt.Sprintf("binding(%d)", uint8(b))
	}
}

// ParseGuardBinding parses "account" or "client".
func ParseGuardBinding(s string) (GuardBinding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "account":
		return BindAccount, nil
	case "client":
		return BindClient, nil
	default:
		return 0, fmt.Errorf("unknown guard binding %q", s)
	}
}

type LockoutConfig struct {
	Binding GuardBinding
}

type ProfileConfig struct {
	HandleCooldown time.Duration
}

type SignupConfig struct {
	DefaultRole Role
	// IssueSessionImmediately returns a session from Signup before the
	// email address is confirmed. Login still requires confirmation.
	IssueSessionImmediately bool
}

// LinkConfig builds the URLs embedded in outbound messages. The raw secret is
// appended to the path.
type LinkConfig struct {
	BaseURL     string
	ConfirmPath string
	ResetPath   string
}

// TimeoutConfig bounds every store and mailer call, under the caller's own
// context deadline.
type TimeoutConfig struct {
	Store time.Duration
	Mail  time.Duration
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults. Session.PrivateKey must still
// be supplied.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			TTL:           90 * 24 * time.Hour,
			SigningMethod: session.MethodHS256,
			Issuer:        "natours",
			ChangeSkew:    time.Millisecond,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      8,
			MaxLength:      72,
			UpgradeOnLogin: true,
		},
		Tokens: TokenConfig{
			ConfirmationTTL: token.ConfirmationTTL,
			ResetTTL:        token.ResetTTL,
		},
		Lockout: LockoutConfig{
			Binding: BindAccount,
		},
		Profile: ProfileConfig{
			HandleCooldown: policy.HandleCooldown,
		},
		Signup: SignupConfig{
			DefaultRole: RoleUser,
		},
		Links: LinkConfig{
			BaseURL:     "http://localhost:3000",
			ConfirmPath: "/api/v1/users/confirmEmail/",
			ResetPath:   "/api/v1/users/resetPassword/",
		},
		Timeouts: TimeoutConfig{
			Store: 5 * time.Second,
			Mail:  10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.PrivateKey = cloneBytes(cfg.Session.PrivateKey)
	out.Session.PublicKey = cloneBytes(cfg.Session.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if len(c.Session.PrivateKey) == 0 {
		return errors.New("Session PrivateKey is required")
	}
	// Session issued-at is millisecond-granular.
	if c.Session.ChangeSkew < time.Millisecond || c.Session.ChangeSkew > time.Minute {
		return errors.New("Session ChangeSkew must be within [1ms, 1m]")
	}

	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	if c.Tokens.ConfirmationTTL <= 0 || c.Tokens.ResetTTL <= 0 {
		return errors.New("Token TTLs must be > 0")
	}
	if c.Lockout.Binding != BindAccount && c.Lockout.Binding != BindClient {
		return errors.New("Lockout Binding is invalid")
	}
	if c.Profile.HandleCooldown < 0 {
		return errors.New("Profile HandleCooldown must be >= 0")
	}
	if !c.Signup.DefaultRole.Valid() {
		return errors.New("Signup DefaultRole is invalid")
	}
	if strings.TrimSpace(c.Links.BaseURL) == "" {
		return errors.New("Links BaseURL is required")
	}
	if c.Timeouts.Store <= 0 || c.Timeouts.Mail <= 0 {
		return errors.New("Timeouts must be > 0")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
