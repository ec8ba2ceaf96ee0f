package identity

import (
	"errors"

	"github.com/arthurh0812/natours-identity/account"
	"github.com/arthurh0812/natours-identity/internal/audit"
	"github.com/arthurh0812/natours-identity/internal/guard"
	"github.com/arthurh0812/natours-identity/internal/logging"
	"github.com/arthurh0812/natours-identity/internal/metrics"
	"github.com/arthurh0812/natours-identity/internal/token"
	"github.com/arthurh0812/natours-identity/password"
	"github.com/arthurh0812/natours-identity/session"
)

type (
	// Logger is the structured logger the engine writes to.
	Logger = logging.Logger
	// AuditEvent is one security-relevant event.
	AuditEvent = audit.Event
	// AuditSink receives audit events.
	AuditSink = audit.Sink
)

// timingPassword is hashed once at build time and compared against when a
// login identifier resolves to nothing.
const timingPassword = "natours-identity-timing-parity"

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config    Config
	store     account.Store
	mailer    Mailer
	clock     Clock
	logger    Logger
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the account store. Required.
func (b *Builder) WithStore(s account.Store) *Builder {
	b.store = s
	return b
}

// WithMailer sets the messaging collaborator. Required.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithClock(c Clock) *Builder {
	b.clock = c
	return b
}

func (b *Builder) WithLogger(l Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets the audit sink and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.store == nil {
		return nil, errors.New("store is required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer is required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = SystemClock()
	}
	logger := b.logger
	if logger == nil {
		logger = logging.Nop()
	}

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	timingHash, err := hasher.Hash(timingPassword)
	if err != nil {
		return nil, err
	}

	issuer, err := session.NewIssuer(session.Config{
		TTL:           cfg.Session.TTL,
		SigningMethod: cfg.Session.SigningMethod,
		PrivateKey:    cfg.Session.PrivateKey,
		PublicKey:     cfg.Session.PublicKey,
		Issuer:        cfg.Session.Issuer,
		Audience:      cfg.Session.Audience,
		Leeway:        cfg.Session.Leeway,
	}, clock.Now)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config:     cfg,
		store:      b.store,
		mailer:     b.mailer,
		clock:      clock,
		log:        logger.With("component", "identity"),
		hasher:     hasher,
		timingHash: timingHash,
		issuer:     issuer,
		codec:      token.NewCodec(clock.Now, cfg.Tokens.ConfirmationTTL, cfg.Tokens.ResetTTL),
		guard:      guard.New(b.store, clock.Now),
		metrics:    metrics.New(cfg.Metrics.Enabled),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
	}

	b.built = true
	return e, nil
}
