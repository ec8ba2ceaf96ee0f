package session

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWT algorithm.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

const (
	minHMACKeyBytes = 32
	maxFutureIssue  = 10 * time.Minute
)

// ErrInvalid is returned for any credential that does not verify.
var ErrInvalid = errors.New("session: invalid credential")

// Config configures an Issuer. PrivateKey is the HMAC secret for HS256, or
// an ed25519 private key (raw or PEM) for Ed25519.
type Config struct {
	TTL           time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// Claims is the JWT payload of a session credential.
type Claims struct {
	IssuedAtMillis int64 `json:"iam"`
	jwt.RegisteredClaims
}

// Assertion is what a verified credential proves.
type Assertion struct {
	AccountID string
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
}

// Issuer mints and verifies credentials with a process-wide key.
type Issuer struct {
	config  Config
	now     func() time.Time
	signKey any
	verKey  any
	method  jwt.SigningMethod
}

// NewIssuer validates cfg. now defaults to time.Now and is also used for
// expiry checks so tests can drive the clock.
func NewIssuer(cfg Config, now func() time.Time) (*Issuer, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("session: TTL must be > 0")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("session: leeway must be within [0, 2m]")
	}
	if now == nil {
		now = time.Now
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)

	i := &Issuer{config: cfg, now: now}
	switch cfg.SigningMethod {
	case MethodHS256, "":
		if len(cfg.PrivateKey) < minHMACKeyBytes {
			return nil, fmt.Errorf("session: hs256 key must be at least %d bytes", minHMACKeyBytes)
		}
		i.method = jwt.SigningMethodHS256
		i.signKey = cfg.PrivateKey
		i.verKey = cfg.PrivateKey
	case MethodEd25519:
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		i.method = jwt.SigningMethodEdDSA
		i.signKey = priv
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			i.verKey = pub
		} else {
			i.verKey = priv.Public()
		}
	default:
		return nil, fmt.Errorf("session: unsupported signing method %q", cfg.SigningMethod)
	}

	return i, nil
}

// TTL is the configured credential lifetime, for cookie expiry.
func (i *Issuer) TTL() time.Duration {
	return i.config.TTL
}

// Mint returns a signed credential for accountID issued now.
func (i *Issuer) Mint(accountID string) (string, Assertion, error) {
	if accountID == "" {
		return "", Assertion{}, errors.New("session: empty account id")
	}

	now := i.now()
	issued := time.UnixMilli(now.UnixMilli())
	expires := now.Add(i.config.TTL)
	id := uuid.NewString()

	claims := Claims{
		IssuedAtMillis: issued.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			ID:        id,
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	if i.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{i.config.Audience}
	}

	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.signKey)
	if err != nil {
		return "", Assertion{}, fmt.Errorf("session: sign: %w", err)
	}

	return signed, Assertion{
		AccountID: accountID,
		IssuedAt:  issued,
		ExpiresAt: claims.ExpiresAt.Time,
		ID:        id,
	}, nil
}

// Verify checks signature, algorithm, expiry, issuer and audience. Any
// failure, including a panic inside the parser, is reported as ErrInvalid.
func (i *Issuer) Verify(credential string) (a Assertion, err error) {
	defer func() {
		if r := recover(); r != nil {
			a, err = Assertion{}, ErrInvalid
		}
	}()

	if credential == "" {
		return Assertion{}, ErrInvalid
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if i.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(i.config.Leeway))
	}
	if i.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.config.Issuer))
	}
	if i.config.Audience != "" {
		options = append(options, jwt.WithAudience(i.config.Audience))
	}

	claims := &Claims{}
	token, perr := jwt.NewParser(options...).ParseWithClaims(credential, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != i.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return i.verKey, nil
	})
	if perr != nil || token == nil || !token.Valid {
		return Assertion{}, ErrInvalid
	}
	if claims.Subject == "" || claims.IssuedAtMillis <= 0 || claims.ExpiresAt == nil {
		return Assertion{}, ErrInvalid
	}

	issued := time.UnixMilli(claims.IssuedAtMillis)
	if issued.After(i.now().Add(maxFutureIssue)) {
		return Assertion{}, ErrInvalid
	}

	return Assertion{
		AccountID: claims.Subject,
		IssuedAt:  issued,
		ExpiresAt: claims.ExpiresAt.Time,
		ID:        claims.ID,
	}, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("session: invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("session: invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("session: invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("session: invalid ed25519 public key type")
	}
	return edKey, nil
}
