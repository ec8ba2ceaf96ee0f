// Package config loads daemon settings: built-in defaults, then an optional
// YAML file, then .env files, then NATOURS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	identity "github.com/arthurh0812/natours-identity"
)

const envPrefix = "NATOURS_"

// Config holds daemon settings.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Mail     MailConfig     `yaml:"mail"`
	Identity IdentityConfig `yaml:"identity"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	// TrustProxy honors X-Forwarded-For for the client IP.
	TrustProxy   bool `yaml:"trust_proxy"`
	CookieSecure bool `yaml:"cookie_secure"`
}

type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// StoreConfig selects the account store. Driver is memory, redis or
// postgres.
type StoreConfig struct {
	Driver        string `yaml:"driver"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
	// RedisAttemptTTL expires failed-attempt records once a successful login
	// has cleared them. Zero keeps them.
	RedisAttemptTTL time.Duration `yaml:"redis_attempt_ttl"`
	PostgresDSN     string        `yaml:"postgres_dsn"`
	Migrate         bool          `yaml:"migrate"`
}

// MailConfig selects the mailer. Driver is log or smtp.
type MailConfig struct {
	Driver     string `yaml:"driver"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	From       string `yaml:"from"`
	RequireTLS bool   `yaml:"require_tls"`
}

type IdentityConfig struct {
	JWTSecret               string        `yaml:"jwt_secret"`
	SessionTTL              time.Duration `yaml:"session_ttl"`
	Issuer                  string        `yaml:"issuer"`
	Audience                string        `yaml:"audience"`
	GuardBinding            string        `yaml:"guard_binding"`
	HandleCooldown          time.Duration `yaml:"handle_cooldown"`
	BaseURL                 string        `yaml:"base_url"`
	IssueSessionImmediately bool          `yaml:"issue_session_immediately"`
	Audit                   bool          `yaml:"audit"`
	Metrics                 bool          `yaml:"metrics"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	engine := identity.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Addr:              ":3000",
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
		Store: StoreConfig{
			Driver:      "memory",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "natours",
			Migrate:     true,
		},
		Mail: MailConfig{
			Driver: "log",
			Port:   587,
			From:   "Natours <hello@natours.io>",
		},
		Identity: IdentityConfig{
			SessionTTL:     engine.Session.TTL,
			Issuer:         engine.Session.Issuer,
			GuardBinding:   engine.Lockout.Binding.String(),
			HandleCooldown: engine.Profile.HandleCooldown,
			BaseURL:        engine.Links.BaseURL,
			Metrics:        true,
		},
	}
}

// Load builds the configuration. path may be empty. envFiles default to
// ".env"; a missing env file is not an error.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(envPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(envPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + name); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("ADDR", &cfg.Server.Addr)
	flag("TRUST_PROXY", &cfg.Server.TrustProxy)
	flag("COOKIE_SECURE", &cfg.Server.CookieSecure)

	str("LOG_FORMAT", &cfg.Log.Format)
	str("LOG_LEVEL", &cfg.Log.Level)

	str("STORE", &cfg.Store.Driver)
	str("REDIS_ADDR", &cfg.Store.RedisAddr)
	str("REDIS_PASSWORD", &cfg.Store.RedisPassword)
	num("REDIS_DB", &cfg.Store.RedisDB)
	str("REDIS_PREFIX", &cfg.Store.RedisPrefix)
	dur("REDIS_ATTEMPT_TTL", &cfg.Store.RedisAttemptTTL)
	str("DATABASE_URL", &cfg.Store.PostgresDSN)
	flag("MIGRATE", &cfg.Store.Migrate)

	str("MAIL", &cfg.Mail.Driver)
	str("SMTP_HOST", &cfg.Mail.Host)
	num("SMTP_PORT", &cfg.Mail.Port)
	str("SMTP_USER", &cfg.Mail.Username)
	str("SMTP_PASSWORD", &cfg.Mail.Password)
	str("MAIL_FROM", &cfg.Mail.From)
	flag("SMTP_REQUIRE_TLS", &cfg.Mail.RequireTLS)

	str("JWT_SECRET", &cfg.Identity.JWTSecret)
	dur("JWT_TTL", &cfg.Identity.SessionTTL)
	str("JWT_ISSUER", &cfg.Identity.Issuer)
	str("JWT_AUDIENCE", &cfg.Identity.Audience)
	str("GUARD_BINDING", &cfg.Identity.GuardBinding)
	dur("HANDLE_COOLDOWN", &cfg.Identity.HandleCooldown)
	str("BASE_URL", &cfg.Identity.BaseURL)
	flag("SIGNUP_SESSION", &cfg.Identity.IssueSessionImmediately)
	flag("AUDIT", &cfg.Identity.Audit)
	flag("METRICS", &cfg.Identity.Metrics)

	return errors.Join(errs...)
}

// Validate reports invalid settings.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "redis":
		if c.Store.RedisAddr == "" {
			return errors.New("store: redis_addr is required for the redis driver")
		}
		if c.Store.RedisAttemptTTL < 0 {
			return errors.New("store: redis_attempt_ttl must be >= 0")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("store: postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store: unknown driver %q", c.Store.Driver)
	}

	switch c.Mail.Driver {
	case "log":
	case "smtp":
		if c.Mail.Host == "" || c.Mail.From == "" {
			return errors.New("mail: host and from are required for the smtp driver")
		}
	default:
		return fmt.Errorf("mail: unknown driver %q", c.Mail.Driver)
	}

	if c.Server.Addr == "" {
		return errors.New("server: addr is required")
	}
	if len(c.Identity.JWTSecret) < 32 {
		return errors.New("identity: jwt_secret must be at least 32 bytes")
	}

	engine, err := c.EngineConfig()
	if err != nil {
		return err
	}
	return engine.Validate()
}

// EngineConfig maps the daemon settings onto identity.Config.
func (c Config) EngineConfig() (identity.Config, error) {
	cfg := identity.DefaultConfig()

	binding, err := identity.ParseGuardBinding(c.Identity.GuardBinding)
	if err != nil {
		return identity.Config{}, fmt.Errorf("identity: %w", err)
	}

	cfg.Session.PrivateKey = []byte(c.Identity.JWTSecret)
	cfg.Session.TTL = c.Identity.SessionTTL
	cfg.Session.Issuer = c.Identity.Issuer
	cfg.Session.Audience = c.Identity.Audience
	cfg.Lockout.Binding = binding
	cfg.Profile.HandleCooldown = c.Identity.HandleCooldown
	cfg.Links.BaseURL = c.Identity.BaseURL
	cfg.Signup.IssueSessionImmediately = c.Identity.IssueSessionImmediately
	cfg.Audit.Enabled = c.Identity.Audit
	cfg.Metrics.Enabled = c.Identity.Metrics
	return cfg, nil
}
