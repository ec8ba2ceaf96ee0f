// Command identityd serves the natours account API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	identity "github.com/arthurh0812/natours-identity"
	"github.com/arthurh0812/natours-identity/internal/audit"
	"github.com/arthurh0812/natours-identity/internal/config"
	"github.com/arthurh0812/natours-identity/internal/httpapi"
	"github.com/arthurh0812/natours-identity/internal/logging"
	"github.com/arthurh0812/natours-identity/internal/metrics/otelexport"
	"github.com/arthurh0812/natours-identity/mail"
	"github.com/arthurh0812/natours-identity/store/memstore"
	"github.com/arthurh0812/natours-identity/store/pgstore"
	"github.com/arthurh0812/natours-identity/store/redisstore"
)

func main() {
	configPath := flag.String("config", os.Getenv("NATOURS_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "identityd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer closeStore()

	mailer, err := openMailer(cfg.Mail, log)
	if err != nil {
		return err
	}

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	engine, err := identity.New().
		WithConfig(engineCfg).
		WithStore(store).
		WithMailer(mailer).
		WithLogger(log).
		WithAuditSink(audit.NewLoggerSink(log)).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	// Counters reach whichever MeterProvider the process installs globally.
	exp, err := otelexport.Register(otel.Meter("github.com/arthurh0812/natours-identity"), engine)
	if err != nil {
		return fmt.Errorf("register otel metrics: %w", err)
	}
	defer exp.Close()

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpapi.New(engine, httpapi.Options{
			CookieSecure: cfg.Server.CookieSecure,
			TrustProxy:   cfg.Server.TrustProxy,
			Logger:       log.With("component", "http"),
		}),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "listening", "addr", cfg.Server.Addr, "store", cfg.Store.Driver, "mail", cfg.Mail.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	log.Info(shutdownCtx, "shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "graceful shutdown failed", "error", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, log logging.Logger) (identity.Store, func(), error) {
	switch cfg.Driver {
	case "redis":
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		s := redisstore.New(rdb,
			redisstore.WithPrefix(cfg.RedisPrefix),
			redisstore.WithAttemptTTL(cfg.RedisAttemptTTL),
		)
		if err := s.Ping(ctx); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return s, func() { _ = rdb.Close() }, nil

	case "postgres":
		db, err := pgstore.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Migrate {
			if err := pgstore.Migrate(ctx, db); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
			log.Info(ctx, "migrations applied")
		}
		return pgstore.New(db), closeDB(db), nil

	default:
		log.Warn(ctx, "using the in-memory store; accounts are lost on restart")
		return memstore.New(), func() {}, nil
	}
}

func closeDB(db *sql.DB) func() {
	return func() { _ = db.Close() }
}

func openMailer(cfg config.MailConfig, log logging.Logger) (identity.Mailer, error) {
	if cfg.Driver != "smtp" {
		return mail.NewLog(log.With("component", "mail")), nil
	}
	m, err := mail.NewSMTP(mail.SMTPConfig{
		Host:       cfg.Host,
		Port:       cfg.Port,
		Username:   cfg.Username,
		Password:   cfg.Password,
		From:       cfg.From,
		RequireTLS: cfg.RequireTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("init smtp mailer: %w", err)
	}
	return m, nil
}
