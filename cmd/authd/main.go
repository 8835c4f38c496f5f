// Command authd serves the authentication core over HTTP: login with
// lockout protection, MFA confirmation, refresh-token rotation, session
// management, and an audit query endpoint. Refresh tokens travel in an
// httpOnly cookie; access tokens are bearer tokens.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	authcore "github.com/nkarsten/authcore"
	auditsqlite "github.com/nkarsten/authcore/audit/sqlite"
	"github.com/nkarsten/authcore/password"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if err := run(log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	privKey, pubKey, err := loadSigningKeys(cfg, log)
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	defer rdb.Close()

	auditStore, err := auditsqlite.Open(cfg.AuditDBPath)
	if err != nil {
		return err
	}
	defer auditStore.Close()

	provider := newMemoryProvider()
	if err := seedAccount(cfg, provider, log); err != nil {
		return err
	}

	engineCfg := authcore.DefaultConfig()
	engineCfg.JWT.PrivateKey = privKey
	engineCfg.JWT.PublicKey = pubKey
	engineCfg.JWT.Issuer = cfg.JWTIssuer
	engineCfg.JWT.AccessTTL = cfg.AccessTTL
	engineCfg.Session.Lifetime = cfg.SessionLifetime
	engineCfg.Session.MaxDevices = cfg.MaxDevices
	engineCfg.Lockout.AccountThreshold = cfg.LockThreshold
	engineCfg.Lockout.LockDuration = cfg.LockDuration

	engine, err := authcore.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithAccountProvider(provider).
		WithAuditSink(auditStore).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	prometheus.MustRegister(newEngineCollector(engine))

	limiter := newClientLimiter(cfg.RatePerSecond, cfg.RateBurst)
	defer limiter.Stop()

	srv := &server{
		engine:       engine,
		audit:        auditStore,
		log:          log,
		cookieSecure: cfg.CookieSecure,
		cookieDomain: cfg.CookieDomain,
		limiter:      limiter,
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

// loadSigningKeys reads the configured PEM key pair, or generates an
// ephemeral one when none is configured. Ephemeral keys invalidate all
// access tokens on restart.
func loadSigningKeys(cfg config, log *slog.Logger) ([]byte, []byte, error) {
	if cfg.JWTPrivateKeyPath == "" {
		log.Warn("no signing keys configured, generating an ephemeral pair")
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		return priv, pub, nil
	}

	priv, err := os.ReadFile(cfg.JWTPrivateKeyPath)
	if err != nil {
		return nil, nil, err
	}
	pub, err := os.ReadFile(cfg.JWTPublicKeyPath)
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

func seedAccount(cfg config, provider *memoryProvider, log *slog.Logger) error {
	if cfg.SeedIdentifier == "" || cfg.SeedPassword == "" {
		return nil
	}

	hasher, err := password.New(password.DefaultConfig())
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(cfg.SeedPassword)
	if err != nil {
		return err
	}

	accountID := uuid.NewString()
	provider.create(authcore.AccountRecord{
		AccountID:      accountID,
		Identifier:     cfg.SeedIdentifier,
		CredentialHash: hash,
		EmailVerified:  true,
	})
	log.Info("seeded development account", "identifier", cfg.SeedIdentifier, "account_id", accountID)
	return nil
}
