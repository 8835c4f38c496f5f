package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// config is populated from the environment. Signing keys are PEM files on
// disk; when both paths are empty the server generates an ephemeral pair,
// which is fine for development and wrong for anything else.
type config struct {
	Addr      string `env:"AUTHD_ADDR" envDefault:":8420"`
	RedisAddr string `env:"AUTHD_REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisDB   int    `env:"AUTHD_REDIS_DB" envDefault:"0"`

	AuditDBPath string `env:"AUTHD_AUDIT_DB" envDefault:"authd-audit.db"`

	JWTPrivateKeyPath string `env:"AUTHD_JWT_PRIVATE_KEY"`
	JWTPublicKeyPath  string `env:"AUTHD_JWT_PUBLIC_KEY"`
	JWTIssuer         string `env:"AUTHD_JWT_ISSUER" envDefault:"authd"`

	AccessTTL       time.Duration `env:"AUTHD_ACCESS_TTL" envDefault:"10m"`
	SessionLifetime time.Duration `env:"AUTHD_SESSION_LIFETIME" envDefault:"720h"`
	MaxDevices      int           `env:"AUTHD_MAX_DEVICES" envDefault:"5"`
	LockThreshold   int           `env:"AUTHD_LOCK_THRESHOLD" envDefault:"5"`
	LockDuration    time.Duration `env:"AUTHD_LOCK_DURATION" envDefault:"15m"`

	RatePerSecond float64 `env:"AUTHD_RATE_PER_SECOND" envDefault:"5"`
	RateBurst     int     `env:"AUTHD_RATE_BURST" envDefault:"10"`

	CookieSecure bool   `env:"AUTHD_COOKIE_SECURE" envDefault:"true"`
	CookieDomain string `env:"AUTHD_COOKIE_DOMAIN"`

	// Seed account for development; ignored when either value is empty.
	SeedIdentifier string `env:"AUTHD_SEED_IDENTIFIER"`
	SeedPassword   string `env:"AUTHD_SEED_PASSWORD"`

	ShutdownTimeout time.Duration `env:"AUTHD_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func loadConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	if (cfg.JWTPrivateKeyPath == "") != (cfg.JWTPublicKeyPath == "") {
		return cfg, fmt.Errorf("jwt key paths must be set together")
	}
	return cfg, nil
}
