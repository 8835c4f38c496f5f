package authcore

import (
	"errors"
	"math"
	"time"
)

// Config is the full engine configuration. Zero values are filled from
// DefaultConfig by the Builder; Validate rejects combinations that would
// weaken the security posture.
type Config struct {
	JWT      JWTConfig
	Session  SessionConfig
	Lockout  LockoutConfig
	MFA      MFAConfig
	Password PasswordConfig
	Audit    AuditConfig
}

// JWTConfig controls access-token minting.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// SessionConfig controls the session registry.
type SessionConfig struct {
	Lifetime   time.Duration
	MaxDevices int
	KeyPrefix  string
}

// LockoutConfig controls the brute-force gate. Thresholds count failures
// inside the window; crossing AccountThreshold locks the account for
// LockDuration.
type LockoutConfig struct {
	AccountThreshold int
	AccountWindow    time.Duration
	OriginThreshold  int
	OriginWindow     time.Duration
	LockDuration     time.Duration
}

// MFAConfig controls the second-factor challenge stage.
type MFAConfig struct {
	ChallengeTTL time.Duration
	MaxAttempts  int
	TOTPDigits   int
	TOTPPeriod   int // seconds
	TOTPSkew     int // accepted time steps either side of now
	TOTPIssuer   string
}

// PasswordConfig mirrors password.Config; see that package for minimums.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull trades completeness for liveness: a full buffer counts
	// the event as dropped instead of blocking the authentication flow.
	DropIfFull bool
	// SinkTimeout caps how long a single sink delivery may take before
	// the dispatcher moves on. Zero means the 5s default.
	SinkTimeout time.Duration
}

// DefaultConfig returns production-leaning defaults. Signing material must
// still be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     10 * time.Minute,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			Lifetime:   30 * 24 * time.Hour,
			MaxDevices: 5,
			KeyPrefix:  "ses",
		},
		Lockout: LockoutConfig{
			AccountThreshold: 5,
			AccountWindow:    30 * time.Minute,
			OriginThreshold:  20,
			OriginWindow:     30 * time.Minute,
			LockDuration:     15 * time.Minute,
		},
		MFA: MFAConfig{
			ChallengeTTL: 5 * time.Minute,
			MaxAttempts:  5,
			TOTPDigits:   6,
			TOTPPeriod:   30,
			TOTPSkew:     1,
			TOTPIssuer:   "authcore",
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        2,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Audit: AuditConfig{
			Enabled:     true,
			BufferSize:  256,
			DropIfFull:  true,
			SinkTimeout: 5 * time.Second,
		},
	}
}

// HardenedConfig returns defaults for high-value deployments: tighter
// windows, shorter tokens, and steeper hashing costs than DefaultConfig.
func HardenedConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.AccessTTL = 5 * time.Minute
	cfg.Session.Lifetime = 7 * 24 * time.Hour
	cfg.Session.MaxDevices = 3
	cfg.Lockout.AccountThreshold = 3
	cfg.Lockout.LockDuration = time.Hour
	cfg.MFA.ChallengeTTL = 2 * time.Minute
	cfg.MFA.MaxAttempts = 3
	cfg.Password.Memory = 128 * 1024
	cfg.Password.Time = 3
	return cfg
}

// Validate checks internal consistency. The jwt and password packages run
// their own deeper validation at construction.
func (c Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("jwt access ttl must be positive")
	}
	if c.Session.Lifetime <= 0 {
		return errors.New("session lifetime must be positive")
	}
	if c.Session.MaxDevices < 1 {
		return errors.New("session max devices must be at least 1")
	}
	if c.Lockout.AccountThreshold < 1 || c.Lockout.OriginThreshold < 1 {
		return errors.New("lockout thresholds must be at least 1")
	}
	if c.Lockout.AccountWindow <= 0 || c.Lockout.OriginWindow <= 0 {
		return errors.New("lockout windows must be positive")
	}
	if c.Lockout.LockDuration <= 0 {
		return errors.New("lockout duration must be positive")
	}
	if c.MFA.ChallengeTTL <= 0 {
		return errors.New("mfa challenge ttl must be positive")
	}
	// The challenge store holds the remaining count as a uint16.
	if c.MFA.MaxAttempts < 1 || c.MFA.MaxAttempts > math.MaxUint16 {
		return errors.New("mfa max attempts must be between 1 and 65535")
	}
	if c.MFA.TOTPDigits < 6 || c.MFA.TOTPDigits > 8 {
		return errors.New("totp digits must be between 6 and 8")
	}
	if c.MFA.TOTPPeriod < 15 || c.MFA.TOTPPeriod > 120 {
		return errors.New("totp period must be between 15 and 120 seconds")
	}
	if c.MFA.TOTPSkew < 0 || c.MFA.TOTPSkew > 2 {
		return errors.New("totp skew must be between 0 and 2 steps")
	}
	if c.JWT.AccessTTL >= c.Session.Lifetime {
		return errors.New("access ttl must be shorter than session lifetime")
	}
	return nil
}
