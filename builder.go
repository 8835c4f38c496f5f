package authcore

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkarsten/authcore/internal/lockout"
	"github.com/nkarsten/authcore/internal/stores"
	"github.com/nkarsten/authcore/jwt"
	"github.com/nkarsten/authcore/password"
	"github.com/nkarsten/authcore/session"
)

// Builder assembles an Engine. Redis and an AccountProvider are required;
// everything else falls back to DefaultConfig.
type Builder struct {
	config         Config
	configSet      bool
	redis          redis.UniversalClient
	accounts       AccountProvider
	auditSink      AuditSink
	metricsEnabled bool
}

// New returns a Builder with metrics enabled and default configuration.
func New() *Builder {
	return &Builder{metricsEnabled: true}
}

// WithConfig replaces the default configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	b.configSet = true
	return b
}

// WithRedis sets the client backing sessions, lockout counters, and MFA
// challenges. Any UniversalClient works, cluster clients included.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountProvider sets the integrator's account storage.
func (b *Builder) WithAccountProvider(p AccountProvider) *Builder {
	b.accounts = p
	return b
}

// WithAuditSink sets the destination for audit events. Without one, events
// are dispatched to a no-op sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the engine counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.metricsEnabled = enabled
	return b
}

// Build validates the configuration, constructs every component, and
// returns the ready engine.
func (b *Builder) Build() (*Engine, error) {
	if b.redis == nil {
		return nil, errors.New("authcore: redis client is required")
	}
	if b.accounts == nil {
		return nil, errors.New("authcore: account provider is required")
	}

	cfg := b.config
	if !b.configSet {
		cfg = DefaultConfig()
	}
	if cfg.JWT.SigningMethod == "" {
		cfg.JWT.SigningMethod = string(jwt.MethodEd25519)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.New(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	guard := lockout.New(b.redis, lockout.Config{
		AccountThreshold: cfg.Lockout.AccountThreshold,
		AccountWindow:    cfg.Lockout.AccountWindow,
		OriginThreshold:  cfg.Lockout.OriginThreshold,
		OriginWindow:     cfg.Lockout.OriginWindow,
		LockDuration:     cfg.Lockout.LockDuration,
	})

	return &Engine{
		config:       cfg,
		accounts:     b.accounts,
		lockout:      guard,
		sessions:     session.NewStore(b.redis, cfg.Session.KeyPrefix),
		challenges:   stores.NewMFAChallengeStore(b.redis, ""),
		jwtManager:   jwtManager,
		passwordHash: hasher,
		totp:         newTOTPManager(cfg.MFA),
		audit:        newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:      newMetrics(b.metricsEnabled),
		now:          time.Now,
	}, nil
}
