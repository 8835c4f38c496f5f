package authcore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testIdentifier = "alice@example.com"
	testAccountID  = "acct-1"
	testPassword   = "correct-horse-battery"
)

// fakeAccountProvider is an in-memory AccountProvider with the atomicity
// the interface demands, scoped to a single test.
type fakeAccountProvider struct {
	mu       sync.Mutex
	accounts map[string]*AccountRecord
	byIdent  map[string]string
	secrets  map[string][]byte
	backup   map[string]map[[32]byte]bool
}

func newFakeProvider() *fakeAccountProvider {
	return &fakeAccountProvider{
		accounts: make(map[string]*AccountRecord),
		byIdent:  make(map[string]string),
		secrets:  make(map[string][]byte),
		backup:   make(map[string]map[[32]byte]bool),
	}
}

func (p *fakeAccountProvider) add(rec AccountRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := rec
	p.accounts[rec.AccountID] = &cp
	p.byIdent[rec.Identifier] = rec.AccountID
}

func (p *fakeAccountProvider) get(accountID string) AccountRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.accounts[accountID]
}

func (p *fakeAccountProvider) GetByIdentifier(_ context.Context, identifier string) (AccountRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byIdent[identifier]
	if !ok {
		return AccountRecord{}, ErrAccountNotFound
	}
	return *p.accounts[id], nil
}

func (p *fakeAccountProvider) GetByID(_ context.Context, accountID string) (AccountRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.accounts[accountID]
	if !ok {
		return AccountRecord{}, ErrAccountNotFound
	}
	return *rec, nil
}

func (p *fakeAccountProvider) RecordFailedAttempt(_ context.Context, accountID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.accounts[accountID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	rec.FailedAttempts++
	return rec.FailedAttempts, nil
}

func (p *fakeAccountProvider) ResetFailedAttempts(_ context.Context, accountID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.accounts[accountID]; ok {
		rec.FailedAttempts = 0
		rec.LockedUntil = time.Time{}
	}
	return nil
}

func (p *fakeAccountProvider) SetLockedUntil(_ context.Context, accountID string, until time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.accounts[accountID]; ok {
		rec.LockedUntil = until
	}
	return nil
}

func (p *fakeAccountProvider) GetMFASecret(_ context.Context, accountID string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	secret, ok := p.secrets[accountID]
	if !ok {
		return nil, nil
	}
	return secret, nil
}

func (p *fakeAccountProvider) ConsumeBackupCode(_ context.Context, accountID string, codeHash [32]byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pool, ok := p.backup[accountID]
	if !ok || !pool[codeHash] {
		return false, nil
	}
	delete(pool, codeHash)
	return true, nil
}

func (p *fakeAccountProvider) setMFA(accountID string, secret []byte, backupHashes [][32]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[accountID].MFAEnabled = true
	p.secrets[accountID] = secret
	pool := make(map[[32]byte]bool, len(backupHashes))
	for _, h := range backupHashes {
		pool[h] = true
	}
	p.backup[accountID] = pool
}

// recordingSink captures audit events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *recordingSink) Emit(_ context.Context, event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) count(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

// waitEvent polls for the async dispatcher to deliver at least want events
// of the given type.
func waitEvent(t *testing.T, sink *recordingSink, eventType string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sink.count(eventType) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d %s events, got %d", want, eventType, sink.count(eventType))
}

func testConfig() Config {
	cfg := DefaultConfig()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	// Cheap argon2 costs keep the suite fast.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *fakeAccountProvider, *miniredis.Miniredis, *recordingSink) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	provider := newFakeProvider()
	sink := &recordingSink{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithAccountProvider(provider).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	hash, err := engine.passwordHash.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	provider.add(AccountRecord{
		AccountID:      testAccountID,
		Identifier:     testIdentifier,
		CredentialHash: hash,
		EmailVerified:  true,
	})

	return engine, provider, mr, sink
}

func loginCtx(origin string) context.Context {
	return WithFingerprint(WithOrigin(context.Background(), origin), "test-device")
}

func totpCodeAt(t *testing.T, cfg MFAConfig, secret string, at time.Time) string {
	t.Helper()
	tm := newTOTPManager(cfg)
	key, err := b32.DecodeString(secret)
	if err != nil {
		t.Fatalf("secret decode failed: %v", err)
	}
	return tm.hotp(key, uint64(at.Unix()/int64(cfg.TOTPPeriod)))
}

func TestBuilderRequiresDependencies(t *testing.T) {
	if _, err := New().Build(); err == nil {
		t.Fatal("expected error without redis client")
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	if _, err := New().WithRedis(client).Build(); err == nil {
		t.Fatal("expected error without account provider")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	cfg.Lockout.AccountThreshold = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero threshold")
	}

	cfg = DefaultConfig()
	cfg.Session.MaxDevices = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero device cap")
	}

	// The challenge store's attempt field is 16 bits wide.
	cfg = DefaultConfig()
	cfg.MFA.MaxAttempts = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for oversized mfa attempt cap")
	}

	if err := HardenedConfig().Validate(); err != nil {
		t.Fatalf("hardened config should validate: %v", err)
	}
}
