package authcore

import (
	"errors"
	"testing"
	"time"
)

func enrollMFA(t *testing.T, engine *Engine, provider *fakeAccountProvider) (secret string, backupCodes []string) {
	t.Helper()

	secret, uri, err := engine.ProvisionTOTP(loginCtx("10.0.1.1"), testAccountID)
	if err != nil {
		t.Fatalf("ProvisionTOTP failed: %v", err)
	}
	if uri == "" {
		t.Fatal("expected enrollment URI")
	}

	codes, hashes, err := engine.GenerateBackupCodes(loginCtx("10.0.1.1"), testAccountID)
	if err != nil {
		t.Fatalf("GenerateBackupCodes failed: %v", err)
	}
	if len(codes) != backupCodeCount {
		t.Fatalf("expected %d backup codes, got %d", backupCodeCount, len(codes))
	}

	provider.setMFA(testAccountID, []byte(secret), hashes)
	return secret, codes
}

func startChallenge(t *testing.T, engine *Engine) string {
	t.Helper()
	result, err := engine.Login(loginCtx("10.0.1.1"), testIdentifier, testPassword)
	if result != nil {
		t.Fatal("expected no tokens before second factor")
	}
	if !errors.Is(err, ErrMFARequired) {
		t.Fatalf("expected MFA requirement, got %v", err)
	}
	var mfaErr *MFARequiredError
	if !errors.As(err, &mfaErr) || mfaErr.ChallengeID == "" {
		t.Fatalf("expected challenge id, got %v", err)
	}
	return mfaErr.ChallengeID
}

func TestMFAChallengeAndTOTPConfirm(t *testing.T) {
	engine, provider, _, sink := newTestEngine(t, testConfig())
	secret, _ := enrollMFA(t, engine, provider)

	challenge := startChallenge(t, engine)

	code := totpCodeAt(t, engine.config.MFA, secret, time.Now())
	confirmed, err := engine.ConfirmMFA(loginCtx("10.0.1.1"), challenge, code)
	if err != nil {
		t.Fatalf("ConfirmMFA failed: %v", err)
	}
	if confirmed.AccessToken == "" || confirmed.RefreshToken == "" {
		t.Fatal("expected tokens after MFA confirmation")
	}

	waitEvent(t, sink, auditEventMFASuccess, 1)
	waitEvent(t, sink, auditEventLoginSuccess, 1)

	// The challenge is single-use.
	if _, err := engine.ConfirmMFA(loginCtx("10.0.1.1"), challenge, code); !errors.Is(err, ErrMFAChallengeExpired) {
		t.Fatalf("reused challenge: got %v", err)
	}
}

func TestMFAWrongCodesExhaustChallenge(t *testing.T) {
	cfg := testConfig()
	cfg.MFA.MaxAttempts = 3
	engine, provider, _, sink := newTestEngine(t, cfg)
	secret, _ := enrollMFA(t, engine, provider)

	challenge := startChallenge(t, engine)

	for i := 0; i < 2; i++ {
		if _, err := engine.ConfirmMFA(loginCtx("10.0.1.1"), challenge, "000000"); !errors.Is(err, ErrMFAInvalidCode) {
			t.Fatalf("attempt %d: got %v", i, err)
		}
	}
	if _, err := engine.ConfirmMFA(loginCtx("10.0.1.1"), challenge, "000000"); !errors.Is(err, ErrMFAChallengeExhausted) {
		t.Fatalf("final attempt: got %v", err)
	}

	// Exhausted is terminal: even the correct code is rejected now.
	code := totpCodeAt(t, engine.config.MFA, secret, time.Now())
	if _, err := engine.ConfirmMFA(loginCtx("10.0.1.1"), challenge, code); !errors.Is(err, ErrMFAChallengeExpired) {
		t.Fatalf("post-exhaustion correct code: got %v", err)
	}

	waitEvent(t, sink, auditEventMFAExhausted, 1)
}

func TestMFAChallengeExpires(t *testing.T) {
	cfg := testConfig()
	cfg.MFA.ChallengeTTL = time.Minute
	engine, provider, mr, _ := newTestEngine(t, cfg)
	secret, _ := enrollMFA(t, engine, provider)

	challenge := startChallenge(t, engine)

	mr.FastForward(2 * time.Minute)

	code := totpCodeAt(t, engine.config.MFA, secret, time.Now())
	if _, err := engine.ConfirmMFA(loginCtx("10.0.1.1"), challenge, code); !errors.Is(err, ErrMFAChallengeExpired) {
		t.Fatalf("expired challenge: got %v", err)
	}
}

func TestBackupCodeSingleUseAcrossChallenges(t *testing.T) {
	engine, provider, _, sink := newTestEngine(t, testConfig())
	_, codes := enrollMFA(t, engine, provider)
	backup := codes[0]

	challenge := startChallenge(t, engine)
	confirmed, err := engine.ConfirmMFA(loginCtx("10.0.1.1"), challenge, backup)
	if err != nil {
		t.Fatalf("backup code confirm failed: %v", err)
	}
	if confirmed.AccessToken == "" {
		t.Fatal("expected tokens after backup code confirmation")
	}
	waitEvent(t, sink, auditEventBackupCodeUsed, 1)

	// The consumed code never verifies again, for any later challenge.
	second := startChallenge(t, engine)
	if _, err := engine.ConfirmMFA(loginCtx("10.0.1.1"), second, backup); !errors.Is(err, ErrMFAInvalidCode) {
		t.Fatalf("reused backup code: got %v", err)
	}

	// A different code from the pool still works.
	if _, err := engine.ConfirmMFA(loginCtx("10.0.1.1"), second, codes[1]); err != nil {
		t.Fatalf("fresh backup code failed: %v", err)
	}
}

func TestMFACounterResetOnlyAfterSecondFactor(t *testing.T) {
	engine, provider, _, _ := newTestEngine(t, testConfig())
	secret, _ := enrollMFA(t, engine, provider)

	// A failed attempt leaves a trail.
	if _, err := engine.Login(loginCtx("10.0.1.2"), testIdentifier, "wrong-secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if got := provider.get(testAccountID).FailedAttempts; got != 1 {
		t.Fatalf("expected 1 failed attempt, got %d", got)
	}

	// Passing the password stage alone must not clear it.
	challenge := startChallenge(t, engine)
	if got := provider.get(testAccountID).FailedAttempts; got != 1 {
		t.Fatalf("counter cleared by password stage alone: %d", got)
	}

	// Completing the second factor does.
	code := totpCodeAt(t, engine.config.MFA, secret, time.Now())
	if _, err := engine.ConfirmMFA(loginCtx("10.0.1.2"), challenge, code); err != nil {
		t.Fatalf("ConfirmMFA failed: %v", err)
	}
	if got := provider.get(testAccountID).FailedAttempts; got != 0 {
		t.Fatalf("expected counter reset after full auth, got %d", got)
	}
}
