package authcore

import (
	"strings"
	"testing"
	"time"
)

func testMFAConfig() MFAConfig {
	return MFAConfig{
		ChallengeTTL: 5 * time.Minute,
		MaxAttempts:  5,
		TOTPDigits:   6,
		TOTPPeriod:   30,
		TOTPSkew:     1,
		TOTPIssuer:   "authcore-test",
	}
}

func TestTOTPVerifyWithinSkew(t *testing.T) {
	tm := newTOTPManager(testMFAConfig())
	secret, err := tm.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	now := time.Now()
	key, err := b32.DecodeString(secret)
	if err != nil {
		t.Fatalf("secret decode failed: %v", err)
	}
	step := now.Unix() / 30

	for _, offset := range []int64{-1, 0, 1} {
		code := tm.hotp(key, uint64(step+offset))
		ok, err := tm.VerifyCode(secret, code, now)
		if err != nil {
			t.Fatalf("VerifyCode failed: %v", err)
		}
		if !ok {
			t.Fatalf("code at offset %d rejected", offset)
		}
	}

	// Two steps out is beyond the configured skew.
	stale := tm.hotp(key, uint64(step-2))
	if ok, _ := tm.VerifyCode(secret, stale, now); ok {
		t.Fatal("code two steps old must be rejected")
	}
}

func TestTOTPRejectsWrongInput(t *testing.T) {
	tm := newTOTPManager(testMFAConfig())
	secret, err := tm.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}

	for _, code := range []string{"", "12345", "1234567", "000000"} {
		if ok, _ := tm.VerifyCode(secret, code, time.Now()); ok {
			t.Fatalf("code %q should not verify", code)
		}
	}

	if _, err := tm.VerifyCode("not base32!!", "123456", time.Now()); err == nil {
		t.Fatal("expected error for malformed secret")
	}
}

func TestTOTPProvisionURI(t *testing.T) {
	tm := newTOTPManager(testMFAConfig())
	uri := tm.ProvisionURI("alice@example.com", "JBSWY3DPEHPK3PXP")

	if !strings.HasPrefix(uri, "otpauth://totp/") {
		t.Fatalf("unexpected scheme in %q", uri)
	}
	for _, want := range []string{"secret=JBSWY3DPEHPK3PXP", "issuer=authcore-test", "digits=6", "period=30"} {
		if !strings.Contains(uri, want) {
			t.Fatalf("uri %q missing %q", uri, want)
		}
	}
}
