package authcore

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"log"
	"strconv"

	"github.com/nkarsten/authcore/internal"
	"github.com/nkarsten/authcore/internal/stores"
)

// ConfirmMFA verifies the second factor for a pending challenge and, on
// success, completes the authentication. The code may be a TOTP code or a
// backup code; backup codes are single-use across all future challenges.
//
// The challenge is single-use: the first successful confirmation consumes
// it, and a concurrent duplicate sees the challenge as gone. An exhausted
// or expired challenge rejects even a correct code; the caller must restart
// from Login.
func (e *Engine) ConfirmMFA(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if challengeID == "" || code == "" {
		return nil, ErrMFAInvalidCode
	}

	challenge, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrChallengeNotFound), errors.Is(err, stores.ErrChallengeExpired):
			return nil, ErrMFAChallengeExpired
		default:
			return nil, ErrMFAUnavailable
		}
	}
	accountID := challenge.AccountID

	verified, usedBackup, err := e.verifySecondFactor(ctx, accountID, code)
	if err != nil {
		return nil, err
	}

	if !verified {
		exhausted, err := e.challenges.ConsumeAttempt(ctx, challengeID)
		if err != nil {
			switch {
			case errors.Is(err, stores.ErrChallengeNotFound), errors.Is(err, stores.ErrChallengeExpired):
				return nil, ErrMFAChallengeExpired
			default:
				return nil, ErrMFAUnavailable
			}
		}
		if exhausted {
			e.metricInc(MetricMFAExhausted)
			e.emitAudit(ctx, CategorySecurity, auditEventMFAExhausted, accountID, "", false, ErrMFAChallengeExhausted, nil)
			return nil, ErrMFAChallengeExhausted
		}
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, CategoryAuthentication, auditEventMFAFailure, accountID, "", false, ErrMFAInvalidCode, nil)
		return nil, ErrMFAInvalidCode
	}

	// Consume the challenge before minting anything. Losing the delete
	// race means a concurrent confirmation already finished; this one
	// yields rather than double-issuing.
	won, err := e.challenges.Delete(ctx, challengeID)
	if err != nil {
		return nil, ErrMFAUnavailable
	}
	if !won {
		return nil, ErrMFAChallengeExpired
	}

	if usedBackup {
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, CategorySecurity, auditEventBackupCodeUsed, accountID, "", true, nil, nil)
	}
	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, CategoryAuthentication, auditEventMFASuccess, accountID, "", true, nil, nil)

	wasLocked := false
	if account, err := e.accounts.GetByID(ctx, accountID); err == nil {
		wasLocked = !account.LockedUntil.IsZero()
	}
	return e.completeAuthentication(ctx, accountID, originFrom(ctx), wasLocked)
}

// verifySecondFactor tries TOTP first, then falls back to the backup-code
// pool. The backup path mutates state (a matched code is consumed), which
// is safe: a consumed code was live and the verification succeeds.
func (e *Engine) verifySecondFactor(ctx context.Context, accountID, code string) (verified, usedBackup bool, err error) {
	secret, err := e.accounts.GetMFASecret(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return false, false, ErrMFAInvalidCode
		}
		return false, false, ErrStoreUnavailable
	}

	if e.totp != nil && len(secret) > 0 {
		ok, verr := e.totp.VerifyCode(string(secret), code, e.now())
		if verr != nil {
			log.Print("authcore: totp verification error")
		} else if ok {
			return true, false, nil
		}
	}

	ok, err := e.accounts.ConsumeBackupCode(ctx, accountID, internal.HashBackupCode(code))
	if err != nil {
		return false, false, ErrStoreUnavailable
	}
	return ok, ok, nil
}

const (
	backupCodeCount  = 10
	backupCodeLength = 10
)

var backupCodeAlphabet = base32.StdEncoding.WithPadding(base32.NoPadding)

// ProvisionTOTP generates a fresh TOTP secret and enrollment URI for an
// account. The engine does not persist the secret; the integrator stores it
// (and should require one valid code before flipping MFAEnabled on).
func (e *Engine) ProvisionTOTP(ctx context.Context, accountID string) (secret, uri string, err error) {
	if !e.ready() || e.totp == nil {
		return "", "", ErrEngineNotReady
	}
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return "", "", err
		}
		return "", "", ErrStoreUnavailable
	}

	secret, err = e.totp.GenerateSecret()
	if err != nil {
		return "", "", err
	}
	e.emitAudit(ctx, CategorySecurity, auditEventTOTPProvisioned, accountID, "", true, nil, nil)
	return secret, e.totp.ProvisionURI(account.Identifier, secret), nil
}

// GenerateBackupCodes mints a fresh pool of single-use recovery codes. The
// plaintext codes are returned once for display; the integrator persists
// only the hashes, replacing any previous pool.
func (e *Engine) GenerateBackupCodes(ctx context.Context, accountID string) ([]string, [][32]byte, error) {
	if !e.ready() {
		return nil, nil, ErrEngineNotReady
	}
	if _, err := e.accounts.GetByID(ctx, accountID); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, nil, err
		}
		return nil, nil, ErrStoreUnavailable
	}

	codes := make([]string, 0, backupCodeCount)
	hashes := make([][32]byte, 0, backupCodeCount)
	raw := make([]byte, 8)
	for i := 0; i < backupCodeCount; i++ {
		if _, err := rand.Read(raw); err != nil {
			return nil, nil, err
		}
		code := backupCodeAlphabet.EncodeToString(raw)[:backupCodeLength]
		codes = append(codes, code)
		hashes = append(hashes, internal.HashBackupCode(code))
	}

	e.emitAudit(ctx, CategorySecurity, auditEventBackupCodesIssued, accountID, "", true, nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(backupCodeCount)}
	})
	return codes, hashes, nil
}
