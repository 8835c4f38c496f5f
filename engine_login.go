package authcore

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"
	"github.com/nkarsten/authcore/internal"
	"github.com/nkarsten/authcore/internal/lockout"
	"github.com/nkarsten/authcore/internal/stores"
	"github.com/nkarsten/authcore/session"
)

// Login verifies the identifier/secret pair and either completes the
// authentication or opens an MFA challenge. When a second factor is needed
// the result is nil and the error is a *MFARequiredError carrying the
// challenge id for the ConfirmMFA follow-up; tokens appear only on a nil
// error.
//
// The caller sees ErrInvalidCredentials for both unknown identifiers and
// wrong secrets; the two paths match in latency and error shape.
func (e *Engine) Login(ctx context.Context, identifier, secret string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	origin := originFrom(ctx)

	// The origin gate runs before any account lookup so unknown-identifier
	// bursts burn the same budget as real ones.
	if d := e.lockout.CheckOrigin(ctx, origin); !d.Allowed {
		return nil, e.rejectBlocked(ctx, d, "", identifier)
	}

	if identifier == "" || secret == "" {
		e.passwordHash.VerifyDecoy(secret)
		if _, err := e.lockout.RecordFailure(ctx, "", origin); err != nil {
			log.Print("authcore: origin failure count update failed")
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, CategoryAuthentication, auditEventLoginFailure, "", "", false, ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "empty_input"}
		})
		return nil, ErrInvalidCredentials
	}

	account, err := e.accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, ErrStoreUnavailable
		}
		// Burn a full hash comparison so an unknown identifier costs the
		// same wall time as a wrong secret.
		e.passwordHash.VerifyDecoy(secret)
		if _, err := e.lockout.RecordFailure(ctx, "", origin); err != nil {
			log.Print("authcore: origin failure count update failed")
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, CategoryAuthentication, auditEventLoginFailure, "", "", false, ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "unknown_identifier"}
		})
		return nil, ErrInvalidCredentials
	}

	if d := e.lockout.CheckAccount(ctx, account.AccountID); !d.Allowed {
		return nil, e.rejectBlocked(ctx, d, account.AccountID, identifier)
	}
	// The durable marker backs the counting store: a flushed cache must
	// not shorten a lock episode.
	if now := e.now(); account.Locked(now) {
		e.metricInc(MetricLoginLocked)
		return nil, &LockedError{RetryAfter: account.LockedUntil.Sub(now)}
	}

	ok, err := e.passwordHash.Verify(secret, account.CredentialHash)
	if err != nil || !ok {
		return nil, e.recordLoginFailure(ctx, account, origin, "secret_mismatch")
	}

	if !account.EmailVerified {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, CategoryAuthentication, auditEventLoginFailure, account.AccountID, "", false, ErrAccountUnverified, func() map[string]string {
			return map[string]string{"reason": "unverified"}
		})
		return nil, ErrAccountUnverified
	}

	if account.MFAEnabled {
		return nil, e.openMFAChallenge(ctx, account)
	}

	return e.completeAuthentication(ctx, account.AccountID, origin, !account.LockedUntil.IsZero())
}

// rejectBlocked collapses a gate decision into the caller-facing error.
// Fine-grained reasons stay in the audit trail only.
func (e *Engine) rejectBlocked(ctx context.Context, d lockout.Decision, accountID, identifier string) error {
	if d.Reason == lockout.ReasonUnavailable {
		return ErrStoreUnavailable
	}
	if d.Reason == lockout.ReasonOriginThrottled {
		e.metricInc(MetricLoginThrottled)
		e.emitAudit(ctx, CategorySecurity, auditEventLoginThrottled, accountID, "", false, ErrAccountLocked, func() map[string]string {
			return map[string]string{"identifier": identifier}
		})
	} else {
		e.metricInc(MetricLoginLocked)
	}
	return &LockedError{RetryAfter: d.RetryAfter}
}

// recordLoginFailure counts a failed attempt in both the durable counter
// and the sliding windows, locking the account when this attempt is the one
// that crosses the threshold. The lock event is emitted exactly once per
// episode.
func (e *Engine) recordLoginFailure(ctx context.Context, account AccountRecord, origin, reason string) error {
	if _, err := e.accounts.RecordFailedAttempt(ctx, account.AccountID); err != nil {
		return ErrStoreUnavailable
	}

	crossed, err := e.lockout.RecordFailure(ctx, account.AccountID, origin)
	if err != nil {
		return ErrStoreUnavailable
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, CategoryAuthentication, auditEventLoginFailure, account.AccountID, "", false, ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"reason": reason}
	})

	if crossed {
		until := e.now().Add(e.config.Lockout.LockDuration)
		if err := e.accounts.SetLockedUntil(ctx, account.AccountID, until); err != nil {
			log.Print("authcore: durable lock marker update failed")
		}
		e.emitAudit(ctx, CategorySecurity, auditEventAccountLocked, account.AccountID, "", false, ErrAccountLocked, func() map[string]string {
			return map[string]string{"lock_duration": e.config.Lockout.LockDuration.String()}
		})
		return &LockedError{RetryAfter: e.config.Lockout.LockDuration}
	}

	return ErrInvalidCredentials
}

// openMFAChallenge records the pending second factor and reports the
// challenge id through MFARequiredError. No tokens exist yet; the password
// proof alone buys a fixed guess budget, nothing more.
func (e *Engine) openMFAChallenge(ctx context.Context, account AccountRecord) error {
	challengeID := uuid.NewString()
	record := &stores.MFAChallenge{
		AccountID: account.AccountID,
		ExpiresAt: e.now().Add(e.config.MFA.ChallengeTTL).Unix(),
		Remaining: uint16(e.config.MFA.MaxAttempts),
	}
	if err := e.challenges.Save(ctx, challengeID, record, e.config.MFA.ChallengeTTL); err != nil {
		return ErrMFAUnavailable
	}

	e.metricInc(MetricMFARequired)
	e.emitAudit(ctx, CategoryAuthentication, auditEventMFAChallenge, account.AccountID, "", true, nil, nil)

	return &MFARequiredError{ChallengeID: challengeID}
}

// completeAuthentication is the single tail shared by password-only logins
// and MFA confirmations. Only here do failure counters reset and tokens get
// minted. wasLocked marks a still-open lock episode; clearing it is a state
// change and gets its own event, exactly one per episode.
func (e *Engine) completeAuthentication(ctx context.Context, accountID, origin string, wasLocked bool) (*LoginResult, error) {
	result, err := e.issueSession(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if err := e.accounts.ResetFailedAttempts(ctx, accountID); err != nil {
		log.Print("authcore: failed attempt counter reset failed")
	}
	if err := e.lockout.Reset(ctx, accountID, origin); err != nil {
		log.Print("authcore: lockout window reset failed")
	}
	if wasLocked {
		e.emitAudit(ctx, CategorySecurity, auditEventAccountUnlocked, accountID, "", true, nil, nil)
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, CategoryAuthentication, auditEventLoginSuccess, accountID, result.SessionID, true, nil, nil)

	return result, nil
}

// issueSession registers a new device slot and mints the token pair. Cap
// eviction happens atomically inside Register; each evicted slot gets its
// own audit event.
func (e *Engine) issueSession(ctx context.Context, accountID string) (*LoginResult, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	refreshSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, ErrStoreUnavailable
	}

	now := e.now()
	sess := &session.Session{
		ID:          sid.String(),
		AccountID:   accountID,
		Fingerprint: fingerprintFrom(ctx),
		RefreshHash: internal.HashRefreshSecret(refreshSecret),
		IssuedAt:    now.Unix(),
		LastSeenAt:  now.Unix(),
		ExpiresAt:   now.Add(e.config.Session.Lifetime).Unix(),
	}

	evicted, err := e.sessions.Register(ctx, sess, e.config.Session.Lifetime, e.config.Session.MaxDevices)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	for _, evictedID := range evicted {
		e.metricInc(MetricSessionEvicted)
		e.emitAudit(ctx, CategoryAuthentication, auditEventSessionEvicted, accountID, evictedID, true, nil, func() map[string]string {
			return map[string]string{"reason": "device_cap"}
		})
	}

	accessToken, err := e.jwtManager.CreateAccess(accountID, sess.ID)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	refreshToken, err := internal.EncodeRefreshToken(sess.ID, refreshSecret)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, CategoryAuthentication, auditEventSessionCreated, accountID, sess.ID, true, nil, nil)

	return &LoginResult{
		AccountID:    accountID,
		SessionID:    sess.ID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}
