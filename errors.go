package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEngineNotReady is returned when an Engine method is called before
	// Build completed or after Close.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrInvalidCredentials covers both unknown identifier and wrong secret.
	// Callers must never be able to tell the two apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while the account is under a lockout
	// window. Match with errors.Is; the concrete value may be a
	// *LockedError carrying the remaining duration.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountUnverified is returned for accounts that have not completed
	// email verification.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrMFARequired signals that the password stage passed and a second
	// factor is pending. It is a flow signal, not a failure.
	ErrMFARequired = errors.New("mfa required")
	// ErrMFAInvalidCode is returned for a wrong TOTP or backup code.
	ErrMFAInvalidCode = errors.New("invalid mfa code")
	// ErrMFAChallengeExpired is returned when the challenge TTL has passed.
	ErrMFAChallengeExpired = errors.New("mfa challenge expired")
	// ErrMFAChallengeExhausted is returned when the guess budget hit zero.
	// The caller must restart from full credential submission.
	ErrMFAChallengeExhausted = errors.New("mfa challenge attempts exhausted")
	// ErrMFAUnavailable is returned when the challenge backend is down.
	ErrMFAUnavailable = errors.New("mfa backend unavailable")
	// ErrRefreshInvalid is returned for malformed, unknown, or expired
	// refresh tokens.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReplay is returned when a superseded refresh token is
	// presented. The session is already revoked by then. Transports must
	// surface it to clients as a generic session-expired error.
	ErrRefreshReplay = errors.New("refresh token replay detected")
	// ErrSessionNotFound is returned for operations on unknown sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTokenInvalid is returned for unparseable or unverifiable access
	// tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrStoreUnavailable is returned when a backing store fails. Gate
	// checks fail closed on it.
	ErrStoreUnavailable = errors.New("backing store unavailable")
)

// LockedError carries the remaining lockout duration alongside the
// ErrAccountLocked identity. Transports round RetryAfter up to whole
// seconds for Retry-After headers.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	if e == nil || e.RetryAfter <= 0 {
		return "account locked"
	}
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// MFARequiredError carries the challenge id a caller needs for the second
// authentication call. Matches ErrMFARequired under errors.Is.
type MFARequiredError struct {
	ChallengeID string
}

func (e *MFARequiredError) Error() string {
	return "mfa required"
}

func (e *MFARequiredError) Is(target error) bool {
	return target == ErrMFARequired
}
