package authcore

import (
	"context"
	"errors"
	"time"
)

// ErrAccountNotFound must be returned (possibly wrapped) by AccountProvider
// lookups when the identifier or id resolves to nothing. The engine folds
// it into ErrInvalidCredentials before anything reaches a caller.
var ErrAccountNotFound = errors.New("account not found")

// AccountRecord is the engine's view of a stored account. Credential and
// MFA material stay hashed/encoded; the engine never sees plaintext secrets
// other than the ones submitted for verification.
type AccountRecord struct {
	AccountID      string
	Identifier     string
	CredentialHash string
	MFAEnabled     bool
	EmailVerified  bool
	FailedAttempts int
	LockedUntil    time.Time
}

// Locked reports whether the durable lock marker is still in the future.
func (a AccountRecord) Locked(now time.Time) bool {
	return !a.LockedUntil.IsZero() && a.LockedUntil.After(now)
}

// AccountProvider is the interface integrators implement over their account
// storage. Counter mutations must be atomic: two concurrent
// RecordFailedAttempt calls must observe distinct post-increment values
// (SQL `UPDATE ... SET n = n + 1 RETURNING n`, a serializable transaction,
// or equivalent).
type AccountProvider interface {
	GetByIdentifier(ctx context.Context, identifier string) (AccountRecord, error)
	GetByID(ctx context.Context, accountID string) (AccountRecord, error)

	// RecordFailedAttempt atomically increments the failure counter and
	// returns the post-increment value.
	RecordFailedAttempt(ctx context.Context, accountID string) (int, error)
	// ResetFailedAttempts zeroes the counter and clears LockedUntil. Called
	// only after a fully completed authentication.
	ResetFailedAttempts(ctx context.Context, accountID string) error
	// SetLockedUntil persists the durable lock marker.
	SetLockedUntil(ctx context.Context, accountID string, until time.Time) error

	// GetMFASecret returns the account's raw TOTP secret, or
	// ErrAccountNotFound-wrapped errors when absent.
	GetMFASecret(ctx context.Context, accountID string) ([]byte, error)
	// ConsumeBackupCode atomically invalidates the backup code matching
	// codeHash and reports whether it was live. A consumed code must never
	// verify again, for any future challenge.
	ConsumeBackupCode(ctx context.Context, accountID string, codeHash [32]byte) (bool, error)
}

// LoginResult is returned by Login and ConfirmMFA once the full
// authentication completes. A login that still needs a second factor gets
// no result; it gets MFARequiredError instead.
type LoginResult struct {
	AccountID    string
	SessionID    string
	AccessToken  string
	RefreshToken string
}

// SessionInfo is the caller-facing session summary returned by ListSessions.
type SessionInfo struct {
	SessionID   string
	Fingerprint string
	IssuedAt    time.Time
	LastSeenAt  time.Time
}

// AccessInfo is the result of validating an access token against the
// session registry.
type AccessInfo struct {
	AccountID string
	SessionID string
}
