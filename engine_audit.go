package authcore

import (
	"context"

	"github.com/google/uuid"
)

// Audit event types. These names are contract-level: downstream consumers
// filter on them, so they never change meaning once shipped.
const (
	auditEventLoginSuccess      = "LOGIN_SUCCESS"
	auditEventLoginFailure      = "LOGIN_FAILURE"
	auditEventLoginThrottled    = "LOGIN_THROTTLED"
	auditEventAccountLocked     = "ACCOUNT_LOCKED"
	auditEventAccountUnlocked   = "ACCOUNT_UNLOCKED"
	auditEventMFAChallenge      = "MFA_CHALLENGE_CREATED"
	auditEventMFASuccess        = "MFA_SUCCESS"
	auditEventMFAFailure        = "MFA_FAILURE"
	auditEventMFAExhausted      = "MFA_EXHAUSTED"
	auditEventSessionCreated    = "SESSION_CREATED"
	auditEventSessionEvicted    = "SESSION_EVICTED"
	auditEventSessionRevoked    = "SESSION_REVOKED"
	auditEventTokenRotated      = "TOKEN_ROTATED"
	auditEventRefreshReplay     = "REFRESH_REPLAY_DETECTED"
	auditEventBackupCodeUsed    = "BACKUP_CODE_USED"
	auditEventTOTPProvisioned   = "TOTP_PROVISIONED"
	auditEventBackupCodesIssued = "BACKUP_CODES_ISSUED"
)

// emitAudit assembles and enqueues one event. Event IDs are random so the
// trail survives merging across instances. The metadata closure is only
// invoked when auditing is enabled, keeping map allocations off the
// disabled path.
func (e *Engine) emitAudit(
	ctx context.Context,
	category string,
	eventType string,
	subjectID string,
	sessionID string,
	success bool,
	failure error,
	metadata func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: e.now(),
		Category:  category,
		EventType: eventType,
		SubjectID: subjectID,
		SessionID: sessionID,
		Origin:    originFrom(ctx),
		Success:   success,
	}
	if failure != nil {
		event.Error = failure.Error()
	}
	if metadata != nil {
		event.Metadata = metadata()
	}

	e.audit.Emit(ctx, event)
}
