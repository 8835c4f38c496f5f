package authcore

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/nkarsten/authcore/session"
)

// ValidateAccess verifies an access token's signature and claims, then
// checks the session it names is still live. A revoked or evicted session
// kills its outstanding access tokens at this gate even before they expire.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AccessInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		e.metricInc(MetricValidateFailure)
		return nil, ErrTokenInvalid
	}

	sess, err := e.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			e.metricInc(MetricValidateFailure)
			return nil, ErrTokenInvalid
		}
		return nil, ErrStoreUnavailable
	}
	now := e.now()
	if !sess.Active(now.Unix()) || sess.AccountID != claims.AccountID {
		e.metricInc(MetricValidateFailure)
		return nil, ErrTokenInvalid
	}

	// Authenticated activity counts toward eviction order. Best-effort;
	// a failed touch does not invalidate the access.
	if err := e.sessions.Touch(ctx, claims.SessionID, now); err != nil {
		log.Print("authcore: session touch failed")
	}

	e.metricInc(MetricValidateSuccess)
	return &AccessInfo{AccountID: claims.AccountID, SessionID: claims.SessionID}, nil
}

// ListSessions returns the account's live sessions, oldest activity first.
func (e *Engine) ListSessions(ctx context.Context, accountID string) ([]SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	sessions, err := e.sessions.List(ctx, accountID)
	if err != nil {
		return nil, ErrStoreUnavailable
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, SessionInfo{
			SessionID:   sess.ID,
			Fingerprint: sess.Fingerprint,
			IssuedAt:    time.Unix(sess.IssuedAt, 0),
			LastSeenAt:  time.Unix(sess.LastSeenAt, 0),
		})
	}
	return infos, nil
}

// RevokeSession revokes one session. Revoking an already-revoked or unknown
// session is a no-op; the audit event fires only when state actually
// changed.
func (e *Engine) RevokeSession(ctx context.Context, accountID, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil
		}
		return ErrStoreUnavailable
	}
	// Ownership check so one account cannot revoke another's session.
	if sess.AccountID != accountID {
		return ErrSessionNotFound
	}

	changed, err := e.sessions.Revoke(ctx, sessionID)
	if err != nil {
		return ErrStoreUnavailable
	}
	if changed {
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, CategoryAuthentication, auditEventSessionRevoked, accountID, sessionID, true, nil, nil)
	}
	return nil
}

// RevokeAllSessions revokes every live session for the account and returns
// how many actually changed state.
func (e *Engine) RevokeAllSessions(ctx context.Context, accountID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}

	revoked, err := e.sessions.RevokeAll(ctx, accountID)
	if err != nil {
		return 0, ErrStoreUnavailable
	}
	for i := 0; i < revoked; i++ {
		e.metricInc(MetricSessionRevoked)
	}
	if revoked > 0 {
		e.emitAudit(ctx, CategoryAuthentication, auditEventSessionRevoked, accountID, "", true, nil, func() map[string]string {
			return map[string]string{"scope": "all"}
		})
	}
	return revoked, nil
}

// Logout validates the access token and revokes its own session.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	info, err := e.ValidateAccess(ctx, accessToken)
	if err != nil {
		return err
	}
	return e.RevokeSession(ctx, info.AccountID, info.SessionID)
}
