package authcore

import (
	"context"
	"errors"

	"github.com/nkarsten/authcore/internal"
	"github.com/nkarsten/authcore/session"
)

// Refresh exchanges a live refresh token for a fresh access/refresh pair.
// Rotation is a conditional swap on the stored hash: of two concurrent
// rotations with the same token, exactly one succeeds. The loser, and any
// later reuse of a superseded token, is treated as theft: the whole
// session is revoked before ErrRefreshReplay is returned.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	sessionID, providedSecret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	}

	nextSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, ErrStoreUnavailable
	}

	accountID, err := e.sessions.RotateRefreshHash(
		ctx,
		sessionID,
		internal.HashRefreshSecret(providedSecret),
		internal.HashRefreshSecret(nextSecret),
		e.now(),
	)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshHashMismatch):
			// The store revoked the session inside the swap. Transports
			// surface this as a generic session-expired error; only the
			// audit trail records the detection.
			e.metricInc(MetricReplayDetected)
			e.emitAudit(ctx, CategorySecurity, auditEventRefreshReplay, accountID, sessionID, false, ErrRefreshReplay, nil)
			return nil, ErrRefreshReplay
		case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionRevoked):
			e.metricInc(MetricRefreshFailure)
			return nil, ErrRefreshInvalid
		default:
			return nil, ErrStoreUnavailable
		}
	}

	accessToken, err := e.jwtManager.CreateAccess(accountID, sessionID)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	newRefresh, err := internal.EncodeRefreshToken(sessionID, nextSecret)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, CategoryAuthentication, auditEventTokenRotated, accountID, sessionID, true, nil, nil)

	return &LoginResult{
		AccountID:    accountID,
		SessionID:    sessionID,
		AccessToken:  accessToken,
		RefreshToken: newRefresh,
	}, nil
}
