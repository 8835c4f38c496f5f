package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	authcore "github.com/nkarsten/authcore"
	auditsqlite "github.com/nkarsten/authcore/audit/sqlite"
)

const refreshCookieName = "authd_refresh"

type server struct {
	engine       *authcore.Engine
	audit        *auditsqlite.Store
	log          *slog.Logger
	cookieSecure bool
	cookieDomain string
	limiter      *clientLimiter
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logging)
	r.Use(s.limiter.middleware)

	r.Post("/v1/login", s.handleLogin)
	r.Post("/v1/login/mfa", s.handleConfirmMFA)
	r.Post("/v1/refresh", s.handleRefresh)
	r.Post("/v1/logout", s.handleLogout)

	r.Get("/v1/sessions", s.handleListSessions)
	r.Delete("/v1/sessions", s.handleRevokeAll)
	r.Delete("/v1/sessions/{sessionID}", s.handleRevokeSession)

	r.Get("/v1/audit", s.handleAuditSelf)
	r.Get("/v1/admin/audit", s.handleAuditAdmin)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", clientIP(r),
			"duration", time.Since(start).String(),
		)
	})
}

// requestCtx attaches client metadata the engine uses for throttling,
// fingerprinting, and the audit trail.
func requestCtx(r *http.Request) context.Context {
	ctx := authcore.WithOrigin(r.Context(), clientIP(r))
	return authcore.WithFingerprint(ctx, r.UserAgent())
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

type mfaRequest struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

type loginResponse struct {
	AccessToken string `json:"access_token,omitempty"`
	MFARequired bool   `json:"mfa_required,omitempty"`
	ChallengeID string `json:"challenge_id,omitempty"`
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	result, err := s.engine.Login(requestCtx(r), req.Identifier, req.Secret)
	if err != nil {
		var mfaErr *authcore.MFARequiredError
		if errors.As(err, &mfaErr) {
			writeJSON(w, http.StatusAccepted, loginResponse{
				MFARequired: true,
				ChallengeID: mfaErr.ChallengeID,
			})
			return
		}
		s.writeAuthError(w, err)
		return
	}
	s.writeTokens(w, result)
}

func (s *server) handleConfirmMFA(w http.ResponseWriter, r *http.Request) {
	var req mfaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	result, err := s.engine.ConfirmMFA(requestCtx(r), req.ChallengeID, req.Code)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	s.writeTokens(w, result)
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "session expired")
		return
	}

	result, err := s.engine.Refresh(requestCtx(r), cookie.Value)
	if err != nil {
		// Replay detection stays server-side; the client sees the same
		// generic answer as any dead session.
		s.clearRefreshCookie(w)
		writeError(w, http.StatusUnauthorized, "session expired")
		return
	}
	s.writeTokens(w, result)
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := s.engine.Logout(requestCtx(r), token); err != nil {
		s.writeAuthError(w, err)
		return
	}
	s.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	info, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	sessions, err := s.engine.ListSessions(requestCtx(r), info.AccountID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	info, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if err := s.engine.RevokeSession(requestCtx(r), info.AccountID, sessionID); err != nil {
		if errors.Is(err, authcore.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "unknown session")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleRevokeAll(w http.ResponseWriter, r *http.Request) {
	info, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	revoked, err := s.engine.RevokeAllSessions(requestCtx(r), info.AccountID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	s.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]int{"revoked": revoked})
}

// handleAuditSelf serves an account's own audit trail. The subject filter
// is pinned to the authenticated account; query parameters cannot widen it.
func (s *server) handleAuditSelf(w http.ResponseWriter, r *http.Request) {
	info, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	s.serveAuditQuery(w, r, info.AccountID)
}

// handleAuditAdmin serves the unrestricted audit view. Operator access
// control sits in front of this route; the process itself has no role
// model.
// TODO: scope to an operator role once accounts carry one.
func (s *server) handleAuditAdmin(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	s.serveAuditQuery(w, r, r.URL.Query().Get("subject_id"))
}

func (s *server) serveAuditQuery(w http.ResponseWriter, r *http.Request, subjectID string) {
	q := r.URL.Query()
	filter := auditsqlite.Filter{
		Category:  q.Get("category"),
		EventType: q.Get("event_type"),
		SubjectID: subjectID,
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("since"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Since = ts
		}
	}

	events, err := s.audit.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	latency, err := s.engine.Ping(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "ok",
		"redis_latency": latency.String(),
	})
}

func (s *server) authenticate(w http.ResponseWriter, r *http.Request) (*authcore.AccessInfo, bool) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	info, err := s.engine.ValidateAccess(requestCtx(r), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return info, true
}

// writeTokens sends the access token in the body and the refresh token as
// an httpOnly cookie, keeping the long-lived credential out of script
// reach.
func (s *server) writeTokens(w http.ResponseWriter, result *authcore.LoginResult) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    result.RefreshToken,
		Path:     "/v1",
		Domain:   s.cookieDomain,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{AccessToken: result.AccessToken})
}

func (s *server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/v1",
		Domain:   s.cookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// writeAuthError maps engine errors to transport responses. Messages stay
// generic; the detail lives in the audit trail.
func (s *server) writeAuthError(w http.ResponseWriter, err error) {
	var locked *authcore.LockedError
	switch {
	case errors.As(err, &locked):
		if locked.RetryAfter > 0 {
			secs := int(math.Ceil(locked.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
	case errors.Is(err, authcore.ErrAccountLocked):
		writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
	case errors.Is(err, authcore.ErrInvalidCredentials),
		errors.Is(err, authcore.ErrMFAInvalidCode),
		errors.Is(err, authcore.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, authcore.ErrAccountUnverified):
		writeError(w, http.StatusForbidden, "account not verified")
	case errors.Is(err, authcore.ErrMFAChallengeExpired),
		errors.Is(err, authcore.ErrMFAChallengeExhausted):
		writeError(w, http.StatusUnauthorized, "challenge no longer valid")
	case errors.Is(err, authcore.ErrRefreshInvalid),
		errors.Is(err, authcore.ErrRefreshReplay):
		writeError(w, http.StatusUnauthorized, "session expired")
	default:
		s.log.Error("auth backend error", "error", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return "", false
	}
	return h[len(prefix):], true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
