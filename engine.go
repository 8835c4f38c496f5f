package authcore

import (
	"context"
	"time"

	"github.com/nkarsten/authcore/internal/lockout"
	"github.com/nkarsten/authcore/internal/stores"
	"github.com/nkarsten/authcore/jwt"
	"github.com/nkarsten/authcore/password"
	"github.com/nkarsten/authcore/session"
)

// Engine is the authentication core. All dependencies are wired once by
// the Builder; after Build the engine is immutable and safe for concurrent
// use.
type Engine struct {
	config       Config
	accounts     AccountProvider
	lockout      *lockout.Guard
	sessions     *session.Store
	challenges   *stores.MFAChallengeStore
	jwtManager   *jwt.Manager
	passwordHash *password.Hasher
	totp         *totpManager
	audit        *auditDispatcher
	metrics      *Metrics

	// now is overridable in tests; everything time-dependent goes
	// through it.
	now func() time.Time
}

func (e *Engine) ready() bool {
	return e != nil &&
		e.accounts != nil &&
		e.lockout != nil &&
		e.sessions != nil &&
		e.challenges != nil &&
		e.jwtManager != nil &&
		e.passwordHash != nil
}

// Close flushes and stops the audit dispatcher. The engine must not be
// used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatch buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditStats reports the dispatcher's delivery and drop counters.
func (e *Engine) AuditStats() AuditStats {
	if e == nil || e.audit == nil {
		return AuditStats{}
	}
	return e.audit.Stats()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.inc(id)
}

// Ping reports backing-store availability and round-trip latency.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	return e.sessions.Ping(ctx)
}
