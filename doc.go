// Package authcore is the authentication security core: credential
// verification with brute-force lockout, optional TOTP/backup-code second
// factor, rotating opaque refresh tokens with replay detection, a
// Redis-backed session registry with a per-account device cap, and an
// append-only audit trail.
//
// Engine methods are safe for concurrent use after [Builder.Build]. The
// engine owns no account storage; integrators supply an [AccountProvider]
// over their own persistence.
//
// # Security posture
//
//   - Unknown identifiers and wrong secrets are indistinguishable to the
//     caller, in error shape and in latency.
//   - Gate checks fail closed: a counting-store outage blocks logins
//     rather than waving them through.
//   - Reuse of a superseded refresh token revokes the whole session before
//     the caller hears anything.
//   - Failure counters reset only after the full authentication, second
//     factor included.
//
// # Architecture boundaries
//
// This package is the public surface: [Engine], [Builder], [Config], and
// value types. Lockout counting, challenge storage, and token encoding
// live under internal/ and are never exported. Audit persistence is
// pluggable through [AuditSink]; audit/sqlite provides a durable
// implementation.
package authcore
