// Package session implements the session registry: per-account device slots
// with an eviction cap, last-seen tracking, idempotent revocation, and the
// atomic refresh-hash compare-and-swap that makes token replay detectable.
// All multi-step state transitions run inside Redis Lua scripts so
// concurrent logins and rotations cannot interleave.
package session
