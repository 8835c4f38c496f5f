// Package stores contains the Redis-backed challenge store used by the MFA
// stage of the login flow. Records are compact versioned binary blobs with
// their lifetime delegated to Redis TTLs.
package stores
