// Package lockout implements the pre-credential brute-force gate: two
// independent Redis failure windows (per account, per origin address) plus
// a lock marker with a TTL. The guard fails closed: if the counting
// backend is down, checks report Blocked rather than letting traffic
// through unmetered.
package lockout
