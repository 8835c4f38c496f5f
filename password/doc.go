// Package password provides argon2id hashing and verification in PHC string
// format, including the constant-cost decoy comparison used to defeat
// account enumeration by timing.
package password
