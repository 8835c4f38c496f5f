// Package jwt mints and validates the stateless access tokens issued after
// a fully completed authentication. Tokens carry only the account and
// session identifiers; everything revocable lives in the session registry.
package jwt
