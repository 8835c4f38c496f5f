package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// SessionID is a 16-byte random identifier rendered as unpadded base64url.
type SessionID [16]byte

const (
	refreshSecretSize   = 32
	refreshTokenRawSize = 16 + refreshSecretSize
)

// ErrTokenMalformed is returned when a refresh token fails structural decoding.
var ErrTokenMalformed = errors.New("malformed token")

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, ErrTokenMalformed
	}
	if len(raw) != len(sid) {
		return sid, ErrTokenMalformed
	}

	copy(sid[:], raw)
	return sid, nil
}

// NewRefreshSecret returns 32 bytes of CSPRNG output. The raw secret is
// handed to the client inside the refresh token; only its hash is stored.
func NewRefreshSecret() ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashRefreshSecret(secret [refreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeRefreshToken packs sessionID||secret into one opaque base64url blob.
func EncodeRefreshToken(sessionID string, secret [refreshSecretSize]byte) (string, error) {
	sid, err := ParseSessionID(sessionID)
	if err != nil {
		return "", err
	}

	var raw [refreshTokenRawSize]byte
	copy(raw[:len(sid)], sid[:])
	copy(raw[len(sid):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// DecodeRefreshToken splits an opaque refresh token back into the session ID
// and the raw secret. All structural failures report the same error.
func DecodeRefreshToken(token string) (string, [refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, ErrTokenMalformed
	}
	if len(raw) != refreshTokenRawSize {
		return "", secret, ErrTokenMalformed
	}

	var sid SessionID
	copy(sid[:], raw[:len(sid)])
	copy(secret[:], raw[len(sid):])

	return sid.String(), secret, nil
}

// HashBackupCode normalizes and hashes a backup code for storage lookup.
// Codes are case-insensitive and tolerate the separators users type.
func HashBackupCode(code string) [32]byte {
	normalized := strings.ToUpper(strings.NewReplacer(" ", "", "-", "").Replace(code))
	return sha256.Sum256([]byte(normalized))
}
