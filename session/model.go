package session

// Session is one authenticated device slot for an account. RefreshHash is
// the SHA-256 of the current refresh secret; the raw secret is never stored.
// LastSeenAt drives eviction order when the device cap is hit.
type Session struct {
	ID          string
	AccountID   string
	Fingerprint string
	RefreshHash [32]byte
	IssuedAt    int64
	LastSeenAt  int64
	ExpiresAt   int64
	Revoked     bool
}

// Active reports whether the session can still authenticate requests.
func (s *Session) Active(nowUnix int64) bool {
	return s != nil && !s.Revoked && s.ExpiresAt > nowUnix
}
