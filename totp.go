package authcore

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// totpManager implements RFC 6238 time-based one-time passwords. Codes are
// compared in constant time; a configurable skew accepts adjacent time steps
// to absorb clock drift between server and authenticator.
type totpManager struct {
	digits int
	period int
	skew   int
	issuer string
}

func newTOTPManager(cfg MFAConfig) *totpManager {
	return &totpManager{
		digits: cfg.TOTPDigits,
		period: cfg.TOTPPeriod,
		skew:   cfg.TOTPSkew,
		issuer: cfg.TOTPIssuer,
	}
}

// GenerateSecret returns a fresh base32-encoded 20-byte secret suitable for
// authenticator enrollment.
func (t *totpManager) GenerateSecret() (string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("totp secret generation: %w", err)
	}
	return b32.EncodeToString(raw), nil
}

// ProvisionURI returns the otpauth:// URI encoding the secret and parameters
// for QR enrollment.
func (t *totpManager) ProvisionURI(accountLabel, secret string) string {
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", t.issuer)
	q.Set("digits", strconv.Itoa(t.digits))
	q.Set("period", strconv.Itoa(t.period))
	q.Set("algorithm", "SHA1")
	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + t.issuer + ":" + accountLabel,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// VerifyCode checks code against secret at time now, accepting up to skew
// steps either side. Every candidate step is computed and compared so timing
// does not reveal which step matched.
func (t *totpManager) VerifyCode(secret, code string, now time.Time) (bool, error) {
	key, err := b32.DecodeString(secret)
	if err != nil {
		return false, fmt.Errorf("totp secret decode: %w", err)
	}
	if len(code) != t.digits {
		return false, nil
	}
	step := now.Unix() / int64(t.period)
	match := 0
	for offset := -t.skew; offset <= t.skew; offset++ {
		candidate := t.hotp(key, uint64(step+int64(offset)))
		match |= subtle.ConstantTimeCompare([]byte(candidate), []byte(code))
	}
	return match == 1, nil
}

func (t *totpManager) hotp(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)
	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)
	off := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[off:off+4]) & 0x7fffffff
	mod := uint32(1)
	for i := 0; i < t.digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", t.digits, code%mod)
}
