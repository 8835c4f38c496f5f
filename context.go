package authcore

import "context"

type contextKey int

const (
	originKey contextKey = iota
	fingerprintKey
)

// WithOrigin attaches the caller's network origin (typically the client IP)
// to the context. The engine uses it for rate limiting and audit records.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey, origin)
}

// WithFingerprint attaches a device fingerprint (user agent hash, device id)
// used to label the session.
func WithFingerprint(ctx context.Context, fp string) context.Context {
	return context.WithValue(ctx, fingerprintKey, fp)
}

func originFrom(ctx context.Context) string {
	v, _ := ctx.Value(originKey).(string)
	if v == "" {
		return "unknown"
	}
	return v
}

func fingerprintFrom(ctx context.Context) string {
	v, _ := ctx.Value(fingerprintKey).(string)
	if v == "" {
		return "unknown"
	}
	return v
}
