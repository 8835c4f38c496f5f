package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound is returned when the session id resolves to nothing live.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionRevoked is returned for operations against a revoked session.
var ErrSessionRevoked = errors.New("session revoked")

// ErrRefreshHashMismatch signals refresh-token reuse: the presented hash is
// not the currently stored one. The store has already revoked the session
// by the time this is returned.
var ErrRefreshHashMismatch = errors.New("refresh hash mismatch")

// ErrRedisUnavailable wraps transport-level store failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	rotateStatusNotFound int64 = 0
	rotateStatusRevoked  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
)

// registerScript inserts a session and enforces the per-account device cap
// in one atomic unit. The account index is a ZSET scored by last-seen time;
// stale entries (expired or already revoked sessions) are pruned before
// counting, then the oldest live sessions are revoked until the new session
// fits. Returns the evicted session ids.
const registerScript = `
local account_key = KEYS[1]
local session_prefix = ARGV[1]
local session_id = ARGV[2]
local account_id = ARGV[3]
local fingerprint = ARGV[4]
local refresh_hash = ARGV[5]
local now = tonumber(ARGV[6])
local expires_at = tonumber(ARGV[7])
local ttl_ms = tonumber(ARGV[8])
local max_devices = tonumber(ARGV[9])

local ids = redis.call("ZRANGE", account_key, 0, -1)
local live = {}
for _, id in ipairs(ids) do
  local key = session_prefix .. id
  if redis.call("EXISTS", key) == 0 then
    redis.call("ZREM", account_key, id)
  elseif redis.call("HGET", key, "revoked") == "1" then
    redis.call("ZREM", account_key, id)
  else
    live[#live + 1] = id
  end
end

local evicted = {}
local excess = #live - max_devices + 1
for i = 1, excess do
  local victim = live[i]
  redis.call("HSET", session_prefix .. victim, "revoked", "1")
  redis.call("ZREM", account_key, victim)
  evicted[#evicted + 1] = victim
end

local key = session_prefix .. session_id
redis.call("HSET", key,
  "account_id", account_id,
  "fingerprint", fingerprint,
  "refresh_hash", refresh_hash,
  "issued_at", now,
  "last_seen_at", now,
  "expires_at", expires_at,
  "revoked", "0")
redis.call("PEXPIRE", key, ttl_ms)
redis.call("ZADD", account_key, now, session_id)

return evicted
`

var registerLua = redis.NewScript(registerScript)

// rotateScript is the compare-and-swap at the heart of refresh rotation.
// Exactly one of two concurrent rotations with the same provided hash can
// observe a match; the loser sees the successor hash and trips the
// mismatch branch, which revokes the session in the same script.
const rotateScript = `
local key = KEYS[1]
local account_prefix = ARGV[1]
local session_id = ARGV[2]
local provided = ARGV[3]
local next_hash = ARGV[4]
local now = tonumber(ARGV[5])

if redis.call("EXISTS", key) == 0 then
  return {0}
end

local vals = redis.call("HMGET", key, "account_id", "refresh_hash", "revoked", "expires_at")
local account_id = vals[1]
local stored = vals[2]
local revoked = vals[3]
local expires_at = tonumber(vals[4])
local account_key = account_prefix .. account_id

if revoked == "1" then
  return {1, account_id}
end

if expires_at <= now then
  redis.call("DEL", key)
  redis.call("ZREM", account_key, session_id)
  return {0}
end

if stored ~= provided then
  redis.call("HSET", key, "revoked", "1")
  redis.call("ZREM", account_key, session_id)
  return {2, account_id}
end

redis.call("HSET", key, "refresh_hash", next_hash, "last_seen_at", now)
redis.call("ZADD", account_key, now, session_id)
return {3, account_id}
`

var rotateLua = redis.NewScript(rotateScript)

const touchScript = `
local key = KEYS[1]
local account_prefix = ARGV[1]
local session_id = ARGV[2]
local now = tonumber(ARGV[3])

if redis.call("EXISTS", key) == 0 then
  return 0
end
local vals = redis.call("HMGET", key, "account_id", "revoked", "expires_at")
if vals[2] == "1" then
  return 0
end
if tonumber(vals[3]) <= now then
  return 0
end

redis.call("HSET", key, "last_seen_at", now)
redis.call("ZADD", account_prefix .. vals[1], now, session_id)
return 1
`

var touchLua = redis.NewScript(touchScript)

const revokeScript = `
local key = KEYS[1]
local account_prefix = ARGV[1]
local session_id = ARGV[2]

if redis.call("EXISTS", key) == 0 then
  return 0
end
if redis.call("HGET", key, "revoked") == "1" then
  return 0
end

redis.call("HSET", key, "revoked", "1")
local account_id = redis.call("HGET", key, "account_id")
redis.call("ZREM", account_prefix .. account_id, session_id)
return 1
`

var revokeLua = redis.NewScript(revokeScript)

const revokeAllScript = `
local account_key = KEYS[1]
local session_prefix = ARGV[1]

local ids = redis.call("ZRANGE", account_key, 0, -1)
local revoked = 0
for _, id in ipairs(ids) do
  local key = session_prefix .. id
  if redis.call("EXISTS", key) == 1 and redis.call("HGET", key, "revoked") ~= "1" then
    redis.call("HSET", key, "revoked", "1")
    revoked = revoked + 1
  end
end
redis.call("DEL", account_key)
return revoked
`

var revokeAllLua = redis.NewScript(revokeAllScript)

// Store is the Redis-backed session registry. Sessions are hashes under a
// key prefix; each account has a ZSET index scored by last-seen time, which
// doubles as the eviction order for the device cap.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ses"
	}
	return &Store{redis: redisClient, prefix: prefix}
}

func (s *Store) sessionPrefix() string {
	return s.prefix + ":"
}

func (s *Store) key(sessionID string) string {
	return s.sessionPrefix() + sessionID
}

func (s *Store) accountPrefix() string {
	return s.prefix + "a:"
}

func (s *Store) accountKey(accountID string) string {
	return s.accountPrefix() + accountID
}

// Register persists a new session, evicting the oldest live sessions first
// if the account is at maxDevices. Eviction and insert happen inside one
// Lua script, so concurrent registration bursts cannot exceed the cap.
// The returned slice holds the evicted session ids, oldest first.
func (s *Store) Register(ctx context.Context, sess *Session, ttl time.Duration, maxDevices int) ([]string, error) {
	result, err := registerLua.Run(
		ctx,
		s.redis,
		[]string{s.accountKey(sess.AccountID)},
		s.sessionPrefix(),
		sess.ID,
		sess.AccountID,
		sess.Fingerprint,
		sess.RefreshHash[:],
		sess.LastSeenAt,
		sess.ExpiresAt,
		ttl.Milliseconds(),
		maxDevices,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: invalid register script response", ErrRedisUnavailable)
	}

	evicted := make([]string, 0, len(parts))
	for _, part := range parts {
		switch v := part.(type) {
		case string:
			evicted = append(evicted, v)
		case []byte:
			evicted = append(evicted, string(v))
		default:
			return nil, fmt.Errorf("%w: invalid evicted session id", ErrRedisUnavailable)
		}
	}
	return evicted, nil
}

// Get loads a session by id. Expired sessions are treated as not found;
// revoked sessions are returned with Revoked set so callers can
// distinguish a dead slot from a missing one.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}

	sess, err := sessionFromFields(sessionID, fields)
	if err != nil {
		return nil, err
	}
	if !sess.Revoked && sess.ExpiresAt <= time.Now().Unix() {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Touch updates last-seen time on authenticated activity. Returns
// ErrSessionNotFound for missing/expired sessions and ErrSessionRevoked for
// revoked ones.
func (s *Store) Touch(ctx context.Context, sessionID string, now time.Time) error {
	result, err := touchLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		s.accountPrefix(),
		sessionID,
		now.Unix(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if result == 0 {
		sess, getErr := s.Get(ctx, sessionID)
		if getErr == nil && sess.Revoked {
			return ErrSessionRevoked
		}
		return ErrSessionNotFound
	}
	return nil
}

// Revoke marks a session revoked. Idempotent: the bool reports whether this
// call changed state, so the caller audits the transition exactly once.
func (s *Store) Revoke(ctx context.Context, sessionID string) (bool, error) {
	result, err := revokeLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		s.accountPrefix(),
		sessionID,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return result == 1, nil
}

// RevokeAll revokes every live session of an account and returns how many
// transitions it performed. Idempotent.
func (s *Store) RevokeAll(ctx context.Context, accountID string) (int, error) {
	result, err := revokeAllLua.Run(
		ctx,
		s.redis,
		[]string{s.accountKey(accountID)},
		s.sessionPrefix(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(result), nil
}

// List returns the account's live sessions, oldest last-seen first.
func (s *Store) List(ctx context.Context, accountID string) ([]*Session, error) {
	ids, err := s.redis.ZRange(ctx, s.accountKey(accountID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	nowUnix := time.Now().Unix()
	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				continue
			}
			return nil, err
		}
		if !sess.Active(nowUnix) {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// RotateRefreshHash performs the conditional hash swap for refresh-token
// rotation. On ErrRefreshHashMismatch the session is already revoked; the
// presented token was superseded and its reuse indicates theft. The
// returned account id identifies the session owner for auditing even on
// the mismatch path.
func (s *Store) RotateRefreshHash(
	ctx context.Context,
	sessionID string,
	providedHash [32]byte,
	nextHash [32]byte,
	now time.Time,
) (string, error) {
	result, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID)},
		s.accountPrefix(),
		sessionID,
		providedHash[:],
		nextHash[:],
		now.Unix(),
	).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return "", fmt.Errorf("%w: invalid rotate script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return "", fmt.Errorf("%w: invalid rotate script status", ErrRedisUnavailable)
	}

	accountID := ""
	if len(parts) > 1 {
		switch v := parts[1].(type) {
		case string:
			accountID = v
		case []byte:
			accountID = string(v)
		}
	}

	switch code {
	case rotateStatusNotFound:
		return "", ErrSessionNotFound
	case rotateStatusRevoked:
		return accountID, ErrSessionRevoked
	case rotateStatusMismatch:
		return accountID, ErrRefreshHashMismatch
	case rotateStatusRotated:
		return accountID, nil
	default:
		return "", fmt.Errorf("%w: unknown rotate script status", ErrRedisUnavailable)
	}
}

// Ping reports point-in-time store availability and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func sessionFromFields(sessionID string, fields map[string]string) (*Session, error) {
	sess := &Session{
		ID:          sessionID,
		AccountID:   fields["account_id"],
		Fingerprint: fields["fingerprint"],
		Revoked:     fields["revoked"] == "1",
	}

	hash := []byte(fields["refresh_hash"])
	if len(hash) != len(sess.RefreshHash) {
		return nil, fmt.Errorf("%w: corrupt refresh hash", ErrRedisUnavailable)
	}
	copy(sess.RefreshHash[:], hash)

	var err error
	if sess.IssuedAt, err = strconv.ParseInt(fields["issued_at"], 10, 64); err != nil {
		return nil, fmt.Errorf("%w: corrupt issued_at", ErrRedisUnavailable)
	}
	if sess.LastSeenAt, err = strconv.ParseInt(fields["last_seen_at"], 10, 64); err != nil {
		return nil, fmt.Errorf("%w: corrupt last_seen_at", ErrRedisUnavailable)
	}
	if sess.ExpiresAt, err = strconv.ParseInt(fields["expires_at"], 10, 64); err != nil {
		return nil, fmt.Errorf("%w: corrupt expires_at", ErrRedisUnavailable)
	}

	return sess, nil
}
