package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Block reasons reported in Decision.Reason. Callers must collapse these
// into one generic user-facing error; the distinction exists only for the
// audit trail.
const (
	ReasonAccountLocked   = "ACCOUNT_LOCKED"
	ReasonOriginThrottled = "ORIGIN_THROTTLED"
	ReasonUnavailable     = "LOCKOUT_UNAVAILABLE"
)

// ErrUnavailable indicates the counting backend is unreachable. The guard
// fails closed on it: callers receive a Blocked decision, never a pass.
var ErrUnavailable = errors.New("lockout backend unavailable")

// Config holds the sliding-window thresholds for both counters and the
// duration of an account lock once the account threshold is crossed.
type Config struct {
	AccountThreshold int
	AccountWindow    time.Duration
	OriginThreshold  int
	OriginWindow     time.Duration
	LockDuration     time.Duration
}

// Decision is the outcome of a pre-credential gate check.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

var allow = Decision{Allowed: true}

func blocked(reason string, retryAfter time.Duration) Decision {
	return Decision{Reason: reason, RetryAfter: retryAfter}
}

// Guard tracks failed login attempts per account and per origin address in
// two independent Redis windows. The origin window is checked before any
// account lookup so unknown identifiers burn the same budget as real ones.
type Guard struct {
	redis  redis.UniversalClient
	config Config
}

func New(redisClient redis.UniversalClient, cfg Config) *Guard {
	return &Guard{redis: redisClient, config: cfg}
}

func (g *Guard) accountKey(accountID string) string {
	return "lfa:" + accountID
}

func (g *Guard) originKey(origin string) string {
	return "lfo:" + origin
}

func (g *Guard) lockKey(accountID string) string {
	return "llk:" + accountID
}

// CheckOrigin gates on the per-origin failure window. It never touches
// counters and fails closed when Redis is unreachable.
func (g *Guard) CheckOrigin(ctx context.Context, origin string) Decision {
	if origin == "" {
		return allow
	}

	count, ttl, err := g.readCounter(ctx, g.originKey(origin))
	if err != nil {
		return blocked(ReasonUnavailable, 0)
	}
	if count >= int64(g.config.OriginThreshold) {
		return blocked(ReasonOriginThrottled, ttl)
	}
	return allow
}

// CheckAccount gates on the lock marker and the per-account failure window.
// A locked account reports the remaining lock duration and leaves all
// counters untouched.
func (g *Guard) CheckAccount(ctx context.Context, accountID string) Decision {
	if accountID == "" {
		return allow
	}

	remaining, err := g.redis.PTTL(ctx, g.lockKey(accountID)).Result()
	if err != nil {
		return blocked(ReasonUnavailable, 0)
	}
	if remaining > 0 {
		return blocked(ReasonAccountLocked, remaining)
	}

	// The counter check only matters in the window between the crossing
	// increment and the lock marker landing; once the marker is set the
	// counter is gone.
	count, ttl, err := g.readCounter(ctx, g.accountKey(accountID))
	if err != nil {
		return blocked(ReasonUnavailable, 0)
	}
	if count >= int64(g.config.AccountThreshold) {
		return blocked(ReasonAccountLocked, ttl)
	}
	return allow
}

// RecordFailure increments both windows for a failed attempt. It returns
// true only when this failure is the one that crosses the account threshold,
// so the caller emits exactly one lock event per episode.
func (g *Guard) RecordFailure(ctx context.Context, accountID, origin string) (bool, error) {
	var crossed bool

	if accountID != "" {
		count, err := g.incrementWithTTL(ctx, g.accountKey(accountID), g.config.AccountWindow)
		if err != nil {
			return false, err
		}
		if count == int64(g.config.AccountThreshold) {
			crossed = true
			if err := g.lock(ctx, accountID); err != nil {
				return false, err
			}
		}
	}

	if origin != "" {
		if _, err := g.incrementWithTTL(ctx, g.originKey(origin), g.config.OriginWindow); err != nil {
			return false, err
		}
	}

	return crossed, nil
}

// Reset clears the account window and lock marker after a fully completed
// authentication, and the origin window alongside it.
func (g *Guard) Reset(ctx context.Context, accountID, origin string) error {
	keys := make([]string, 0, 3)
	if accountID != "" {
		keys = append(keys, g.accountKey(accountID), g.lockKey(accountID))
	}
	if origin != "" {
		keys = append(keys, g.originKey(origin))
	}
	if len(keys) == 0 {
		return nil
	}

	if err := g.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// LockRemaining reports how long an account lock has left, zero if unlocked.
func (g *Guard) LockRemaining(ctx context.Context, accountID string) (time.Duration, error) {
	remaining, err := g.redis.PTTL(ctx, g.lockKey(accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// lock sets the lock marker and drops the account window counter in one
// transaction. The marker is the sole block authority for the episode:
// without the delete, a counter on a longer window TTL would keep the
// account blocked past LockDuration.
func (g *Guard) lock(ctx context.Context, accountID string) error {
	_, err := g.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, g.lockKey(accountID), 1, g.config.LockDuration)
		pipe.Del(ctx, g.accountKey(accountID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (g *Guard) readCounter(ctx context.Context, key string) (int64, time.Duration, error) {
	count, err := g.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ttl, err := g.redis.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return count, ttl, nil
}

func (g *Guard) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := g.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Window TTL is set only on the first failure; the counter expires as
	// a unit rather than per attempt.
	if count == 1 {
		if err := g.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return count, nil
}
