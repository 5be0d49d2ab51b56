package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps infrastructure failures talking to Redis.
var ErrRedisUnavailable = errors.New("rate limiter redis unavailable")

// Result is one limiter decision.
type Result struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Limiter is a fixed-window Redis counter limiter. Every call counts one
// attempt against the key's window; the window starts at the first hit and
// is never slid.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a Limiter. prefix namespaces all counter keys.
func New(redisClient redis.UniversalClient, prefix string) *Limiter {
	if prefix == "" {
		prefix = "avr"
	}
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (l *Limiter) key(name string) string {
	return l.prefix + ":" + name
}

// Limit counts one attempt against key and reports whether it fits the
// budget of max attempts per window. The attempt is counted even when
// denied; abusive callers keep pushing their reset point.
func (l *Limiter) Limit(ctx context.Context, key string, max int, window time.Duration) (Result, error) {
	counterKey := l.key(key)

	count, err := l.redis.Incr(ctx, counterKey).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, counterKey, window).Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	ttl, err := l.redis.PTTL(ctx, counterKey).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		ttl = window
	}

	remaining := max - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   count <= int64(max),
		Remaining: remaining,
		Limit:     max,
		ResetAt:   time.Now().Add(ttl),
	}, nil
}

// Reset clears the counter for key, forgiving all attempts in the current
// window.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
