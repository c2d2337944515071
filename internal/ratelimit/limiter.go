// Package ratelimit provides Redis-backed rate limiting using the INCR +
// EXPIRE fixed-window algorithm. Each rate-checked action increments a
// per-key counter; the window TTL is established only on the first increment.
// The limiter fails open: a protective check must never turn a Redis outage
// into message loss.
package ratelimit

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roomchat/backend/internal/metrics"
)

// KeyPrefix is the Redis key prefix for all rate counters.
const KeyPrefix = "rate:"

// Rule defines a rate limiting policy: maximum number of attempts allowed in
// the window, and the window duration.
type Rule struct {
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleMessageSend is the default policy for message sends:
// 10 messages per 60 seconds per (room, sender).
var RuleMessageSend = Rule{Limit: 10, Window: 60 * time.Second}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow checks whether the given key is within the rate limit defined by
// rule. It atomically increments the counter and, on the first increment,
// sets the expiry to define the window boundary. EXPIRE is idempotent, so a
// racing second caller that also observes count 1 cannot extend the window.
//
// Returns true if the action is allowed, false if rate limited. On Redis
// errors the method fails open (returns true) so that a Redis outage does not
// block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, key string, rule Rule) bool {
	return l.Check(ctx, key, rule.Limit, rule.Window)
}

// Check applies a one-off policy of maxAttempts per window to key. Same
// semantics as Allow.
func (l *Limiter) Check(ctx context.Context, key string, maxAttempts int, window time.Duration) bool {
	rateKey := KeyPrefix + key

	count, err := l.client.Incr(ctx, rateKey).Result()
	if err != nil {
		log.Printf("[ratelimit] redis INCR error key=%s: %v (failing open)", rateKey, err)
		return true
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, rateKey, window).Err(); err != nil {
			log.Printf("[ratelimit] redis EXPIRE error key=%s: %v (failing open)", rateKey, err)
			// The key exists but has no TTL; it would persist and block the
			// key forever. Best effort: delete it.
			l.client.Del(ctx, rateKey)
			return true
		}
	}

	if count > int64(maxAttempts) {
		log.Printf("[ratelimit] limit exceeded key=%s count=%d max=%d", rateKey, count, maxAttempts)
		metrics.RateLimited.Inc()
		return false
	}
	return true
}

// Remaining returns the number of attempts the key has left in the current
// window. Returns the full limit if the key does not exist yet or on Redis
// errors (fail open).
func (l *Limiter) Remaining(ctx context.Context, key string, rule Rule) int {
	count, err := l.client.Get(ctx, KeyPrefix+key).Int()
	if errors.Is(err, redis.Nil) {
		return rule.Limit
	}
	if err != nil {
		log.Printf("[ratelimit] redis GET error key=%s: %v (failing open)", KeyPrefix+key, err)
		return rule.Limit
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}
