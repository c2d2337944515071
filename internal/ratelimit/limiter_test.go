package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestLimiter connects to a local Redis instance and removes leftover
// test counters. Tests that call this helper require a running Redis on
// localhost:6379.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		iter := client.Scan(ctx, 0, KeyPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewLimiter(client)
}

func TestAllowUnderLimit(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Limit: 3, Window: 30 * time.Second}

	for i := 0; i < 3; i++ {
		if !limiter.Allow(ctx, "test_under", rule) {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	if limiter.Allow(ctx, "test_under", rule) {
		t.Error("attempt over the limit should be denied")
	}
}

func TestMessageSendQuota(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < RuleMessageSend.Limit; i++ {
		if !limiter.Allow(ctx, "test_quota", RuleMessageSend) {
			t.Fatalf("send %d should be allowed", i+1)
		}
	}
	if limiter.Allow(ctx, "test_quota", RuleMessageSend) {
		t.Errorf("send %d should be denied", RuleMessageSend.Limit+1)
	}
}

func TestWindowExpirySet(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Limit: 5, Window: 30 * time.Second}

	limiter.Allow(ctx, "test_ttl", rule)

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()
	ttl, err := client.TTL(ctx, KeyPrefix+"test_ttl").Result()
	if err != nil {
		t.Fatalf("TTL error: %v", err)
	}
	if ttl <= 0 || ttl > rule.Window {
		t.Errorf("counter TTL = %v, want within (0, %v]", ttl, rule.Window)
	}
}

func TestIndependentKeys(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Limit: 1, Window: 30 * time.Second}

	if !limiter.Allow(ctx, "test_key_a", rule) {
		t.Fatal("first use of key a should be allowed")
	}
	if limiter.Allow(ctx, "test_key_a", rule) {
		t.Error("second use of key a should be denied")
	}
	if !limiter.Allow(ctx, "test_key_b", rule) {
		t.Error("key b should be unaffected by key a's counter")
	}
}

func TestRemaining(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Limit: 5, Window: 30 * time.Second}

	if got := limiter.Remaining(ctx, "test_remaining", rule); got != 5 {
		t.Errorf("Remaining before any use = %d, want 5", got)
	}
	limiter.Allow(ctx, "test_remaining", rule)
	limiter.Allow(ctx, "test_remaining", rule)
	if got := limiter.Remaining(ctx, "test_remaining", rule); got != 3 {
		t.Errorf("Remaining after two uses = %d, want 3", got)
	}
}
