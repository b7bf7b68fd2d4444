package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*Limiter, *redis.Client) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	clean := func() {
		iter := client.Scan(ctx, 0, "rl:test:*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return NewLimiter(client), client
}

func TestAllow_WithinAndOverLimit(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:allow:", Limit: 3, Window: time.Minute}

	for i := 1; i <= 3; i++ {
		ok, err := l.Allow(ctx, "conn1", rule)
		if err != nil {
			t.Fatalf("Allow() #%d error: %v", i, err)
		}
		if !ok {
			t.Fatalf("Allow() #%d denied within limit", i)
		}
	}
	if ok, _ := l.Allow(ctx, "conn1", rule); ok {
		t.Error("expected 4th request denied")
	}

	// Other identifiers have their own window.
	if ok, _ := l.Allow(ctx, "conn2", rule); !ok {
		t.Error("limit leaked across identifiers")
	}
}

func TestRemainingAndRetryAfter(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:remaining:", Limit: 5, Window: time.Minute}

	if n, _ := l.Remaining(ctx, "x", rule); n != 5 {
		t.Errorf("Remaining() before use = %d, want 5", n)
	}
	l.Allow(ctx, "x", rule)
	l.Allow(ctx, "x", rule)
	if n, _ := l.Remaining(ctx, "x", rule); n != 3 {
		t.Errorf("Remaining() = %d, want 3", n)
	}

	d := l.RetryAfter(ctx, "x", rule)
	if d <= 0 || d > time.Minute {
		t.Errorf("RetryAfter() = %s, want within (0, 1m]", d)
	}
}

func TestAllow_WindowExpires(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:expire:", Limit: 1, Window: time.Second}

	l.Allow(ctx, "y", rule)
	if ok, _ := l.Allow(ctx, "y", rule); ok {
		t.Fatal("expected second request denied")
	}
	time.Sleep(1100 * time.Millisecond)
	if ok, _ := l.Allow(ctx, "y", rule); !ok {
		t.Error("expected request allowed after window expiry")
	}
}

func TestNilLimiterAllows(t *testing.T) {
	var l *Limiter
	ctx := context.Background()

	ok, err := l.Allow(ctx, "z", RuleMessage)
	if !ok || err != nil {
		t.Errorf("nil Limiter Allow() = %v, %v", ok, err)
	}
	if n, _ := l.Remaining(ctx, "z", RuleMessage); n != RuleMessage.Limit {
		t.Errorf("nil Limiter Remaining() = %d", n)
	}
}

func TestAllow_RepairsCounterWithoutTTL(t *testing.T) {
	l, client := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:nottl:", Limit: 10, Window: time.Minute}

	if err := client.Set(ctx, rule.Key+"w", 3, 0).Err(); err != nil {
		t.Fatalf("seed counter: %v", err)
	}
	if ok, err := l.Allow(ctx, "w", rule); !ok || err != nil {
		t.Fatalf("Allow() = %v, %v", ok, err)
	}
	ttl, err := client.PTTL(ctx, rule.Key+"w").Result()
	if err != nil {
		t.Fatalf("PTTL: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL after Allow() = %s, want within (0, 1m]", ttl)
	}
}
