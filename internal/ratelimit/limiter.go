// Package ratelimit throttles chat actions and HTTP requests with fixed
// windows counted in Redis. Connection-scoped rules are keyed by connection
// id; address-scoped rules by client address.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is one throttling policy: at most Limit hits per Window for each
// identifier, counted under keys prefixed with Key.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

var (
	// RuleMessage: 5 chat messages per 10 seconds per connection.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 5, Window: 10 * time.Second}

	// RuleSearch: 10 search or next requests per minute per connection.
	RuleSearch = Rule{Key: "rl:search:", Limit: 10, Window: time.Minute}

	// RuleConnect: 20 WebSocket upgrades per minute per address.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 20, Window: time.Minute}

	// RuleAPI: 100 HTTP API requests per 15 minutes per address.
	RuleAPI = Rule{Key: "rl:api:", Limit: 100, Window: 15 * time.Minute}
)

// hitScript increments the window counter and starts the window on the
// first hit. A counter left without a TTL gets one too, so an identifier
// can never be locked out permanently.
var hitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Limiter counts hits in Redis. A nil *Limiter allows everything, which is
// how the server runs without Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow records a hit for identifier and reports whether it is within rule.
// A Redis failure allows the hit and returns the error so callers can log
// or count it.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	if l == nil {
		return true, nil
	}
	key := rule.Key + identifier

	count, err := hitScript.Run(ctx, l.client, []string{key}, rule.Window.Milliseconds()).Int64()
	if err != nil {
		log.Printf("[ratelimit] hit key=%s: %v (allowing)", key, err)
		return true, fmt.Errorf("ratelimit: allow: %w", err)
	}
	return count <= int64(rule.Limit), nil
}

// Remaining returns how many hits identifier has left in the current
// window. An unknown identifier has the full limit.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	if l == nil {
		return rule.Limit, nil
	}
	count, err := l.client.Get(ctx, rule.Key+identifier).Int()
	switch {
	case errors.Is(err, redis.Nil):
		return rule.Limit, nil
	case err != nil:
		return rule.Limit, fmt.Errorf("ratelimit: remaining: %w", err)
	}
	return max(rule.Limit-count, 0), nil
}

// RetryAfter returns how long until identifier's window for rule resets,
// or the full window when that cannot be determined.
func (l *Limiter) RetryAfter(ctx context.Context, identifier string, rule Rule) time.Duration {
	if l == nil {
		return 0
	}
	ttl, err := l.client.PTTL(ctx, rule.Key+identifier).Result()
	if err != nil || ttl <= 0 {
		return rule.Window
	}
	return ttl
}
