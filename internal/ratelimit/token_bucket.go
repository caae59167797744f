// Package ratelimit throttles submissions per submitter with a token bucket kept in Redis.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "reportq:rl"

// Bucket is disabled unless both fields are positive.
type Bucket struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

func (b Bucket) Enabled() bool {
	return b.RequestsPerMinute > 0 && b.BurstSize > 0
}

func (b Bucket) ratePerSecond() float64 { return float64(b.RequestsPerMinute) / 60.0 }

// ttl keeps idle bucket state for about two refill-to-full cycles, within [30s, 1h].
func (b Bucket) ttl() time.Duration {
	const minTTL, maxTTL = 30 * time.Second, time.Hour
	rate := b.ratePerSecond()
	if rate <= 0 || b.BurstSize <= 0 {
		return 2 * time.Minute
	}
	fill := float64(b.BurstSize) / rate
	ttl := time.Duration(math.Ceil(fill*2.0))*time.Second + 5*time.Second
	return min(max(ttl, minTTL), maxTTL)
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type Limiter interface {
	// Allow takes one token from the bucket of principal within scope.
	Allow(ctx context.Context, scope, principal string, bucket Bucket) (Decision, error)
}

type TokenBucketLimiter struct {
	rdb *redis.Client
	now func() time.Time
}

func NewTokenBucketLimiter(rdb *redis.Client) *TokenBucketLimiter {
	return &TokenBucketLimiter{rdb: rdb, now: time.Now}
}

var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local tokens = tonumber(redis.call("HGET", key, "tokens"))
local ts = tonumber(redis.call("HGET", key, "ts"))
if not tokens then tokens = capacity end
if not ts or now < ts then ts = now end

tokens = math.min(capacity, tokens + (now - ts) * (rate / 1000.0))

local allowed = 0
local retry_after_s = 60
if tokens >= 1.0 then
  allowed = 1
  retry_after_s = 0
  tokens = tokens - 1.0
elseif rate > 0 then
  retry_after_s = math.max(1, math.ceil((1.0 - tokens) / rate))
end

redis.call("HSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, ttl_ms)
return {allowed, retry_after_s}
`)

func (l *TokenBucketLimiter) Allow(ctx context.Context, scope, principal string, bucket Bucket) (Decision, error) {
	if l == nil || l.rdb == nil || !bucket.Enabled() {
		return Decision{Allowed: true}, nil
	}
	res, err := tokenBucketScript.Run(ctx, l.rdb,
		[]string{key(scope, principal)},
		bucket.ratePerSecond(), bucket.BurstSize, l.now().UTC().UnixMilli(), bucket.ttl().Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, err
	}
	vals, ok := res.([]any)
	if !ok || len(vals) < 2 {
		return Decision{}, fmt.Errorf("unexpected redis ratelimit response: %T", res)
	}
	if allowed, _ := vals[0].(int64); allowed == 1 {
		return Decision{Allowed: true}, nil
	}
	retryAfter, _ := vals[1].(int64)
	return Decision{RetryAfter: time.Duration(max(retryAfter, 1)) * time.Second}, nil
}

// key hashes the principal so user ids never appear in key names.
func key(scope, principal string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = "default"
	}
	principal = strings.TrimSpace(principal)
	if principal == "" {
		principal = "unknown"
	}
	sum := sha256.Sum256([]byte(principal))
	return fmt.Sprintf("%s:%s:%s", keyPrefix, scope, hex.EncodeToString(sum[:]))
}
