package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Each script is one server-side atomic read-modify-write; Redis runs
// scripts single-threaded, which is what makes concurrent checks safe.

var slidingWindowScript = redis.NewScript(`
local cutoff = tonumber(ARGV[1]) - tonumber(ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", cutoff)
local count = redis.call("ZCARD", KEYS[1])
if count < tonumber(ARGV[3]) then
  redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return {1, count + 1, tonumber(ARGV[1]) + tonumber(ARGV[2])}
end
local reset = tonumber(ARGV[1]) + tonumber(ARGV[2])
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
if oldest[2] then
  reset = tonumber(oldest[2]) + tonumber(ARGV[2])
end
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return {0, count, reset}
`)

var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if not tokens or not ts then
  tokens = capacity
  ts = tonumber(ARGV[1])
end
local elapsed = tonumber(ARGV[1]) - ts
if elapsed < 0 then elapsed = 0 end
tokens = tokens + elapsed * rate / 1000.0
if tokens > capacity then tokens = capacity end
local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end
redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return {allowed, tostring(tokens)}
`)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisStore keys live under "rl:" plus the (client, rule) key the limiter
// builds, so admission state is shared by every service instance.
type RedisStore struct {
	Client *redis.Client
	Prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client, Prefix: "rl:"}
}

func (s *RedisStore) SlidingWindow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error) {
	member := uuid.NewString()
	res, err := slidingWindowScript.Run(ctx, s.Client, []string{s.Prefix + key},
		now.UnixMilli(), window.Milliseconds(), limit, member).Result()
	if err != nil {
		return Decision{}, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 3 {
		return Decision{}, errMalformedReply
	}
	allowed := toInt64(vals[0]) == 1
	count := toInt64(vals[1])
	resetAt := time.UnixMilli(toInt64(vals[2]))
	return finishDecision(allowed, count, limit, resetAt, now), nil
}

func (s *RedisStore) TokenBucket(ctx context.Context, key string, capacity int, refillRate float64, ttl time.Duration, now time.Time) (Decision, error) {
	res, err := tokenBucketScript.Run(ctx, s.Client, []string{s.Prefix + key},
		now.UnixMilli(), capacity, refillRate, ttl.Milliseconds()).Result()
	if err != nil {
		return Decision{}, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return Decision{}, errMalformedReply
	}
	allowed := toInt64(vals[0]) == 1
	tokens := toFloat64(vals[1])
	return bucketDecision(allowed, tokens, capacity, refillRate, now), nil
}

func (s *RedisStore) FixedWindow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error) {
	bucket := now.UnixMilli() / window.Milliseconds()
	boundary := time.UnixMilli((bucket + 1) * window.Milliseconds())
	ttl := boundary.Sub(now).Milliseconds()
	if ttl <= 0 {
		ttl = window.Milliseconds()
	}
	bucketKey := fmt.Sprintf("%s%s:%d", s.Prefix, key, bucket)
	count, err := fixedWindowScript.Run(ctx, s.Client, []string{bucketKey}, ttl).Int64()
	if err != nil {
		return Decision{}, err
	}
	return finishDecision(count <= int64(limit), count, limit, boundary, now), nil
}
