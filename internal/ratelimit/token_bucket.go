package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

// TokenBucket is a Redis-backed token bucket shared by every API replica.
type TokenBucket struct {
	client   *redis.Client
	prefix   string
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenBucket builds a bucket. Idle buckets expire after the time a full
// refill takes, so keys of inactive tenants do not pile up.
func NewTokenBucket(client *redis.Client, prefix string, capacity int, refillPerSecond float64) *TokenBucket {
	ttl := time.Minute
	if refillPerSecond > 0 {
		ttl = time.Duration(float64(capacity)/refillPerSecond*float64(time.Second)) + time.Minute
	}
	return &TokenBucket{
		client:   client,
		prefix:   prefix,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Allow takes one token from key's bucket when available.
func (b *TokenBucket) Allow(ctx context.Context, key string) (Decision, error) {
	now := b.now().UnixMilli()
	res, err := bucketScript.Run(ctx, b.client, []string{b.prefix + key}, b.capacity, b.refill, now, b.ttl.Milliseconds()).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) < 2 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected script reply %v", key, res)
	}

	allowed, _ := res[0].(int64)
	var remaining float64
	switch v := res[1].(type) {
	case int64:
		remaining = float64(v)
	case string:
		remaining, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return Decision{}, fmt.Errorf("rate limit %s: parse tokens: %w", key, err)
		}
	}

	d := Decision{Allowed: allowed == 1, Remaining: remaining}
	if !d.Allowed && b.refill > 0 {
		missing := 1 - remaining
		d.RetryAfter = time.Duration(math.Ceil(missing/b.refill*1000)) * time.Millisecond
	}
	return d, nil
}

// The remaining token count goes back as a string: Lua numbers are truncated
// to integers in Redis replies.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tostring(tokens)}
`)
