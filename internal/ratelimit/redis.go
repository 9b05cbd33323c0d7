package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/seeklabs/bloxscout/internal/clock"
)

// The script mirrors the memory backend: record the attempt, prune
// expired stamps, compare the count to the ceiling. Returns
// {allowed, count, retry_after_ms}.
const slidingWindowScript = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZADD", key, now_ms, member)
redis.call("ZREMRANGEBYSCORE", key, "-inf", now_ms - window_ms)
local count = redis.call("ZCARD", key)
redis.call("PEXPIRE", key, window_ms)

if count <= limit then
  return {1, count, 0}
end

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local retry_ms = 0
if oldest[2] then
  retry_ms = (tonumber(oldest[2]) + window_ms) - now_ms
  if retry_ms < 0 then
    retry_ms = 0
  end
end
return {0, count, retry_ms}
`

// RedisLimiter shares one window across replicas by keeping each
// identity's stamps in a sorted set, scored by milliseconds.
type RedisLimiter struct {
	client *redis.Client
	script *redis.Script
	cfg    Config
	clock  clock.Clock
}

func NewRedisLimiter(client *redis.Client, cfg Config, clk clock.Clock) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("rate limiter redis client is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &RedisLimiter{
		client: client,
		script: redis.NewScript(slidingWindowScript),
		cfg:    cfg,
		clock:  clk,
	}, nil
}

func (l *RedisLimiter) Admit(ctx context.Context, identity string) (Decision, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Decision{}, ErrInvalidIdentity
	}

	nowMS := l.clock.Now().UnixMilli()
	// Members must be unique even when two attempts land on the same
	// millisecond.
	member := fmt.Sprintf("%d-%s", nowMS, uuid.NewString())

	res, err := l.script.Run(
		ctx,
		l.client,
		[]string{l.key(identity)},
		nowMS,
		l.cfg.Window.Milliseconds(),
		l.cfg.Limit,
		member,
	).Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) < 3 {
		return Decision{}, errors.New("invalid rate limit script response")
	}

	allowed := castToInt(res[0]) == 1
	count := int(castToInt(res[1]))
	retryAfter := time.Duration(castToInt(res[2])) * time.Millisecond

	decision := Decision{
		Allowed:    allowed,
		Limit:      l.cfg.Limit,
		RetryAfter: retryAfter,
	}
	if allowed && count <= l.cfg.Limit {
		decision.Remaining = l.cfg.Limit - count
	}
	return decision, nil
}

func (l *RedisLimiter) key(identity string) string {
	prefix := l.cfg.KeyPrefix
	if prefix == "" {
		prefix = "ratelimit"
	}
	return fmt.Sprintf("%s:window:%s", prefix, identity)
}

func castToInt(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	default:
		return 0
	}
}
