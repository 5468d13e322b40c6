package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vipcre/portal/internal/metrics"
)

const redisKeyPrefix = "portal:ratelimit:"

// allowScript prunes, counts, and conditionally admits in one atomic step.
// Running it as a script keeps two racing callers from both taking the last
// slot. Reply shape: {1, countAfterAdd} on admit, {0, count, oldestScore?}
// on denial.
var allowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
if count < tonumber(ARGV[2]) then
	redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
	return {1, count + 1}
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if oldest[2] then
	return {0, count, oldest[2]}
end
return {0, count}
`)

// RedisLimiter is the centralized Limiter for multi-instance deployments.
// Each (subject, resource) pair maps to a sorted set of admission timestamps.
//
// Redis outages fail open: a broken limiter must not take the data layer
// down with it, matching the cache's availability-over-strictness policy.
type RedisLimiter struct {
	client   *redis.Client
	size     time.Duration
	resolver LimitResolver
	logger   *zap.Logger
}

// NewRedisLimiter builds the Redis-backed limiter over an existing client.
func NewRedisLimiter(client *redis.Client, size time.Duration, resolver LimitResolver, logger *zap.Logger) *RedisLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{client: client, size: size, resolver: resolver, logger: logger}
}

func (r *RedisLimiter) Allow(ctx context.Context, subjectID, resource string) (Decision, error) {
	limit := r.resolver.WindowLimit(ctx, subjectID, resource)
	now := time.Now()
	key := redisKeyPrefix + subjectID + ":" + resource
	cutoff := now.Add(-r.size).UnixMilli()

	reply, err := allowScript.Run(ctx, r.client, []string{key},
		cutoff, limit, now.UnixMilli(), uuid.NewString(), r.size.Milliseconds()).Slice()
	if err != nil {
		r.logger.Warn("redis limiter unavailable, failing open",
			zap.String("resource", resource), zap.Error(err))
		return Decision{Allowed: true, Limit: limit, Remaining: limit, ResetAt: now.Add(r.size)}, nil
	}

	d := decisionFromScript(reply, limit, now, r.size)
	if d.Allowed {
		metrics.RateLimitDecisions.WithLabelValues(resource, "allowed").Inc()
	} else {
		metrics.RateLimitDecisions.WithLabelValues(resource, "denied").Inc()
	}
	return d, nil
}

// decisionFromScript maps the allowScript reply onto a Decision.
func decisionFromScript(reply []interface{}, limit int, now time.Time, size time.Duration) Decision {
	allowed := len(reply) > 0 && scriptInt(reply[0]) == 1
	var count int64
	if len(reply) > 1 {
		count = scriptInt(reply[1])
	}

	if allowed {
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - int(count),
			ResetAt:   now.Add(size),
		}
	}

	// the oldest member tells us when a slot actually frees up
	resetAt := now.Add(size)
	if len(reply) > 2 {
		if score, ok := reply[2].(string); ok {
			if ms, err := strconv.ParseFloat(score, 64); err == nil {
				resetAt = time.UnixMilli(int64(ms)).Add(size)
			}
		}
	}
	return Decision{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: time.Until(resetAt),
	}
}

func scriptInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

func (r *RedisLimiter) Close() error { return r.client.Close() }
