package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTokenBucketScript runs the token bucket refill-and-consume
// atomically in Redis, so limits hold across API replicas.
// KEYS[1] = bucket key (e.g. "ratelimit:org:acme")
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = cost (tokens to consume)
// ARGV[4] = current unix timestamp (seconds, microsecond precision)
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return {allowed, tokens}
`)

// RedisRateLimiter is a distributed per-org token bucket. Use it instead
// of IPRateLimiter when the API runs behind a load balancer with more
// than one replica.
type RedisRateLimiter struct {
	client *redis.Client
	rps    float64
	burst  int
	logger *slog.Logger
}

// NewRedisRateLimiter creates a limiter against the given Redis address.
func NewRedisRateLimiter(addr, password string, db, rps, burst int, logger *slog.Logger) *RedisRateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRateLimiter{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		rps:    float64(rps),
		burst:  burst,
		logger: logger,
	}
}

// Allow consumes one token from the bucket for key.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := redisTokenBucketScript.Run(ctx, rl.client,
		[]string{"ratelimit:" + key}, rl.rps, rl.burst, 1, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("redis limiter: unexpected script response %T", res)
	}
	allowed, _ := results[0].(int64)
	return allowed == 1, nil
}

// Middleware enforces the distributed limit keyed by client IP. A Redis
// outage fails open: availability of the control plane wins over strict
// limiting, and the local IPRateLimiter still applies when stacked.
func (rl *RedisRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, err := rl.Allow(r.Context(), clientIP(r))
		if err != nil {
			rl.logger.Warn("distributed rate limiter unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			WriteTooManyRequests(w, 5)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Close releases the Redis connection.
func (rl *RedisRateLimiter) Close() error {
	return rl.client.Close()
}
