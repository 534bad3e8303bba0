package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/idbridge/idbridge/pkg/observability"
)

// RateLimitConfig bounds login attempts per client per window
type RateLimitConfig struct {
	AttemptsPerWindow int
	WindowDuration    time.Duration
}

// DefaultRateLimitConfig returns sensible login-endpoint limits
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		AttemptsPerWindow: 10,
		WindowDuration:    time.Minute,
	}
}

// LoginRateLimiter is a Redis-backed fixed-window limiter for the
// authentication endpoints. Redis keeps the counters shared across
// instances; on Redis errors it fails open so an outage of the
// limiter backend does not take logins down with it.
type LoginRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
	logger *observability.Logger
}

// NewLoginRateLimiter creates a Redis-backed login limiter
func NewLoginRateLimiter(redisClient *redis.Client, config *RateLimitConfig, logger *observability.Logger) *LoginRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &LoginRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: "idbridge:login",
		logger: logger,
	}
}

// Allow reports whether another attempt is allowed for the key
func (rl *LoginRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.config.WindowDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}

	return incr.Val() <= int64(rl.config.AttemptsPerWindow), nil
}

// Remaining returns the attempts left in the current window
func (rl *LoginRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	count, err := rl.redis.Get(ctx, redisKey).Int()
	if err == redis.Nil {
		return rl.config.AttemptsPerWindow, nil
	} else if err != nil {
		return 0, err
	}

	remaining := rl.config.AttemptsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the counter for a key
func (rl *LoginRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Err()
}

// Handler wraps an HTTP handler with per-client login rate limiting
func (rl *LoginRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := "ip:" + ClientIP(r)

		allowed, err := rl.Allow(ctx, key)
		if err != nil {
			rl.logger.WithError(err).Warn("rate limiter unavailable, failing open")
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			retryAfter := int(rl.config.WindowDuration.Seconds())
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.config.AttemptsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"error":"rate limit exceeded","retry_after":%d}`, retryAfter)
			return
		}

		if remaining, err := rl.Remaining(ctx, key); err == nil {
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.config.AttemptsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		}

		next.ServeHTTP(w, r)
	})
}
