package security

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter caps actions per identity per minute. With Redis the count is
// shared across processes; without it, or when Redis fails, a token bucket
// per identity is used instead.
type RateLimiter struct {
	redis     redis.Cmdable
	perMinute int

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

func NewRateLimiter(redisClient redis.Cmdable, perMinute int) *RateLimiter {
	return &RateLimiter{
		redis:     redisClient,
		perMinute: perMinute,
		local:     make(map[string]*rate.Limiter),
	}
}

// Allow records one action for userID and reports whether it is within limits.
func (r *RateLimiter) Allow(ctx context.Context, userID string) bool {
	return r.allow(ctx, fmt.Sprintf("ratelimit:user:%s", userID))
}

// Forget drops the in-memory bucket for userID.
func (r *RateLimiter) Forget(userID string) {
	r.mu.Lock()
	delete(r.local, fmt.Sprintf("ratelimit:user:%s", userID))
	r.mu.Unlock()
}

func (r *RateLimiter) allow(ctx context.Context, key string) bool {
	if r.perMinute <= 0 {
		return true
	}
	if r.redis != nil {
		count, err := r.redis.Incr(ctx, key).Result()
		if err == nil {
			if count == 1 {
				r.redis.Expire(ctx, key, time.Minute)
			}
			return count <= int64(r.perMinute)
		}
		slog.Warn("Rate limiter falling back to memory", "key", key, "error", err)
	}
	return r.bucket(key).Allow()
}

func (r *RateLimiter) bucket(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.local[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(r.perMinute)/60), r.perMinute)
		r.local[key] = l
	}
	return l
}

// Anti-bot protection
func (r *RateLimiter) AntiBotMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userAgent := c.Request().Header.Get("User-Agent")
			if r.isSuspiciousUserAgent(userAgent) {
				return c.JSON(403, map[string]string{
					"error": "Access denied",
				})
			}

			key := fmt.Sprintf("antibot:%s", c.RealIP())
			if !r.allow(c.Request().Context(), key) {
				return c.JSON(429, map[string]string{
					"error": "Too many requests",
				})
			}

			return next(c)
		}
	}
}

func (r *RateLimiter) isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	for _, pattern := range suspicious {
		if strings.Contains(strings.ToLower(ua), pattern) {
			return true
		}
	}
	return false
}
