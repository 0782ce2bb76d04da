package security

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gate-admission/internal/status"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

// RateLimiter counts requests per client in fixed one-minute windows kept in
// Redis, so every node behind the load balancer shares the same budget.
type RateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(redisClient *redis.Client, perMinute int) *RateLimiter {
	return &RateLimiter{redis: redisClient, limit: int64(perMinute), window: time.Minute}
}

func rateLimitKey(scope, client string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, client)
}

// Allow records one request for client in scope and reports whether it is
// still within the limit. The window starts with the first request.
func (r *RateLimiter) Allow(ctx context.Context, scope, client string) (bool, error) {
	key := rateLimitKey(scope, client)
	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, r.window).Err(); err != nil {
			return false, err
		}
	}
	return count <= r.limit, nil
}

// clientID rate limits signed in users by id and everyone else by address.
func clientID(e *core.RequestEvent) string {
	if e.Auth != nil {
		return "user:" + e.Auth.Id
	}
	return "ip:" + e.RealIP()
}

// QueueRateLimit limits the routes it is bound to. Redis being unavailable
// lets requests through rather than taking the queue down with it.
func (r *RateLimiter) QueueRateLimit(scope string) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		allowed, err := r.Allow(e.Request.Context(), scope, clientID(e))
		if err != nil {
			slog.Warn("rate limiter unavailable", "scope", scope, "error", err)
			return e.Next()
		}
		if !allowed {
			return apis.NewTooManyRequestsError(status.Message(status.ErrRateLimited), nil)
		}
		return e.Next()
	}
}

// AntiBotMiddleware rejects clients that announce themselves as crawlers.
func (r *RateLimiter) AntiBotMiddleware() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if isSuspiciousUserAgent(e.Request.Header.Get("User-Agent")) {
			return apis.NewForbiddenError("Access denied", nil)
		}
		return e.Next()
	}
}

func isSuspiciousUserAgent(ua string) bool {
	ua = strings.ToLower(ua)
	for _, pattern := range []string{"bot", "crawler", "spider", "scraper"} {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}
