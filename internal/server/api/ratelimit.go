package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimiter throttles websocket upgrades per client IP with a redis
// counter, so one misbehaving client cannot churn connections across the
// whole fleet. Fails open when redis is unreachable.
type RateLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRateLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

func (r *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if r == nil || r.client == nil {
			return c.Next()
		}
		ctx := context.Background()
		key := r.prefix + ":ratelimit:" + c.IP()
		count, err := r.client.Incr(ctx, key).Result()
		if err != nil {
			return c.Next()
		}
		if count == 1 {
			r.client.Expire(ctx, key, r.window)
		}
		if count > int64(r.limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded"})
		}
		return c.Next()
	}
}
