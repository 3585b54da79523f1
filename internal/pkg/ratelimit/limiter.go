package ratelimit

import (
	"context"
	"errors"
	"time"

	"mindmate-be/internal/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

// ErrRateLimited is returned by Middleware when a key exhausts its budget.
var ErrRateLimited = errors.New("too many requests")

type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Middleware throttles per client IP and route. Limiter errors fail open.
func Middleware(l Limiter, log logger.ILogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.IP() + "|" + c.Path()
		ctx, cancel := context.WithTimeout(c.UserContext(), 500*time.Millisecond)
		defer cancel()

		allowed, err := l.Allow(ctx, key)
		if err != nil {
			log.Warn("RATE_LIMIT", "Limiter unavailable, allowing request", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
			return c.Next()
		}
		if !allowed {
			return ErrRateLimited
		}
		return c.Next()
	}
}
