package middleware

import (
    "net/http"
    "strings"
    "time"

    "github.com/gofiber/fiber/v2"
    "github.com/redis/go-redis/v9"
)

const withdrawRateLimitPrefix = "tipvault:rl:withdraw:"

// WithdrawRateLimit caps withdrawals per user per minute using Redis if available.
func WithdrawRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
    if maxPerMin <= 0 {
        maxPerMin = 3
    }
    return func(c *fiber.Ctx) error {
        if cache == nil {
            return c.Next() // no-op without Redis
        }
        var req struct{ User string `json:"user"` }
        _ = c.BodyParser(&req)
        user := strings.ToLower(strings.TrimSpace(req.User))
        if user == "" {
            user = c.IP()
        }
        key := withdrawRateLimitPrefix + user
        cnt, err := cache.Incr(c.UserContext(), key).Result()
        if err == nil && cnt == 1 {
            cache.Expire(c.UserContext(), key, time.Minute)
        }
        if err != nil {
            return c.Next() // fail-open on cache errors
        }
        if cnt > int64(maxPerMin) {
            c.Set(fiber.HeaderRetryAfter, "60")
            return fiber.NewError(http.StatusTooManyRequests, "too many withdrawals, try again later")
        }
        return c.Next()
    }
}
