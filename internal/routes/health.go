package routes

import (
    "context"
    "errors"
    "net/http"
    "time"

    "github.com/gofiber/fiber/v2"
)

const readinessTimeout = 2 * time.Second

var errWalletOffline = errors.New("offline")

type check struct {
    name string
    run  func(ctx context.Context) error
}

// RegisterHealthRoutes adds /healthz for liveness and /readyz, which fails
// while a store or the wallet is unreachable.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
    app.Get("/healthz", func(c *fiber.Ctx) error {
        return c.JSON(fiber.Map{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339Nano)})
    })

    var checks []check
    if d.DB != nil {
        checks = append(checks, check{"postgres", func(ctx context.Context) error { return d.DB.Ping(ctx) }})
    }
    if d.Cache != nil {
        checks = append(checks, check{"redis", func(ctx context.Context) error { return d.Cache.Ping(ctx).Err() }})
    }
    if d.Chain != nil {
        checks = append(checks, check{"wallet", func(ctx context.Context) error {
            if !d.Chain.IsOnline(ctx) {
                return errWalletOffline
            }
            return nil
        }})
    }

    app.Get("/readyz", func(c *fiber.Ctx) error {
        ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
        defer cancel()

        status := http.StatusOK
        results := fiber.Map{}
        for _, ch := range checks {
            if err := ch.run(ctx); err != nil {
                results[ch.name] = err.Error()
                status = http.StatusServiceUnavailable
                continue
            }
            results[ch.name] = "ok"
        }
        return c.Status(status).JSON(fiber.Map{
            "status":    results,
            "timestamp": time.Now().UTC().Format(time.RFC3339Nano),
        })
    })
}
