package routes

import (
    "fmt"
    "log/slog"
    "net/http"
    "time"

    "github.com/gofiber/fiber/v2"
    "github.com/gofiber/fiber/v2/middleware/adaptor"
    "github.com/gofiber/fiber/v2/middleware/recover"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "github.com/redis/go-redis/v9"

    "github.com/congo-pay/tipvault/internal/auth"
    "github.com/congo-pay/tipvault/internal/chain"
    "github.com/congo-pay/tipvault/internal/config"
    "github.com/congo-pay/tipvault/internal/middleware"
    "github.com/congo-pay/tipvault/internal/payments"
    "github.com/congo-pay/tipvault/internal/wallet"
    "github.com/congo-pay/tipvault/internal/withdrawal"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
    Cfg      config.Config
    DB       *pgxpool.Pool
    Cache    *redis.Client
    Logger   *slog.Logger
    Chain    chain.Engine
    Gatherer prometheus.Gatherer
    Verifier *auth.Verifier

    Wallet      *wallet.Handler
    Payments    *payments.Handler
    Withdrawals *withdrawal.Handler
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
    // Enforce DB/Redis presence outside of dev, even though config also checks.
    if !d.Cfg.IsDev() {
        if d.DB == nil {
            return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
        }
        if d.Cache == nil {
            return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
        }
        if d.Verifier == nil || !d.Verifier.Configured() {
            return fmt.Errorf("api key is required when APP_ENV=%s", d.Cfg.AppEnv)
        }
    }

    // Middlewares
    app.Use(recover.New())
    app.Use(middleware.RequestID())
    app.Use(middleware.Audit(d.Logger))

    // Health and metrics
    RegisterHealthRoutes(app, d)
    if d.Gatherer != nil {
        app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
    }

    // API routes
    api := app.Group("/api/v1")
    api.Get("/ping", func(c *fiber.Ctx) error {
        return c.Status(http.StatusOK).JSON(fiber.Map{
            "status":     "ok",
            "request_id": middleware.RequestIDFrom(c),
            "timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
        })
    })

    verifier := d.Verifier
    if verifier == nil {
        verifier, _ = auth.NewVerifier("")
    }
    protected := api.Group("", middleware.APIKey(verifier))
    if d.Cache != nil {
        protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
    }

    RegisterWalletRoutes(protected, d.Wallet)
    RegisterPaymentRoutes(protected, d.Payments)
    RegisterWithdrawalRoutes(protected, d.Withdrawals, middleware.WithdrawRateLimit(d.Cache, d.Cfg.WithdrawPerMin))

    return nil
}
