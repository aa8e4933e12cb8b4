package server

import (
    "context"
    "fmt"
    "log/slog"
    "time"

    "github.com/gofiber/fiber/v2"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
    "github.com/redis/go-redis/v9"

    "github.com/congo-pay/tipvault/internal/auth"
    "github.com/congo-pay/tipvault/internal/chain"
    "github.com/congo-pay/tipvault/internal/config"
    "github.com/congo-pay/tipvault/internal/ledger"
    "github.com/congo-pay/tipvault/internal/logging"
    "github.com/congo-pay/tipvault/internal/metrics"
    "github.com/congo-pay/tipvault/internal/notification"
    "github.com/congo-pay/tipvault/internal/payments"
    "github.com/congo-pay/tipvault/internal/reconcile"
    "github.com/congo-pay/tipvault/internal/routes"
    "github.com/congo-pay/tipvault/internal/wallet"
    "github.com/congo-pay/tipvault/internal/withdrawal"
)

// Server wraps the Fiber application, the wallet facade and shared dependencies.
type Server struct {
    app      *fiber.App
    cfg      config.Config
    wallet   *wallet.Service
    outbound *notification.Async
}

// New wires storage, the reconciliation engine and services around engine,
// then delegates route wiring to routes.Setup. db and cache may be nil in
// development, in which case in-memory stores are used.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, engine chain.Engine, logger *slog.Logger) (*Server, error) {
    app := fiber.New(fiber.Config{
        AppName:      cfg.AppName,
        ReadTimeout:  30 * time.Second,
        WriteTimeout: 30 * time.Second,
    })

    registry := prometheus.NewRegistry()
    registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    m := metrics.New(registry)

    var store ledger.Store
    if db != nil {
        store = ledger.NewPostgresStore(db)
    } else {
        store = ledger.NewMemoryStore()
    }
    led := ledger.New(store)

    var pending reconcile.PendingStore
    if cache != nil {
        pending = reconcile.NewRedisPendingStore(cache, "")
    } else {
        pending = reconcile.NewMemoryPendingStore()
    }

    verifier, err := auth.NewVerifier(cfg.APIKeyHash)
    if err != nil {
        return nil, err
    }

    reconciler := reconcile.New(engine, led, pending, reconcile.Options{
        RetryInterval: cfg.ReconcileRetry,
        Logger:        logging.Component(logger, "reconcile"),
        Metrics:       m,
    })
    walletSvc := wallet.NewService(led, engine, reconciler, logging.Component(logger, "wallet"), m, cfg.NotifyQueueSize)

    // Tip and withdrawal notifications get their own queue so that request
    // latency never depends on the chat APIs.
    dispatcher := notification.NewDispatcher(notification.NewLoggerNotifier(logger), platformNotifiers(cfg)...)
    outbound := notification.NewAsync(dispatcher, cfg.NotifyQueueSize, logging.Component(logger, "notification"), m)
    paymentSvc := payments.NewService(led, outbound, logger, m)
    withdrawalSvc := withdrawal.NewService(led, engine, reconciler, outbound, logger, m)

    if err := routes.Setup(app, routes.Deps{
        Cfg:         cfg,
        DB:          db,
        Cache:       cache,
        Logger:      logger,
        Chain:       engine,
        Gatherer:    registry,
        Verifier:    verifier,
        Wallet:      wallet.NewHandler(walletSvc),
        Payments:    payments.NewHandler(paymentSvc),
        Withdrawals: withdrawal.NewHandler(withdrawalSvc),
    }); err != nil {
        return nil, err
    }

    return &Server{app: app, cfg: cfg, wallet: walletSvc, outbound: outbound}, nil
}

// Start launches the reconciliation engine and the notification worker. Both
// stop when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
    if err := s.wallet.Start(ctx, platformNotifiers(s.cfg)...); err != nil {
        return fmt.Errorf("start wallet service: %w", err)
    }
    go s.outbound.Run(ctx)
    return nil
}

// App exposes the Fiber application for tests.
func (s *Server) App() *fiber.App {
    return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
    return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
    return s.app.ShutdownWithContext(ctx)
}

func platformNotifiers(cfg config.Config) []notification.PlatformNotifier {
    var out []notification.PlatformNotifier
    if cfg.DiscordToken != "" {
        out = append(out, notification.NewDiscordNotifier("", cfg.DiscordToken))
    }
    if cfg.TelegramToken != "" {
        out = append(out, notification.NewTelegramNotifier("", cfg.TelegramToken))
    }
    return out
}
