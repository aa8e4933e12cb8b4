package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/congo-pay/tipvault/internal/chain"
	"github.com/congo-pay/tipvault/internal/chain/rpc"
	"github.com/congo-pay/tipvault/internal/config"
	"github.com/congo-pay/tipvault/internal/infra"
	"github.com/congo-pay/tipvault/internal/logging"
	"github.com/congo-pay/tipvault/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	stores, err := infra.OpenStores(ctx, cfg.DatabaseURL, cfg.RedisURL, logger)
	if err != nil {
		logger.Error("open stores", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Warn("close stores", "error", err)
		}
	}()

	engine, err := openWallet(ctx, cfg)
	if err != nil {
		logger.Error("open wallet", "error", err)
		os.Exit(1)
	}
	if closer, ok := engine.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Warn("close wallet", "error", err)
			}
		}()
	}

	srv, err := server.New(cfg, stores.DB, stores.Cache, engine, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}
	if err := srv.Start(ctx); err != nil {
		logger.Error("start services", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}

func openWallet(ctx context.Context, cfg config.Config) (chain.Engine, error) {
	switch cfg.WalletMode {
	case config.WalletModeRPC:
		return rpc.Open(ctx, rpc.Config{
			URL:           cfg.WalletRPCURL,
			User:          cfg.WalletRPCUser,
			Password:      cfg.WalletRPCPassword,
			Network:       cfg.WalletNetwork,
			DaemonAddress: cfg.DaemonAddress,
		})
	default:
		return chain.NewSimulated(cfg.WalletNetwork, cfg.SimulatedFee), nil
	}
}
