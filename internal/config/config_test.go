package config

import (
	"testing"
	"time"

	"github.com/congo-pay/tipvault/internal/chain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("WALLET_NETWORK", "")
	t.Setenv("WALLET_MODE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WalletMode != WalletModeSimulated || cfg.WalletNetwork != chain.Mainnet {
		t.Fatalf("unexpected wallet defaults %q %q", cfg.WalletMode, cfg.WalletNetwork)
	}
	if cfg.ShutdownPeriod != 10*time.Second || cfg.IdempotencyTTL != 24*time.Hour {
		t.Fatalf("unexpected durations %v %v", cfg.ShutdownPeriod, cfg.IdempotencyTTL)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "3")
	t.Setenv("IDEMPOTENCY_TTL", "90m")
	t.Setenv("RECONCILE_RETRY_INTERVAL", "250ms")
	t.Setenv("WALLET_NETWORK", "testnet")
	t.Setenv("SIMULATED_FEE", "1000")
	t.Setenv("PORT", ":9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ShutdownPeriod != 3*time.Second {
		t.Fatalf("expected 3s shutdown, got %v", cfg.ShutdownPeriod)
	}
	if cfg.IdempotencyTTL != 90*time.Minute {
		t.Fatalf("expected 90m ttl, got %v", cfg.IdempotencyTTL)
	}
	if cfg.ReconcileRetry != 250*time.Millisecond {
		t.Fatalf("expected 250ms retry, got %v", cfg.ReconcileRetry)
	}
	if cfg.WalletNetwork != chain.Testnet || cfg.SimulatedFee != 1000 {
		t.Fatalf("unexpected wallet config %+v", cfg)
	}
	if cfg.Address() != ":9000" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"SHUTDOWN_TIMEOUT_SECONDS": "soon",
		"NOTIFY_QUEUE_SIZE":        "many",
		"WALLET_NETWORK":           "moon",
		"WALLET_MODE":              "carrier-pigeon",
		"SIMULATED_FEE":            "-1",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("APP_ENV", "development")
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}

func TestLoadProductionRequirements(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("WALLET_MODE", "rpc")
	t.Setenv("WALLET_RPC_URL", "http://127.0.0.1:8081")
	t.Setenv("DATABASE_URL", "postgres://localhost/tipvault")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("API_KEY_HASH", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected API_KEY_HASH to be required")
	}

	t.Setenv("API_KEY_HASH", "$2a$10$abcdefghijklmnopqrstuv")
	if _, err := Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	t.Setenv("WALLET_MODE", "simulated")
	if _, err := Load(); err == nil {
		t.Fatalf("expected simulated wallet to be refused in production")
	}
}

func TestLoadRPCRequiresURL(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("WALLET_MODE", "rpc")
	t.Setenv("WALLET_RPC_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected WALLET_RPC_URL to be required")
	}
}
