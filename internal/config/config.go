package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/congo-pay/tipvault/internal/chain"
)

const (
	defaultAppName         = "tipvault"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultRetryInterval   = 5 * time.Second
	defaultNotifyQueue     = 256
	defaultWithdrawPerMin  = 3
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
	retryIntervalEnvVar    = "RECONCILE_RETRY_INTERVAL"
	notifyQueueEnvVar      = "NOTIFY_QUEUE_SIZE"
	withdrawRateEnvVar     = "WITHDRAW_RATE_PER_MIN"
	simulatedFeeEnvVar     = "SIMULATED_FEE"

	// WalletModeSimulated runs against the in-process simulated wallet.
	WalletModeSimulated = "simulated"
	// WalletModeRPC runs against a remote wallet daemon.
	WalletModeRPC = "rpc"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	LogFormat      string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	APIKeyHash     string

	WalletMode        string
	WalletNetwork     chain.Network
	WalletRPCURL      string
	WalletRPCUser     string
	WalletRPCPassword string
	DaemonAddress     string
	SimulatedFee      uint64

	DiscordToken  string
	TelegramToken string

	ReconcileRetry  time.Duration
	NotifyQueueSize int
	WithdrawPerMin  int
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:         strings.ToLower(os.Getenv("LOG_FORMAT")),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		ShutdownPeriod:    defaultShutdownDelay,
		IdempotencyTTL:    defaultIdempotencyTTL,
		APIKeyHash:        os.Getenv("API_KEY_HASH"),
		WalletMode:        strings.ToLower(getEnv("WALLET_MODE", WalletModeSimulated)),
		WalletRPCURL:      os.Getenv("WALLET_RPC_URL"),
		WalletRPCUser:     os.Getenv("WALLET_RPC_USER"),
		WalletRPCPassword: os.Getenv("WALLET_RPC_PASSWORD"),
		DaemonAddress:     os.Getenv("DAEMON_ADDRESS"),
		DiscordToken:      os.Getenv("DISCORD_TOKEN"),
		TelegramToken:     os.Getenv("TELEGRAM_TOKEN"),
		ReconcileRetry:    defaultRetryInterval,
		NotifyQueueSize:   defaultNotifyQueue,
		WithdrawPerMin:    defaultWithdrawPerMin,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationFromEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationFromEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if v := os.Getenv(retryIntervalEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", retryIntervalEnvVar, err)
		}
		cfg.ReconcileRetry = d
	}
	if cfg.NotifyQueueSize, err = intFromEnv(notifyQueueEnvVar, defaultNotifyQueue); err != nil {
		return Config{}, err
	}
	if cfg.WithdrawPerMin, err = intFromEnv(withdrawRateEnvVar, defaultWithdrawPerMin); err != nil {
		return Config{}, err
	}
	if v := os.Getenv(simulatedFeeEnvVar); v != "" {
		fee, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", simulatedFeeEnvVar, err)
		}
		cfg.SimulatedFee = fee
	}

	network, err := chain.ParseNetwork(getEnv("WALLET_NETWORK", string(chain.Mainnet)))
	if err != nil {
		return Config{}, fmt.Errorf("invalid WALLET_NETWORK: %w", err)
	}
	cfg.WalletNetwork = network

	switch cfg.WalletMode {
	case WalletModeSimulated:
	case WalletModeRPC:
		if cfg.WalletRPCURL == "" {
			return Config{}, fmt.Errorf("WALLET_RPC_URL must be set when WALLET_MODE=%s", WalletModeRPC)
		}
	default:
		return Config{}, fmt.Errorf("invalid WALLET_MODE %q", cfg.WalletMode)
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
		if cfg.APIKeyHash == "" {
			return Config{}, fmt.Errorf("API_KEY_HASH must be set")
		}
		if cfg.WalletMode == WalletModeSimulated {
			return Config{}, fmt.Errorf("WALLET_MODE=%s is only allowed in development", WalletModeSimulated)
		}
	}

	return cfg, nil
}

// IsDev reports whether the app runs in a development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationFromEnv prefers the integer seconds variable over the duration one.
func durationFromEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
