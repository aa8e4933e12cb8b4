package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	applicationName = "tipvault"
	poolIdleTimeout = 5 * time.Minute
)

// Stores holds the optional backing stores. A nil field makes the service
// keep that state in memory.
type Stores struct {
	DB    *pgxpool.Pool
	Cache *redis.Client
}

// OpenStores connects to every store whose URL is set and warns about the
// ones left in memory. Postgres sessions carry the service name as
// application_name.
func OpenStores(ctx context.Context, databaseURL, redisURL string, logger *slog.Logger) (*Stores, error) {
	s := &Stores{}
	var err error
	if databaseURL != "" {
		if s.DB, err = NewPostgresPool(ctx, databaseURL); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("DATABASE_URL not set, balances are kept in memory")
	}

	if redisURL != "" {
		if s.Cache, err = NewRedisClient(ctx, redisURL); err != nil {
			s.Close()
			return nil, err
		}
	} else {
		logger.Warn("REDIS_URL not set, pending deposits and idempotency keys are kept in memory")
	}
	return s, nil
}

// Close releases every open store.
func (s *Stores) Close() error {
	var err error
	if s.Cache != nil {
		err = s.Cache.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	return err
}

// NewPostgresPool opens a pool tagged with the service name and checks it
// answers.
func NewPostgresPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, errors.New("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	cfg.MaxConnIdleTime = poolIdleTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// NewRedisClient parses url and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
