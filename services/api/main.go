package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/hydrostat/basinflow/services/api/aggregate"
	"github.com/hydrostat/basinflow/services/api/cache"
	"github.com/hydrostat/basinflow/services/api/config"
	"github.com/hydrostat/basinflow/services/api/db"
	httpserver "github.com/hydrostat/basinflow/services/api/http"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("api exited", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RunMigrations {
		if err := runMigrations(cfg, logger); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
	}

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connect: %w", err)
	}
	defer store.Close()

	var cacheStore cache.Store
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedis(cfg.RedisURL, logger)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer redisCache.Close()
		cacheStore = redisCache
		logger.Info("result cache backed by redis")
	} else {
		cacheStore = cache.NewMemory()
		logger.Warn("REDIS_URL not set, using in-process result cache")
	}

	svc := aggregate.New(store, cacheStore, aggregate.Options{
		TimeseriesTTL:   cfg.TimeseriesTTL,
		UpstreamTTL:     cfg.UpstreamTTL,
		HourlyThreshold: cfg.HourlyThreshold,
		MaxRawPoints:    cfg.MaxRawPoints,
	}, logger)

	server := httpserver.New(cfg, store, svc, logger)
	logger.Info("api listening", zap.String("addr", cfg.ListenAddr()))
	return server.Run(ctx)
}

// runMigrations applies pending schema migrations. The migrate pgx driver
// registers under the pgx5:// scheme, so the postgres URL is rewritten.
func runMigrations(cfg config.Config, logger *zap.Logger) error {
	url := cfg.DatabaseURL
	if rest, ok := strings.CutPrefix(url, "postgresql://"); ok {
		url = "pgx5://" + rest
	} else if rest, ok := strings.CutPrefix(url, "postgres://"); ok {
		url = "pgx5://" + rest
	}

	m, err := migrate.New("file://"+cfg.MigrationsPath, url)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("schema up to date")
			return nil
		}
		return err
	}
	logger.Info("schema migrations applied")
	return nil
}
