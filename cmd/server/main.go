package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"dahabpos/backend/internal/cache"
	"dahabpos/backend/internal/config"
	"dahabpos/backend/internal/httpapi"
	"dahabpos/backend/internal/logger"
	"dahabpos/backend/internal/pricing"
	"dahabpos/backend/internal/service"
	"dahabpos/backend/internal/store"
	"dahabpos/backend/internal/store/memory"
	pgstore "dahabpos/backend/internal/store/postgres"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		if cfg.RunMigrations {
			if err := pgstore.Migrate(cfg.DatabaseURL, log); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info("repository: in-memory")
	}

	snapshots := cache.SnapshotCache(cache.NoopSnapshotCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSnapshotCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.PriceCacheKey, cfg.PriceChannel, log.Named("cache"))
		if err := redisCache.Ping(startCtx); err != nil {
			log.Warn("redis unavailable, rates stay local to this instance", zap.Error(err))
			_ = redisCache.Close()
		} else {
			snapshots = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("cache: redis", zap.String("channel", cfg.PriceChannel))
		}
	} else {
		log.Info("cache: noop")
	}

	var poller *pricing.Poller
	if cfg.PriceFeedURL != "" {
		poller = pricing.NewPoller(cfg.PriceFeedURL, cfg.PricePollInterval, nil, log.Named("pricing"))
	}
	feed := pricing.NewFeed(pricing.NewCatalog(), snapshots, poller, log.Named("pricing"))
	if err := feed.Warm(startCtx); err != nil {
		log.Warn("rates not warmed", zap.Error(err))
	}

	svc := service.New(repo, feed, log)
	if err := svc.EnsureOwner(startCtx, cfg.SeedOwnerUsername, cfg.SeedOwnerPassword); err != nil {
		return fmt.Errorf("bootstrap store owner: %w", err)
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, svc)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		if err := feed.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("price feed stopped", zap.Error(err))
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		log.Info("jewelry POS backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-rootCtx.Done():
	case err, ok := <-serverErr:
		if ok {
			stop()
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	<-feedDone

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN must name a concrete origin")
	}
	if cfg.SeedOwnerPassword != "" && len(cfg.SeedOwnerPassword) < 8 {
		return fmt.Errorf("SEED_OWNER_PASSWORD must be at least 8 characters")
	}
	return nil
}
