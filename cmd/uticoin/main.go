// Package main запускает HTTP-сервер движка UTI-коинов.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/uticoin/internal/catalog"
	"github.com/mmeshcher/uticoin/internal/config"
	"github.com/mmeshcher/uticoin/internal/handler"
	"github.com/mmeshcher/uticoin/internal/middleware"
	"github.com/mmeshcher/uticoin/internal/repository"
	"github.com/mmeshcher/uticoin/internal/service"
)

// storage служит и хранилищем движка, и источником процентов товаров без внешнего каталога.
type storage interface {
	service.Repository
	catalog.Lookup
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	loc, err := cfg.Location()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var repo storage
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo = pg
	} else {
		sugar.Warn("DATABASE_URI is not set, using in-memory storage")
		repo = repository.NewMemoryRepository()
	}

	var source catalog.Lookup = repo
	if cfg.CatalogAddress != "" {
		source = catalog.NewClient(cfg.CatalogAddress)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := catalog.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		sugar.Fatalw("redis initialization error", "error", err.Error())
	}
	if rdb != nil {
		defer rdb.Close()
	}
	products := catalog.NewCache(rdb, source, cfg.CatalogCacheTTL, logger)

	svc := service.NewService(repo, products, logger, service.Settings{
		Location:  loc,
		ResetHour: cfg.BonusResetHour,
	})
	defer svc.Close()

	if cfg.JWTSecret == "" {
		sugar.Warn("JWT_SECRET is not set, API tokens cannot be verified")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.AllowedOrigins...)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	svc.StartOrderSweeper(ctx, cfg.OrderSweepInterval)

	g.Go(func() error {
		sugar.Infow("starting uticoin server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
