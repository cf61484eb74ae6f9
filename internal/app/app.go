package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bustix/bustix/internal/config"
	"github.com/bustix/bustix/internal/gateway"
	"github.com/bustix/bustix/internal/postgres"
	"github.com/bustix/bustix/internal/reconciler"
	redisx "github.com/bustix/bustix/internal/redis"
	postgresrepo "github.com/bustix/bustix/internal/repository/postgres"
	redisrepo "github.com/bustix/bustix/internal/repository/redis"
	"github.com/bustix/bustix/internal/service"
	"github.com/bustix/bustix/internal/service/inventory"
	"github.com/bustix/bustix/internal/service/ledger"
	"github.com/bustix/bustix/internal/service/query"
	httpgin "github.com/bustix/bustix/internal/transport/http/gin"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	reconciler *reconciler.Reconciler
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redisx.New(context.Background(), redisx.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.New(rdb)
	pubsub := redisx.NewSchedulesPubSub(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "bustix:v1:rl", 10, 1*time.Minute)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)

	// Initialize services
	services := service.NewServices(store, cache, pubsub, limiter, logger, service.Config{
		Inventory: inventory.Config{DefaultHoldTTL: cfg.HoldTTL},
		Ledger:    ledger.Config{HoldTTL: cfg.HoldTTL},
		Query:     query.Config{},
	})

	// Payment gateway client and reconciler
	verifier := gateway.New(gateway.Config{
		BaseURL: cfg.Gateway.BaseURL,
		APIKey:  cfg.Gateway.APIKey,
		Timeout: cfg.Gateway.Timeout,
	})

	rec := reconciler.New(
		services.Ledger,
		services.Inventory,
		verifier,
		logger,
		reconciler.Config{
			Interval:   cfg.Reconcile.Interval,
			StaleAfter: cfg.Reconcile.StaleAfter,
		},
	)

	// Initialize Gin router
	router := httpgin.NewRouter(services, idempotencyStore, logger)

	return &App{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
		reconciler: rec,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Start reconciliation loop
	g.Go(func() error {
		if err := a.reconciler.Run(gCtx); err != nil && err != context.Canceled {
			return fmt.Errorf("reconciler: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}
