package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yourorg/holdings-ledger/internal/config"
	"github.com/yourorg/holdings-ledger/internal/gateway"
	"github.com/yourorg/holdings-ledger/internal/ledger"
	pgRepo "github.com/yourorg/holdings-ledger/internal/repository/postgres"
	redisRepo "github.com/yourorg/holdings-ledger/internal/repository/redis"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pgRepo.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database connected")

	if err := pgRepo.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		logger.Error("failed to run migrations", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	created, err := pgRepo.EnsureIndexes(ctx, db, pgRepo.NewSchema())
	if err != nil {
		logger.Error("failed to ensure indexes", "err", err)
		os.Exit(1)
	}
	logger.Info("indexes ensured", "created", created)

	feed, err := redisRepo.DialPortfolioFeed(ctx, cfg.RedisURL, cfg.SnapshotTTL)
	if err != nil {
		logger.Error("failed to connect to redis", "err", err)
		os.Exit(1)
	}
	defer feed.Close()
	logger.Info("redis connected")

	userRepo := pgRepo.NewUserRepo(db)
	stockRepo := pgRepo.NewStockRepo(db)
	portfolioRepo := pgRepo.NewPortfolioRepo(db)
	eventRepo := pgRepo.NewEventRepo(db)

	synchronizer := ledger.NewSynchronizer(eventRepo, portfolioRepo, userRepo, stockRepo, feed,
		ledger.Options{MaxAttempts: cfg.LedgerMaxAttempts, BaseDelay: cfg.LedgerRetryBaseDelay},
		logger)
	query := ledger.NewEventQuery(eventRepo)

	health := gateway.NewHealthChecker(2*time.Second, map[string]gateway.PingFunc{
		"postgres": db.PingContext,
		"redis":    feed.Ping,
	})

	hub := gateway.NewHub(feed, logger)
	handlers := gateway.NewHandlers(synchronizer, query, userRepo, stockRepo, portfolioRepo, health, logger)
	router := gateway.NewRouter(handlers, hub, cfg.CORSOrigins)

	go hub.Run(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	grpcServer := gateway.NewGRPCServer(health, logger)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Error("failed to listen for grpc", "err", err)
		os.Exit(1)
	}
	go func() {
		logger.Info("grpc health server starting", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	grpcServer.GracefulStop()
	logger.Info("server stopped")
}
