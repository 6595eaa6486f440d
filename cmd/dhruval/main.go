package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/app"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/consignment"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/grn"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/observability"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/platform/cache"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/platform/db"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/shared"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/stock"
	"github.com/CoderMasters4/Dhruval-Erp-sub003/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	locker := shared.NewEntityLocker(redisClient, cfg.LockTTL)
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	stockRepo := stock.NewRepository(pool)
	stockService := stock.NewService(stockRepo, auditLogger)
	stockHandler := stock.NewHandler(logger, stockService)

	consignmentRepo := consignment.NewRepository(pool)
	consignmentService := consignment.NewService(consignmentRepo, stockService, locker, auditLogger)
	consignmentHandler := consignment.NewHandler(logger, consignmentService)

	grnRepo := grn.NewRepository(pool)
	grnService := grn.NewService(grnRepo, stockService, consignmentService, locker, auditLogger, nil, cfg.StockThresholds(), logger)
	grnHandler := grn.NewHandler(logger, grnService, idempotencyStore)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		GRNHandler:         grnHandler,
		ConsignmentHandler: consignmentHandler,
		StockHandler:       stockHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
		Pool:               pool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", slog.Any("error", err))
	}
}
