package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/customers"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/methods"
	"github.com/meridian-erp/meridian-erp/internal/orders"
	"github.com/meridian-erp/meridian-erp/internal/payments"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/recon"
	"github.com/meridian-erp/meridian-erp/internal/returns"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	queue, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("connect queue", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	customerRepo := customers.NewRepository(dbpool)
	methodRepo := methods.NewRepository(dbpool)
	saleRepo := sales.NewRepository(dbpool)
	paymentService := payments.NewService(payments.NewRepository(dbpool), customerRepo, methodRepo, logger)
	returnService := returns.NewService(returns.NewRepository(dbpool), saleRepo, logger)

	auditLogger := shared.NewAuditLogger(dbpool)
	notifier := orders.NewNotifier(dbpool, logger)
	reconService := recon.NewService(paymentService, returnService, auditLogger, notifier, queue, nil, logger)

	metrics := jobmetrics.NewMetrics(nil)
	refundJob := &jobs.RefundProcessJob{Recon: reconService, Logger: logger, Metrics: metrics}
	sweepJob := &jobs.RefundSweepJob{Recon: reconService, Logger: logger, Metrics: metrics, StaleAfter: cfg.RefundStaleAfter}
	orderJob := &jobs.OrderPaymentStatusJob{Recon: reconService, Logger: logger, Metrics: metrics}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeRefundProcess, Handler: refundJob.Handle},
			{Type: jobs.TaskTypeRefundSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskTypeOrderPaymentStatus, Handler: orderJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{
				Spec:    "@every " + cfg.RefundSweepInterval.String(),
				Task:    jobs.NewRefundSweepTask(),
				Options: []asynq.Option{asynq.MaxRetry(3)},
			},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
