package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/costume-atelier/atelier-api/config"
	"github.com/costume-atelier/atelier-api/jobs"
	"github.com/costume-atelier/atelier-api/services"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

const outboxBatchSize = 50

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	if cfg.RedisAddr == "" {
		logger.Error("REDIS_ADDR is required to run the worker")
		os.Exit(1)
	}

	if err := config.ConnectDatabase(cfg); err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	db := config.GetDB()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	client := jobs.NewClient(redisOpts)
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	relay := services.NewOutboxRelay(db, client)
	go relay.Run(ctx, cfg.OutboxPollInterval, outboxBatchSize)

	mailer, err := services.NewSMTPMailer(cfg)
	if err != nil {
		logger.Error("init mailer", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := jobs.NewMetrics(prometheus.DefaultRegisterer)
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Email:     jobs.NewEmailHandler(mailer, db, metrics),
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", "outbox_interval", cfg.OutboxPollInterval)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
