package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"fieldops-portal/internal/automation"
	"fieldops-portal/internal/billing"
	"fieldops-portal/internal/config"
	"fieldops-portal/internal/queue"
	"fieldops-portal/internal/store"
	"fieldops-portal/internal/telemetry"
	workerproc "fieldops-portal/internal/worker"
)

func main() {
	cfg := config.Load()
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "worker").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	db, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	q := queue.NewRedisQueue(queue.Options{
		Addr:              cfg.RedisAddr,
		Password:          cfg.RedisPassword,
		DB:                cfg.RedisDB,
		VisibilityTimeout: cfg.VisibilityTimeout,
		DLQName:           cfg.DLQName,
	})
	defer q.Close()

	billingSvc := billing.NewService(db, log)
	sweeper := automation.NewSweeper(db, billingSvc, cfg.ApprovalOverdueAfter, log)

	processor := workerproc.NewProcessor(cfg, q, log)
	workerproc.RegisterSweeps(processor, sweeper, cfg.AutomationInterval)
	workerproc.NewThumbnailHandler(cfg, log).Register(processor)
	processor.Seed(ctx)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	log.Info().
		Dur("visibility", cfg.VisibilityTimeout).
		Dur("automation_interval", cfg.AutomationInterval).
		Msg("worker started")
	if err := processor.Run(ctx); err != nil {
		log.Info().Err(err).Msg("worker stopped")
	}
}
