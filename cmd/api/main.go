package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fieldops-portal/internal/api"
	"fieldops-portal/internal/auth"
	"fieldops-portal/internal/billing"
	"fieldops-portal/internal/bulk"
	"fieldops-portal/internal/checklist"
	"fieldops-portal/internal/config"
	"fieldops-portal/internal/evidence"
	"fieldops-portal/internal/payout"
	"fieldops-portal/internal/queue"
	"fieldops-portal/internal/statemachine"
	"fieldops-portal/internal/store"
)

func main() {
	cfg := config.Load()
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api").Logger()

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

	uploader, err := evidence.NewUploader(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init evidence uploader")
	}
	resolver, err := auth.ParseStaticTokens(cfg.SessionTokensJSON)
	if err != nil {
		log.Fatal().Err(err).Msg("load session tokens")
	}

	sm := statemachine.New(db, log)
	checklistEngine := checklist.NewEngine(db, sm, log)
	actions := bulk.NewActions(db, sm, log)
	bulkEngine := bulk.NewEngine(db, actions, log)
	billingSvc := billing.NewService(db, log)
	payoutSvc := payout.NewService(db, sm, log)
	evidenceSvc := evidence.NewService(db, uploader, q, cfg.MaxPhotoBytes, log)

	server := api.New(cfg, api.Deps{
		DB:        db,
		Machine:   sm,
		Checklist: checklistEngine,
		Actions:   actions,
		Bulk:      bulkEngine,
		Billing:   billingSvc,
		Payout:    payoutSvc,
		Evidence:  evidenceSvc,
		Resolver:  resolver,
	}, log)

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Info().Str("port", cfg.HTTPPort).Msg("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
