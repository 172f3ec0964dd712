package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/enrolsync/enrolsync/pkg/config"
	"github.com/enrolsync/enrolsync/pkg/failure"
	"github.com/enrolsync/enrolsync/pkg/joblock"
	"github.com/enrolsync/enrolsync/pkg/outbox"
	"github.com/enrolsync/enrolsync/pkg/sink"
	"github.com/enrolsync/enrolsync/pkg/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	outboxRepo := postgres.NewOutboxRepository(db.DB())
	alertRepo := postgres.NewAlertRepository(db.DB())
	lockRepo := postgres.NewLockRepository(db.DB())

	locks := joblock.NewService(lockRepo, logger)
	failures := failure.NewEngine(alertRepo, cfg.Alerting.Cooldown, logger)

	dispatcher := outbox.NewDispatcher(
		outboxRepo,
		sink.NewSheetSender(&cfg.Sinks.Sheet, logger),
		sink.NewMessengerSender(&cfg.Sinks.Messenger, logger),
		locks, failures, &cfg.Outbox, logger,
	)
	relay := outbox.NewRelay(dispatcher, logger, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := relay.Run(ctx); err != nil && err != context.Canceled {
			logger.Fatal("outbox relay stopped with error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("outbox relay shutting down")
	cancel()
}
