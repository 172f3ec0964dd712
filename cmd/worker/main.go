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
	"go.uber.org/zap/zapcore"

	"github.com/enrolsync/enrolsync/pkg/apiserver"
	"github.com/enrolsync/enrolsync/pkg/classify"
	"github.com/enrolsync/enrolsync/pkg/config"
	"github.com/enrolsync/enrolsync/pkg/connector"
	"github.com/enrolsync/enrolsync/pkg/diff"
	"github.com/enrolsync/enrolsync/pkg/eventbus"
	"github.com/enrolsync/enrolsync/pkg/failure"
	"github.com/enrolsync/enrolsync/pkg/joblock"
	"github.com/enrolsync/enrolsync/pkg/outbox"
	"github.com/enrolsync/enrolsync/pkg/sink"
	"github.com/enrolsync/enrolsync/pkg/store/postgres"
	redisclient "github.com/enrolsync/enrolsync/pkg/store/redis"
	"github.com/enrolsync/enrolsync/pkg/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := buildLogger(&cfg.Logging)
	defer logger.Sync()

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	var bus *eventbus.Bus
	if len(cfg.Redis.Addresses) > 0 {
		redis, err := redisclient.NewClient(context.Background(), &cfg.Redis)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redis.Close()
		bus = eventbus.NewBus(redis.Client())
	}

	classifier, err := classify.New(cfg.Classifier)
	if err != nil {
		logger.Fatal("invalid classifier configuration", zap.Error(err))
	}

	recordRepo := postgres.NewSourceRecordRepository(db.DB())
	runRepo := postgres.NewRunLogRepository(db.DB())
	alertRepo := postgres.NewAlertRepository(db.DB())
	lockRepo := postgres.NewLockRepository(db.DB())
	outboxRepo := postgres.NewOutboxRepository(db.DB())

	locks := joblock.NewService(lockRepo, logger)
	failures := failure.NewEngine(alertRepo, cfg.Alerting.Cooldown, logger)
	engine := diff.NewEngine(recordRepo, logger)
	client := connector.NewHTTPClient(&cfg.Connector, logger)

	syncService := syncer.NewService(
		client, engine, classifier, failures, locks,
		runRepo, alertRepo, outboxRepo, busOrNil(bus),
		&cfg.Sync, logger,
	)

	dispatcher := outbox.NewDispatcher(
		outboxRepo,
		sink.NewSheetSender(&cfg.Sinks.Sheet, logger),
		sink.NewMessengerSender(&cfg.Sinks.Messenger, logger),
		locks, failures, &cfg.Outbox, logger,
	)

	server := apiserver.NewServer(apiserver.Deps{
		Sync:       syncService,
		Dispatcher: dispatcher,
		Outbox:     outboxRepo,
		Runs:       runRepo,
		Alerts:     alertRepo,
	}, cfg, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.ReadTimeout * 2,
	}

	go func() {
		logger.Info("starting worker API", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
}

// busOrNil keeps the service's nil check meaningful: a typed nil pointer
// must not masquerade as a usable publisher.
func busOrNil(bus *eventbus.Bus) syncer.EventPublisher {
	if bus == nil {
		return nil
	}
	return bus
}

func buildLogger(cfg *config.LoggingConfig) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if level, err := zapcore.ParseLevel(cfg.Level); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
