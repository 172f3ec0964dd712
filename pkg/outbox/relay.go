package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Relay drives the dispatcher on an interval. It is the scheduled half of
// the outbox; the API exposes the same dispatch operations for manual runs.
type Relay struct {
	dispatcher   *Dispatcher
	logger       *zap.Logger
	pollInterval time.Duration
	batchSize    int
}

func NewRelay(dispatcher *Dispatcher, logger *zap.Logger, pollInterval time.Duration, batchSize int) *Relay {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		dispatcher:   dispatcher,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay starting",
		zap.Duration("poll_interval", r.pollInterval),
		zap.Int("batch_size", r.batchSize),
	)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay shutting down")
			return ctx.Err()
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

func (r *Relay) drain(ctx context.Context) {
	results, err := r.dispatcher.DispatchAll(ctx, r.batchSize)
	if err != nil {
		r.logger.Warn("outbox dispatch pass failed", zap.Error(err))
		return
	}
	for kind, stats := range results {
		if stats.Selected == 0 {
			continue
		}
		r.logger.Info("outbox batch dispatched",
			zap.String("kind", string(kind)),
			zap.Int("selected", stats.Selected),
			zap.Int("sent", stats.Sent),
			zap.Int("failed", stats.Failed),
		)
	}
}
