package worker

import (
	"context"
	"time"

	"order-engine/internal/store"
	"order-engine/internal/util"

	"go.uber.org/zap"
)

// Publisher delivers one encoded event to the message broker
type Publisher interface {
	Publish(ctx context.Context, key, eventType string, payload []byte) error
}

// OutboxRelay publishes committed outbox rows in insertion order. Delivery is
// at-least-once: a row is marked sent only after the broker acknowledged it.
type OutboxRelay struct {
	outbox    store.Outbox
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

// NewOutboxRelay creates a new outbox relay
func NewOutboxRelay(outbox store.Outbox, publisher Publisher, interval time.Duration, batchSize int) *OutboxRelay {
	return &OutboxRelay{
		outbox:    outbox,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logger:    util.ComponentLogger("outbox-relay"),
	}
}

// Start polls the outbox until ctx is cancelled
func (r *OutboxRelay) Start(ctx context.Context) error {
	r.logger.Info("Starting outbox relay",
		zap.Duration("interval", r.interval),
		zap.Int("batch_size", r.batchSize))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return ctx.Err()
		case <-ticker.C:
			// drain backlogs without waiting a full interval per batch
			for {
				n, err := r.RelayOnce(ctx)
				if err != nil {
					r.logger.Error("Outbox relay pass failed", zap.Error(err))
				}
				if err != nil || n < r.batchSize {
					break
				}
			}
		}
	}
}

// RelayOnce publishes one batch of pending events and reports how many were
// delivered. It stops at the first failed publish so later events of the same
// order are never delivered ahead of it.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	events, err := r.outbox.FetchPendingEvents(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, event := range events {
		if err := r.publisher.Publish(ctx, event.Key, event.EventType, event.Payload); err != nil {
			util.OutboxPublishFailedTotal.Inc()
			r.logger.Warn("Failed to publish outbox event",
				zap.Int64("outbox_id", event.ID),
				zap.String("event_id", event.EventID),
				zap.String("event_type", event.EventType),
				zap.Error(err))
			return sent, err
		}
		if err := r.outbox.MarkEventSent(ctx, event.ID); err != nil {
			return sent, err
		}
		util.OutboxPublishedTotal.Inc()
		sent++
	}

	if sent > 0 {
		r.logger.Debug("Outbox events published", zap.Int("count", sent))
	}
	return sent, nil
}
