package worker

import (
	"context"

	"order-engine/internal/apperr"
	"order-engine/internal/broker"
	"order-engine/internal/models"
	"order-engine/internal/service"
	"order-engine/internal/store"
	"order-engine/internal/util"

	"go.uber.org/zap"
)

// StatusUpdater applies a status change to an order
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, principal service.Principal, orderID int64, status string) (*service.OrderDetail, error)
}

// StatusWorker applies order status commands published by fulfillment systems
type StatusWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	lifecycle    StatusUpdater
	processed    store.ProcessedEvents
	logger       *zap.Logger
}

// NewStatusWorker creates a new status worker
func NewStatusWorker(consumer *broker.Consumer, lifecycle StatusUpdater, processed store.ProcessedEvents) *StatusWorker {
	w := &StatusWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		lifecycle:    lifecycle,
		processed:    processed,
		logger:       util.ComponentLogger("status-worker"),
	}
	w.eventHandler.OnStatusUpdateRequested(w.HandleStatusUpdate)
	return w
}

// Start starts the worker
func (w *StatusWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting status worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *StatusWorker) Stop() error {
	w.logger.Info("Stopping status worker")
	return w.consumer.Close()
}

// HandleStatusUpdate applies one command at most once. Commands the order rejects
// (unknown order, illegal transition) are recorded as processed and dropped;
// infrastructure failures are returned so the message is retried.
func (w *StatusWorker) HandleStatusUpdate(ctx context.Context, event *models.StatusUpdateRequestedEvent) error {
	ctx, span := util.StartSpan(ctx, "StatusWorker.HandleStatusUpdate")
	var err error
	defer func() { util.EndSpan(span, err) }()

	processed, err := w.processed.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		w.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		util.StatusCommandsTotal.WithLabelValues("duplicate").Inc()
		return nil
	}

	_, err = w.lifecycle.UpdateStatus(ctx, service.SystemPrincipal, event.OrderID, event.Status)
	switch {
	case err == nil:
		util.StatusCommandsTotal.WithLabelValues("applied").Inc()
	case retryable(err):
		util.StatusCommandsTotal.WithLabelValues("retry").Inc()
		w.logger.Error("Status command failed",
			zap.String("event_id", event.EventID),
			zap.Int64("order_id", event.OrderID),
			zap.Error(err))
		return err
	default:
		util.StatusCommandsTotal.WithLabelValues("rejected").Inc()
		w.logger.Warn("Status command rejected",
			zap.String("event_id", event.EventID),
			zap.Int64("order_id", event.OrderID),
			zap.String("status", event.Status),
			zap.Error(err))
	}

	err = w.processed.MarkEventProcessed(ctx, event.EventID, event.EventType)
	return err
}

func retryable(err error) bool {
	kind := apperr.KindOf(err)
	return kind == apperr.KindInternal || kind == apperr.KindConflict
}
