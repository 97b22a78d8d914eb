package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"order-engine/internal/models"
	"order-engine/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventHandler routes incoming events by type
type EventHandler struct {
	onStatusUpdateRequested func(context.Context, *models.StatusUpdateRequestedEvent) error
	logger                  *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.ComponentLogger("event-handler")}
}

// OnStatusUpdateRequested registers a handler for ORDER_STATUS_UPDATE_REQUESTED events
func (eh *EventHandler) OnStatusUpdateRequested(handler func(context.Context, *models.StatusUpdateRequestedEvent) error) {
	eh.onStatusUpdateRequested = handler
}

// HandleMessage routes messages to appropriate handlers. Undecodable messages
// are logged and dropped so one bad message cannot stall the partition.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		eh.logger.Warn("Dropping undecodable message", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}
	if baseEvent.EventType == "" {
		baseEvent.EventType = headerValue(msg, EventTypeHeader)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeStatusUpdateRequested:
		if eh.onStatusUpdateRequested != nil {
			var event models.StatusUpdateRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal %s event: %w", baseEvent.EventType, err)
			}
			event.EventType = baseEvent.EventType
			return eh.onStatusUpdateRequested(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
