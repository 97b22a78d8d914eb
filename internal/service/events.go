package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"order-engine/internal/models"
	"order-engine/internal/store"

	"github.com/google/uuid"
)

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// enqueueEvent stages an event in the outbox of the running transaction. It
// becomes visible to the relay only if the transaction commits.
func enqueueEvent(ctx context.Context, tx store.Tx, base models.BaseEvent, orderID int64, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", base.EventType, err)
	}
	return tx.EnqueueEvent(ctx, &models.OutboxEvent{
		EventID:   base.EventID,
		EventType: base.EventType,
		Key:       orderKey(orderID),
		Payload:   data,
	})
}

// orderKey partitions events by order so consumers see one order's events in order
func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

func itemData(items []models.OrderItem) []models.OrderItemData {
	out := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		out = append(out, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return out
}
