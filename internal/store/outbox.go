package store

import (
	"context"

	"order-engine/internal/models"
)

// FetchPendingEvents returns unsent outbox rows in insertion order
func (s *Store) FetchPendingEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	events := []models.OutboxEvent{}
	err := s.db.SelectContext(ctx, &events,
		`SELECT id, event_id, event_type, key, payload, created_at, sent_at
		 FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, dbError(err, "fetch pending events")
	}
	return events, nil
}

// MarkEventSent records that an outbox row reached the broker
func (s *Store) MarkEventSent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE outbox SET sent_at = NOW() WHERE id = $1", id)
	if err != nil {
		return dbError(err, "mark event sent")
	}
	return nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	if err != nil {
		return false, dbError(err, "check processed event")
	}
	return exists, nil
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return dbError(err, "mark event processed")
	}
	return nil
}
