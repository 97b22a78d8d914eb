package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated          = "ORDER_CREATED"
	EventTypeOrderStatusChanged    = "ORDER_STATUS_CHANGED"
	EventTypeOrderCancelled        = "ORDER_CANCELLED"
	EventTypeStatusUpdateRequested = "ORDER_STATUS_UPDATE_REQUESTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is committed
type OrderCreatedEvent struct {
	BaseEvent
	OrderID    int64            `json:"order_id"`
	UserID     int64            `json:"user_id"`
	TotalPrice decimal.Decimal  `json:"total_price"`
	Shipping   ShippingSnapshot `json:"shipping"`
	Items      []OrderItemData  `json:"items"`
}

// OrderStatusChangedEvent published on an administrative status change
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID    int64  `json:"order_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ChangedBy  int64  `json:"changed_by"`
}

// OrderCancelledEvent published when an order is cancelled and its stock restored
type OrderCancelledEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	UserID      int64           `json:"user_id"`
	CancelledBy int64           `json:"cancelled_by"`
	FromStatus  string          `json:"from_status"`
	Restored    []OrderItemData `json:"restored"`
}

// StatusUpdateRequestedEvent is consumed from fulfillment systems
type StatusUpdateRequestedEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
