package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is the slice of the identity record this service needs for authorization
type User struct {
	ID        int64     `db:"id" json:"id"`
	Role      string    `db:"role" json:"role"`
	IsDeleted bool      `db:"is_deleted" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// User roles
const (
	RoleCustomer = "customer"
	RoleSeller   = "seller"
	RoleAdmin    = "admin"
)

// Product is the catalog row as seen by the order engine
type Product struct {
	ID        int64           `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Stock     int             `db:"stock" json:"stock"`
	IsDeleted bool            `db:"is_deleted" json:"-"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Address is a delivery address owned by a user
type Address struct {
	ID        int64  `db:"id" json:"id"`
	UserID    int64  `db:"user_id" json:"user_id"`
	Title     string `db:"title" json:"title"`
	City      string `db:"city" json:"city"`
	District  string `db:"district" json:"district"`
	Detail    string `db:"detail" json:"detail"`
	IsDeleted bool   `db:"is_deleted" json:"-"`
}

// Cart is the per-user working set of lines
type Cart struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CartItem is one (product, quantity) line in a cart
type CartItem struct {
	ID        int64     `db:"id" json:"id"`
	CartID    int64     `db:"cart_id" json:"cart_id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ShippingSnapshot is copied from the address when the order is placed
type ShippingSnapshot struct {
	Title    string `db:"shipping_title" json:"shipping_title"`
	City     string `db:"shipping_city" json:"shipping_city"`
	District string `db:"shipping_district" json:"shipping_district"`
	Detail   string `db:"shipping_detail" json:"shipping_detail"`
}

// SnapshotOf freezes the delivery fields of an address
func SnapshotOf(a *Address) ShippingSnapshot {
	return ShippingSnapshot{
		Title:    a.Title,
		City:     a.City,
		District: a.District,
		Detail:   a.Detail,
	}
}

// Order represents a customer order
type Order struct {
	ID             int64           `db:"id" json:"id"`
	UserID         int64           `db:"user_id" json:"user_id"`
	Status         string          `db:"status" json:"status"`
	TotalPrice     decimal.Decimal `db:"total_price" json:"total_price"`
	IdempotencyKey *string         `db:"idempotency_key" json:"-"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
	ShippingSnapshot
}

// OrderItem represents items in an order
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
}

// Subtotal is unit price times quantity
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// OrderStatuses lists every recognized status in lifecycle order
var OrderStatuses = []string{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// OutboxEvent is a domain event persisted with the state change that produced it
type OutboxEvent struct {
	ID        int64      `db:"id"`
	EventID   string     `db:"event_id"`
	EventType string     `db:"event_type"`
	Key       string     `db:"key"`
	Payload   []byte     `db:"payload"`
	CreatedAt time.Time  `db:"created_at"`
	SentAt    *time.Time `db:"sent_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// CartLine is a cart item joined with the live product row
type CartLine struct {
	ItemID    int64           `db:"item_id" json:"id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Stock     int             `db:"stock" json:"stock"`
	IsDeleted bool            `db:"is_deleted" json:"-"`
}
