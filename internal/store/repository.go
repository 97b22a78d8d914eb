package store

import (
	"context"

	"order-engine/internal/models"
)

// Repository is the non-transactional view of the store used by the services.
// Lookups of a single row return an apperr NotFound error when the row is absent,
// except the Find*/GetCartByUserID/GetOrderByIdempotencyKey helpers which return nil, nil.
type Repository interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	GetAddress(ctx context.Context, id, userID int64) (*models.Address, error)

	GetCartByUserID(ctx context.Context, userID int64) (*models.Cart, error)
	GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error)
	FindCartItemByProduct(ctx context.Context, cartID, productID int64) (*models.CartItem, error)
	GetCartItem(ctx context.Context, cartID, itemID int64) (*models.CartItem, error)
	SaveCartItem(ctx context.Context, item *models.CartItem) error
	UpdateCartItemQuantity(ctx context.Context, itemID int64, quantity int) error
	DeleteCartItem(ctx context.Context, cartID, itemID int64) (bool, error)
	ClearCart(ctx context.Context, cartID int64) error
	ListCartLines(ctx context.Context, cartID int64) ([]models.CartLine, error)

	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetOrders(ctx context.Context) ([]models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)

	// InTx runs fn inside one database transaction. The transaction commits only if
	// fn returns nil and is rolled back on every other path.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of reads and writes available inside a transaction.
type Tx interface {
	GetCartByUserID(ctx context.Context, userID int64) (*models.Cart, error)
	ListCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error)
	ClearCart(ctx context.Context, cartID int64) error

	// LockProducts reads and row-locks the given products in ascending id order.
	// Missing ids are absent from the result map.
	LockProducts(ctx context.Context, ids []int64) (map[int64]*models.Product, error)
	// DecrementStock subtracts quantity only if enough stock remains; it reports
	// whether the decrement was applied.
	DecrementStock(ctx context.Context, productID int64, quantity int) (bool, error)
	IncrementStock(ctx context.Context, productID int64, quantity int) error

	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	LockOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error

	EnqueueEvent(ctx context.Context, event *models.OutboxEvent) error
}

// Outbox is the relay side of the transactional outbox.
type Outbox interface {
	FetchPendingEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkEventSent(ctx context.Context, id int64) error
}

// ProcessedEvents deduplicates consumed messages.
type ProcessedEvents interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}
