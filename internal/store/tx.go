package store

import (
	"context"
	"sort"

	"order-engine/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// sqlTx implements Tx on top of a *sqlx.Tx opened by Store.InTx
type sqlTx struct {
	tx *sqlx.Tx
}

func (t *sqlTx) GetCartByUserID(ctx context.Context, userID int64) (*models.Cart, error) {
	return getCartByUserID(ctx, t.tx, userID)
}

func (t *sqlTx) ListCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	items := []models.CartItem{}
	err := t.tx.SelectContext(ctx, &items,
		"SELECT id, cart_id, product_id, quantity, created_at FROM cart_items WHERE cart_id = $1 ORDER BY id",
		cartID)
	if err != nil {
		return nil, dbError(err, "list cart items")
	}
	return items, nil
}

func (t *sqlTx) ClearCart(ctx context.Context, cartID int64) error {
	return clearCart(ctx, t.tx, cartID)
}

// LockProducts takes FOR UPDATE locks in ascending id order so that two
// transactions touching overlapping products queue instead of deadlocking.
func (t *sqlTx) LockProducts(ctx context.Context, ids []int64) (map[int64]*models.Product, error) {
	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	products := []models.Product{}
	err := t.tx.SelectContext(ctx, &products,
		"SELECT "+productColumns+" FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE",
		pq.Array(sorted))
	if err != nil {
		return nil, dbError(err, "lock products")
	}

	locked := make(map[int64]*models.Product, len(products))
	for i := range products {
		locked[products[i].ID] = &products[i]
	}
	return locked, nil
}

func (t *sqlTx) DecrementStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE products SET stock = stock - $1, updated_at = NOW() WHERE id = $2 AND stock >= $1",
		quantity, productID)
	if err != nil {
		return false, dbError(err, "decrement stock")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbError(err, "decrement stock")
	}
	return n == 1, nil
}

func (t *sqlTx) IncrementStock(ctx context.Context, productID int64, quantity int) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE products SET stock = stock + $1, updated_at = NOW() WHERE id = $2",
		quantity, productID)
	if err != nil {
		return dbError(err, "increment stock")
	}
	return nil
}

func (t *sqlTx) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, status, total_price, idempotency_key,
			shipping_title, shipping_city, shipping_district, shipping_detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	row := t.tx.QueryRowxContext(ctx, query,
		order.UserID, order.Status, order.TotalPrice, order.IdempotencyKey,
		order.Title, order.City, order.District, order.Detail)
	if err := row.Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return dbError(err, "create order")
	}
	return nil
}

func (t *sqlTx) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	if err := t.tx.GetContext(ctx, &item.ID, query,
		item.OrderID, item.ProductID, item.Quantity, item.UnitPrice); err != nil {
		return dbError(err, "create order item")
	}
	return nil
}

func (t *sqlTx) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return getOrder(ctx, t.tx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
}

func (t *sqlTx) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	return getOrderItems(ctx, t.tx, orderID)
}

func (t *sqlTx) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	if err != nil {
		return dbError(err, "update order status")
	}
	return nil
}

func (t *sqlTx) EnqueueEvent(ctx context.Context, event *models.OutboxEvent) error {
	query := `
		INSERT INTO outbox (event_id, event_type, key, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	row := t.tx.QueryRowxContext(ctx, query, event.EventID, event.EventType, event.Key, string(event.Payload))
	if err := row.Scan(&event.ID, &event.CreatedAt); err != nil {
		return dbError(err, "enqueue event")
	}
	return nil
}
