package store

import (
	"context"
	"database/sql"

	"order-engine/internal/apperr"
	"order-engine/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, user_id, status, total_price, idempotency_key, created_at, updated_at,
	shipping_title, shipping_city, shipping_district, shipping_detail`

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return getOrder(ctx, s.db, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbError(err, "get order by idempotency key")
	}
	return &order, nil
}

// GetOrders retrieves every order, newest first
func (s *Store) GetOrders(ctx context.Context) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, dbError(err, "list orders")
	}
	return orders, nil
}

// GetOrdersByUserID retrieves orders for a user
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC", userID)
	if err != nil {
		return nil, dbError(err, "list user orders")
	}
	return orders, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	return getOrderItems(ctx, s.db, orderID)
}

func getOrder(ctx context.Context, q sqlx.QueryerContext, query string, id int64) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q, &order, query, id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("order not found: %d", id)
	}
	if err != nil {
		return nil, dbError(err, "get order")
	}
	return &order, nil
}

func getOrderItems(ctx context.Context, q sqlx.QueryerContext, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := sqlx.SelectContext(ctx, q, &items,
		"SELECT id, order_id, product_id, quantity, unit_price FROM order_items WHERE order_id = $1 ORDER BY id",
		orderID)
	if err != nil {
		return nil, dbError(err, "get order items")
	}
	return items, nil
}
