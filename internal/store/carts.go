package store

import (
	"context"
	"database/sql"

	"order-engine/internal/apperr"
	"order-engine/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetCartByUserID returns the user's cart or nil if none was created yet
func (s *Store) GetCartByUserID(ctx context.Context, userID int64) (*models.Cart, error) {
	return getCartByUserID(ctx, s.db, userID)
}

// GetOrCreateCart lazily creates the user's cart
func (s *Store) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	query := `
		INSERT INTO carts (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, user_id, created_at`

	if err := s.db.GetContext(ctx, &cart, query, userID); err != nil {
		return nil, dbError(err, "get or create cart")
	}
	return &cart, nil
}

// FindCartItemByProduct returns the line for a product or nil
func (s *Store) FindCartItemByProduct(ctx context.Context, cartID, productID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := s.db.GetContext(ctx, &item,
		"SELECT id, cart_id, product_id, quantity, created_at FROM cart_items WHERE cart_id = $1 AND product_id = $2",
		cartID, productID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbError(err, "find cart item")
	}
	return &item, nil
}

// GetCartItem retrieves a line scoped to a cart
func (s *Store) GetCartItem(ctx context.Context, cartID, itemID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := s.db.GetContext(ctx, &item,
		"SELECT id, cart_id, product_id, quantity, created_at FROM cart_items WHERE id = $1 AND cart_id = $2",
		itemID, cartID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("cart item not found: %d", itemID)
	}
	if err != nil {
		return nil, dbError(err, "get cart item")
	}
	return &item, nil
}

// SaveCartItem inserts the line or overwrites the quantity of the existing line for the product
func (s *Store) SaveCartItem(ctx context.Context, item *models.CartItem) error {
	query := `
		INSERT INTO cart_items (cart_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity
		RETURNING id, created_at`

	row := s.db.QueryRowxContext(ctx, query, item.CartID, item.ProductID, item.Quantity)
	if err := row.Scan(&item.ID, &item.CreatedAt); err != nil {
		return dbError(err, "save cart item")
	}
	return nil
}

// UpdateCartItemQuantity sets the quantity of a line
func (s *Store) UpdateCartItemQuantity(ctx context.Context, itemID int64, quantity int) error {
	_, err := s.db.ExecContext(ctx, "UPDATE cart_items SET quantity = $1 WHERE id = $2", quantity, itemID)
	if err != nil {
		return dbError(err, "update cart item")
	}
	return nil
}

// DeleteCartItem removes a line and reports whether it existed
func (s *Store) DeleteCartItem(ctx context.Context, cartID, itemID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM cart_items WHERE id = $1 AND cart_id = $2", itemID, cartID)
	if err != nil {
		return false, dbError(err, "delete cart item")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbError(err, "delete cart item")
	}
	return n > 0, nil
}

// ClearCart removes every line of a cart
func (s *Store) ClearCart(ctx context.Context, cartID int64) error {
	return clearCart(ctx, s.db, cartID)
}

// ListCartLines joins cart lines with the live product rows
func (s *Store) ListCartLines(ctx context.Context, cartID int64) ([]models.CartLine, error) {
	query := `
		SELECT ci.id AS item_id, ci.product_id, ci.quantity,
		       p.name, p.price, p.stock, p.is_deleted
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.id`

	lines := []models.CartLine{}
	if err := s.db.SelectContext(ctx, &lines, query, cartID); err != nil {
		return nil, dbError(err, "list cart lines")
	}
	return lines, nil
}

func getCartByUserID(ctx context.Context, q sqlx.QueryerContext, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := sqlx.GetContext(ctx, q, &cart, "SELECT id, user_id, created_at FROM carts WHERE user_id = $1", userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbError(err, "get cart")
	}
	return &cart, nil
}

func clearCart(ctx context.Context, e sqlx.ExecerContext, cartID int64) error {
	if _, err := e.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID); err != nil {
		return dbError(err, "clear cart")
	}
	return nil
}
