package service

import (
	"context"
	"fmt"

	"order-engine/internal/apperr"
	"order-engine/internal/models"
	"order-engine/internal/store"
	"order-engine/internal/util"

	"go.uber.org/zap"
)

// Inventory is the single point of access to product stock and price.
// Reads outside a transaction are advisory; Take and Restore must run inside
// the caller's transaction after the product rows were locked with Lock.
type Inventory struct {
	repo   store.Repository
	logger *zap.Logger
}

// NewInventory creates a new inventory accessor
func NewInventory(repo store.Repository) *Inventory {
	return &Inventory{
		repo:   repo,
		logger: util.ComponentLogger("inventory"),
	}
}

// LiveProduct returns the product if it exists and is not soft-deleted
func (inv *Inventory) LiveProduct(ctx context.Context, productID int64) (*models.Product, error) {
	product, err := inv.repo.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.IsDeleted {
		return nil, apperr.NotFound("product not found: %d", productID)
	}
	return product, nil
}

// CheckAvailable is the advisory stock check used by the cart
func (inv *Inventory) CheckAvailable(product *models.Product, quantity int) error {
	if product.Stock < quantity {
		return apperr.InsufficientStock(product.ID,
			"insufficient stock for %s: available %d, requested %d", product.Name, product.Stock, quantity)
	}
	return nil
}

// Lock row-locks the given products for the rest of the transaction
func (inv *Inventory) Lock(ctx context.Context, tx store.Tx, productIDs []int64) (map[int64]*models.Product, error) {
	return tx.LockProducts(ctx, productIDs)
}

// Take removes quantity units from stock. The decrement is conditional on enough
// stock remaining at write time; a refused decrement means the row changed under
// us and is reported as Conflict.
func (inv *Inventory) Take(ctx context.Context, tx store.Tx, productID int64, quantity int) error {
	if quantity < 1 {
		return apperr.InvalidArgument("quantity for product %d must be at least 1", productID)
	}
	ok, err := tx.DecrementStock(ctx, productID, quantity)
	if err != nil {
		return err
	}
	if !ok {
		inv.logger.Warn("Conditional stock decrement refused",
			zap.Int64("product_id", productID),
			zap.Int("quantity", quantity))
		return apperr.Conflict(nil, "stock for product %d changed during checkout, retry", productID)
	}
	return nil
}

// Restore puts quantity units back into stock
func (inv *Inventory) Restore(ctx context.Context, tx store.Tx, productID int64, quantity int) error {
	if quantity < 1 {
		return apperr.InvalidArgument("quantity for product %d must be at least 1", productID)
	}
	if err := tx.IncrementStock(ctx, productID, quantity); err != nil {
		return fmt.Errorf("restore stock for product %d: %w", productID, err)
	}
	return nil
}
