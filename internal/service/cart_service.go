package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"order-engine/internal/apperr"
	"order-engine/internal/models"
	"order-engine/internal/redisclient"
	"order-engine/internal/store"
	"order-engine/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CartLocker serializes cart mutations of one user across instances
type CartLocker interface {
	Lock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error)
}

// CartService manages the per-user shopping cart
type CartService struct {
	repo        store.Repository
	inventory   *Inventory
	locker      CartLocker
	maxQuantity int
	lockTTL     time.Duration
	logger      *zap.Logger
}

// NewCartService creates a new cart service. locker may be nil, in which case
// mutations rely on the (cart_id, product_id) uniqueness of the store alone.
func NewCartService(repo store.Repository, inventory *Inventory, locker CartLocker, maxQuantity int, lockTTL time.Duration) *CartService {
	return &CartService{
		repo:        repo,
		inventory:   inventory,
		locker:      locker,
		maxQuantity: maxQuantity,
		lockTTL:     lockTTL,
		logger:      util.ComponentLogger("cart"),
	}
}

// CartLineView is one cart line with its current price and subtotal
type CartLineView struct {
	models.CartLine
	Subtotal  decimal.Decimal `json:"subtotal"`
	Available bool            `json:"available"`
}

// CartView is the priced content of a cart
type CartView struct {
	UserID     int64           `json:"user_id"`
	Items      []CartLineView  `json:"items"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// AddItem adds quantity units of a product, merging with an existing line
func (s *CartService) AddItem(ctx context.Context, userID, productID int64, quantity int) (item *models.CartItem, err error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem",
		attribute.Int64("user_id", userID),
		attribute.Int64("product_id", productID),
		attribute.Int("quantity", quantity))
	defer func() {
		util.EndSpan(span, err)
		recordCartMutation("add", err)
	}()

	if quantity < 1 {
		return nil, apperr.InvalidArgument("quantity must be at least 1")
	}
	if quantity > s.maxQuantity {
		return nil, apperr.LimitExceeded("at most %d units of product %d per cart, requested %d", s.maxQuantity, productID, quantity)
	}

	err = s.withCartLock(ctx, userID, func() error {
		product, err := s.inventory.LiveProduct(ctx, productID)
		if err != nil {
			return err
		}

		total := quantity
		cart, err := s.repo.GetCartByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if cart != nil {
			existing, err := s.repo.FindCartItemByProduct(ctx, cart.ID, productID)
			if err != nil {
				return err
			}
			if existing != nil {
				total += existing.Quantity
			}
		}

		if total > s.maxQuantity {
			return apperr.LimitExceeded("at most %d units of product %d per cart, requested %d", s.maxQuantity, productID, total)
		}
		if err := s.inventory.CheckAvailable(product, total); err != nil {
			return err
		}

		if cart == nil {
			if cart, err = s.repo.GetOrCreateCart(ctx, userID); err != nil {
				return err
			}
		}
		item = &models.CartItem{CartID: cart.ID, ProductID: productID, Quantity: total}
		return s.repo.SaveCartItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Cart item added",
		zap.Int64("user_id", userID),
		zap.Int64("product_id", productID),
		zap.Int("quantity", item.Quantity))
	return item, nil
}

// UpdateItem replaces the quantity of a cart line owned by the user
func (s *CartService) UpdateItem(ctx context.Context, userID, itemID int64, quantity int) (item *models.CartItem, err error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateItem",
		attribute.Int64("user_id", userID),
		attribute.Int64("item_id", itemID),
		attribute.Int("quantity", quantity))
	defer func() {
		util.EndSpan(span, err)
		recordCartMutation("update", err)
	}()

	if quantity < 1 {
		return nil, apperr.InvalidArgument("quantity must be at least 1, remove the item instead")
	}

	err = s.withCartLock(ctx, userID, func() error {
		item, err = s.ownedItem(ctx, userID, itemID)
		if err != nil {
			return err
		}
		if quantity > s.maxQuantity {
			return apperr.LimitExceeded("at most %d units of product %d per cart, requested %d", s.maxQuantity, item.ProductID, quantity)
		}
		product, err := s.inventory.LiveProduct(ctx, item.ProductID)
		if err != nil {
			return err
		}
		if err := s.inventory.CheckAvailable(product, quantity); err != nil {
			return err
		}
		if err := s.repo.UpdateCartItemQuantity(ctx, item.ID, quantity); err != nil {
			return err
		}
		item.Quantity = quantity
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// RemoveItem deletes a cart line owned by the user
func (s *CartService) RemoveItem(ctx context.Context, userID, itemID int64) (err error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem",
		attribute.Int64("user_id", userID),
		attribute.Int64("item_id", itemID))
	defer func() {
		util.EndSpan(span, err)
		recordCartMutation("remove", err)
	}()

	return s.withCartLock(ctx, userID, func() error {
		cart, err := s.repo.GetCartByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if cart == nil {
			return apperr.NotFound("cart item not found: %d", itemID)
		}
		deleted, err := s.repo.DeleteCartItem(ctx, cart.ID, itemID)
		if err != nil {
			return err
		}
		if !deleted {
			return apperr.NotFound("cart item not found: %d", itemID)
		}
		return nil
	})
}

// Clear removes every line of the user's cart
func (s *CartService) Clear(ctx context.Context, userID int64) (err error) {
	ctx, span := util.StartSpan(ctx, "CartService.Clear", attribute.Int64("user_id", userID))
	defer func() {
		util.EndSpan(span, err)
		recordCartMutation("clear", err)
	}()

	return s.withCartLock(ctx, userID, func() error {
		cart, err := s.repo.GetCartByUserID(ctx, userID)
		if err != nil || cart == nil {
			return err
		}
		return s.repo.ClearCart(ctx, cart.ID)
	})
}

// GetCart returns the cart priced at current product prices
func (s *CartService) GetCart(ctx context.Context, userID int64) (*CartView, error) {
	view := &CartView{UserID: userID, Items: []CartLineView{}, TotalPrice: decimal.Zero}

	cart, err := s.repo.GetCartByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return view, nil
	}

	lines, err := s.repo.ListCartLines(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		subtotal := line.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		view.Items = append(view.Items, CartLineView{
			CartLine:  line,
			Subtotal:  subtotal,
			Available: !line.IsDeleted && line.Stock >= line.Quantity,
		})
		view.TotalPrice = view.TotalPrice.Add(subtotal)
	}
	return view, nil
}

func (s *CartService) ownedItem(ctx context.Context, userID, itemID int64) (*models.CartItem, error) {
	cart, err := s.repo.GetCartByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, apperr.NotFound("cart item not found: %d", itemID)
	}
	return s.repo.GetCartItem(ctx, cart.ID, itemID)
}

func (s *CartService) withCartLock(ctx context.Context, userID int64, fn func() error) error {
	if s.locker == nil {
		return fn()
	}

	release, err := s.locker.Lock(ctx, fmt.Sprintf("cart:%d", userID), s.lockTTL)
	if errors.Is(err, redisclient.ErrLockHeld) {
		return apperr.Conflict(err, "cart of user %d is being modified, retry", userID)
	}
	if err != nil {
		return apperr.Internal(err, "lock cart")
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			s.logger.Warn("Failed to release cart lock", zap.Int64("user_id", userID), zap.Error(err))
		}
	}()

	return fn()
}

func recordCartMutation(op string, err error) {
	result := "ok"
	if err != nil {
		result = strings.ToLower(apperr.KindOf(err).String())
	}
	util.CartMutationsTotal.WithLabelValues(op, result).Inc()
}
