package service

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"order-engine/internal/apperr"
	"order-engine/internal/models"
	"order-engine/internal/store"
	"order-engine/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	sourceCart   = "cart"
	sourceDirect = "direct"
)

// MaxLineQuantity bounds the units of one product in a single order; order_items.quantity is an INTEGER column
const MaxLineQuantity = math.MaxInt32

// IdempotencyCache is a fast path in front of the orders.idempotency_key column
type IdempotencyCache interface {
	LookupOrder(ctx context.Context, key string) (int64, bool, error)
	RememberOrder(ctx context.Context, key string, orderID int64, ttl time.Duration) error
}

// OrderService constructs orders and answers order queries
type OrderService struct {
	repo      store.Repository
	inventory *Inventory
	cache     IdempotencyCache
	cacheTTL  time.Duration
	logger    *zap.Logger
}

// NewOrderService creates a new order service. cache may be nil.
func NewOrderService(repo store.Repository, inventory *Inventory, cache IdempotencyCache, cacheTTL time.Duration) *OrderService {
	return &OrderService{
		repo:      repo,
		inventory: inventory,
		cache:     cache,
		cacheTTL:  cacheTTL,
		logger:    util.ComponentLogger("orders"),
	}
}

// OrderItemRequest is one requested line of a direct order
type OrderItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required"`
}

// PlaceOrderRequest places an order from explicit items, or from the cart when Items is empty
type PlaceOrderRequest struct {
	UserID         int64              `json:"-"`
	AddressID      int64              `json:"address_id" binding:"required"`
	Items          []OrderItemRequest `json:"items"`
	IdempotencyKey string             `json:"-"`
}

// OrderLine is an order item with its computed subtotal
type OrderLine struct {
	models.OrderItem
	Subtotal decimal.Decimal `json:"subtotal"`
}

// OrderDetail is an order with its items. Replayed is set when the order was
// returned for a repeated idempotency key instead of being created.
type OrderDetail struct {
	models.Order
	Items    []OrderLine `json:"items"`
	Replayed bool        `json:"-"`
}

func newOrderDetail(order *models.Order, items []models.OrderItem) *OrderDetail {
	detail := &OrderDetail{Order: *order, Items: make([]OrderLine, 0, len(items))}
	for _, item := range items {
		detail.Items = append(detail.Items, OrderLine{OrderItem: item, Subtotal: item.Subtotal()})
	}
	return detail
}

// PlaceOrder dispatches to CreateDirect when items are given, otherwise to CreateFromCart
func (s *OrderService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*OrderDetail, error) {
	if len(req.Items) > 0 {
		return s.CreateDirect(ctx, req)
	}
	return s.CreateFromCart(ctx, req)
}

// CreateFromCart converts the user's whole cart into one order and empties the cart
func (s *OrderService) CreateFromCart(ctx context.Context, req *PlaceOrderRequest) (detail *OrderDetail, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateFromCart",
		attribute.Int64("user_id", req.UserID),
		attribute.Int64("address_id", req.AddressID))
	defer func() {
		util.EndSpan(span, err)
		recordPlacementFailure(err)
	}()

	address, replay, err := s.prepare(ctx, req)
	if err != nil || replay != nil {
		return replay, err
	}

	start := time.Now()
	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		cart, err := tx.GetCartByUserID(ctx, req.UserID)
		if err != nil {
			return err
		}
		if cart == nil {
			return apperr.EmptyCart()
		}
		items, err := tx.ListCartItems(ctx, cart.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return apperr.EmptyCart()
		}

		lines := make([]OrderItemRequest, 0, len(items))
		for _, item := range items {
			lines = append(lines, OrderItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
		}

		detail, err = s.construct(ctx, tx, req, address, lines, sourceCart)
		if err != nil {
			return err
		}
		return tx.ClearCart(ctx, cart.ID)
	})
	util.OrderPlacementLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return s.replayOnDuplicate(ctx, req, err)
	}

	s.committed(ctx, req, detail, sourceCart)
	return detail, nil
}

// CreateDirect orders an explicit list of products without touching the cart
func (s *OrderService) CreateDirect(ctx context.Context, req *PlaceOrderRequest) (detail *OrderDetail, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateDirect",
		attribute.Int64("user_id", req.UserID),
		attribute.Int64("address_id", req.AddressID),
		attribute.Int("lines", len(req.Items)))
	defer func() {
		util.EndSpan(span, err)
		recordPlacementFailure(err)
	}()

	lines, err := mergeLines(req.Items)
	if err != nil {
		return nil, err
	}

	address, replay, err := s.prepare(ctx, req)
	if err != nil || replay != nil {
		return replay, err
	}

	start := time.Now()
	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		detail, err = s.construct(ctx, tx, req, address, lines, sourceDirect)
		return err
	})
	util.OrderPlacementLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return s.replayOnDuplicate(ctx, req, err)
	}

	s.committed(ctx, req, detail, sourceDirect)
	return detail, nil
}

// GetOrder returns an order visible to the principal
func (s *OrderService) GetOrder(ctx context.Context, principal Principal, orderID int64) (*OrderDetail, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !PermissionsFor(principal).CanView(order) {
		return nil, apperr.AccessDenied("access denied to order %d", orderID)
	}
	return s.loadDetail(ctx, order)
}

// ListOrders returns every order for administrators and the caller's own orders otherwise, newest first
func (s *OrderService) ListOrders(ctx context.Context, principal Principal) ([]models.Order, error) {
	var (
		orders []models.Order
		err    error
	)
	if PermissionsFor(principal).ViewAll {
		orders, err = s.repo.GetOrders(ctx)
	} else {
		orders, err = s.repo.GetOrdersByUserID(ctx, principal.UserID)
	}
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}

// prepare validates the caller and the shipping address, and answers a repeated
// idempotency key with the order it already produced.
func (s *OrderService) prepare(ctx context.Context, req *PlaceOrderRequest) (*models.Address, *OrderDetail, error) {
	user, err := s.repo.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user.IsDeleted {
		return nil, nil, apperr.NotFound("user not found: %d", req.UserID)
	}

	if req.IdempotencyKey != "" {
		replay, err := s.lookupIdempotent(ctx, req)
		if err != nil || replay != nil {
			return nil, replay, err
		}
	}

	address, err := s.repo.GetAddress(ctx, req.AddressID, req.UserID)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil, nil, apperr.InvalidAddress("invalid shipping address: %d", req.AddressID)
	}
	if err != nil {
		return nil, nil, err
	}
	if address.IsDeleted {
		return nil, nil, apperr.InvalidAddress("invalid shipping address: %d", req.AddressID)
	}
	return address, nil, nil
}

// construct runs inside the placement transaction. It locks every product row in
// ascending id order, validates each line against the locked stock, snapshots
// prices and the address into the order, and takes the stock.
func (s *OrderService) construct(
	ctx context.Context,
	tx store.Tx,
	req *PlaceOrderRequest,
	address *models.Address,
	lines []OrderItemRequest,
	source string,
) (*OrderDetail, error) {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.inventory.Lock(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok || product.IsDeleted {
			if source == sourceCart {
				return nil, apperr.InsufficientStock(line.ProductID, "product %d is no longer available", line.ProductID)
			}
			return nil, apperr.NotFound("product not found: %d", line.ProductID)
		}
		if err := s.inventory.CheckAvailable(product, line.Quantity); err != nil {
			return nil, err
		}
		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	order := &models.Order{
		UserID:           req.UserID,
		Status:           models.OrderStatusPending,
		TotalPrice:       total,
		ShippingSnapshot: models.SnapshotOf(address),
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		order.IdempotencyKey = &key
	}
	if err := tx.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		item := models.OrderItem{
			OrderID:   order.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: products[line.ProductID].Price,
		}
		if err := tx.CreateOrderItem(ctx, &item); err != nil {
			return nil, err
		}
		if err := s.inventory.Take(ctx, tx, line.ProductID, line.Quantity); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	base := newBaseEvent(models.EventTypeOrderCreated)
	event := &models.OrderCreatedEvent{
		BaseEvent:  base,
		OrderID:    order.ID,
		UserID:     order.UserID,
		TotalPrice: order.TotalPrice,
		Shipping:   order.ShippingSnapshot,
		Items:      itemData(items),
	}
	if err := enqueueEvent(ctx, tx, base, order.ID, event); err != nil {
		return nil, err
	}

	return newOrderDetail(order, items), nil
}

func (s *OrderService) lookupIdempotent(ctx context.Context, req *PlaceOrderRequest) (*OrderDetail, error) {
	var order *models.Order

	if s.cache != nil {
		orderID, ok, err := s.cache.LookupOrder(ctx, req.IdempotencyKey)
		if err != nil {
			s.logger.Warn("Idempotency cache lookup failed", zap.Error(err))
		} else if ok {
			if order, err = s.repo.GetOrderByID(ctx, orderID); err != nil && apperr.KindOf(err) != apperr.KindNotFound {
				return nil, err
			}
		}
	}

	if order == nil {
		var err error
		if order, err = s.repo.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey); err != nil {
			return nil, err
		}
	}
	if order == nil {
		return nil, nil
	}
	if order.UserID != req.UserID {
		return nil, apperr.Conflict(nil, "idempotency key already used by another user")
	}

	detail, err := s.loadDetail(ctx, order)
	if err != nil {
		return nil, err
	}
	detail.Replayed = true
	util.OrdersReplayedTotal.Inc()
	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.Int64("order_id", order.ID))
	return detail, nil
}

// replayOnDuplicate resolves the race where two requests with the same key both
// passed the lookup: the loser's insert hits the unique key and it returns the winner's order.
func (s *OrderService) replayOnDuplicate(ctx context.Context, req *PlaceOrderRequest, err error) (*OrderDetail, error) {
	if req.IdempotencyKey == "" || !errors.Is(err, store.ErrDuplicateKey) {
		return nil, err
	}
	replay, lookupErr := s.lookupIdempotent(ctx, req)
	if lookupErr != nil || replay == nil {
		return nil, err
	}
	return replay, nil
}

func (s *OrderService) committed(ctx context.Context, req *PlaceOrderRequest, detail *OrderDetail, source string) {
	util.OrdersCreatedTotal.WithLabelValues(source).Inc()
	for _, item := range detail.Items {
		util.StockDecrementedUnitsTotal.Add(float64(item.Quantity))
	}

	if s.cache != nil && req.IdempotencyKey != "" {
		if err := s.cache.RememberOrder(ctx, req.IdempotencyKey, detail.ID, s.cacheTTL); err != nil {
			s.logger.Warn("Failed to cache idempotency key", zap.Error(err))
		}
	}

	s.logger.Info("Order created",
		zap.Int64("order_id", detail.ID),
		zap.Int64("user_id", detail.UserID),
		zap.String("source", source),
		zap.String("total_price", detail.TotalPrice.StringFixed(2)),
		zap.Int("lines", len(detail.Items)))
}

func (s *OrderService) loadDetail(ctx context.Context, order *models.Order) (*OrderDetail, error) {
	items, err := s.repo.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return newOrderDetail(order, items), nil
}

// mergeLines validates direct order lines and folds repeated products into one line
func mergeLines(items []OrderItemRequest) ([]OrderItemRequest, error) {
	if len(items) == 0 {
		return nil, apperr.InvalidArgument("order must contain at least one item")
	}

	quantities := make(map[int64]int, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, apperr.InvalidArgument("quantity for product %d must be at least 1", item.ProductID)
		}
		if item.Quantity > MaxLineQuantity-quantities[item.ProductID] {
			return nil, apperr.InvalidArgument("quantity for product %d must be at most %d", item.ProductID, MaxLineQuantity)
		}
		quantities[item.ProductID] += item.Quantity
	}

	lines := make([]OrderItemRequest, 0, len(quantities))
	for productID, quantity := range quantities {
		lines = append(lines, OrderItemRequest{ProductID: productID, Quantity: quantity})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

func recordPlacementFailure(err error) {
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(strings.ToLower(apperr.KindOf(err).String())).Inc()
	}
}
