package service

import (
	"context"

	"order-engine/internal/apperr"
	"order-engine/internal/models"
	"order-engine/internal/store"
	"order-engine/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// LifecycleService moves orders through their statuses and compensates stock on cancellation
type LifecycleService struct {
	repo      store.Repository
	inventory *Inventory
	logger    *zap.Logger
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(repo store.Repository, inventory *Inventory) *LifecycleService {
	return &LifecycleService{
		repo:      repo,
		inventory: inventory,
		logger:    util.ComponentLogger("lifecycle"),
	}
}

// IsKnownStatus reports whether status is one of the recognized order statuses
func IsKnownStatus(status string) bool {
	for _, s := range models.OrderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func isTerminal(status string) bool {
	return status == models.OrderStatusDelivered || status == models.OrderStatusCancelled
}

// UpdateStatus sets the status of an order on behalf of an administrator.
// Moving an order to cancelled restores its stock the same way Cancel does.
func (s *LifecycleService) UpdateStatus(ctx context.Context, principal Principal, orderID int64, status string) (detail *OrderDetail, err error) {
	ctx, span := util.StartSpan(ctx, "LifecycleService.UpdateStatus",
		attribute.Int64("order_id", orderID),
		attribute.String("status", status))
	defer func() { util.EndSpan(span, err) }()

	if !PermissionsFor(principal).ManageOrders {
		return nil, apperr.AccessDenied("only administrators can change order status")
	}

	var (
		from     string
		restored int
	)
	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		from = order.Status
		if isTerminal(from) {
			return apperr.InvalidTransition("order %d is %s and can no longer change status", orderID, from)
		}
		if !IsKnownStatus(status) {
			return apperr.InvalidTransition("unknown order status %q", status)
		}
		if status == models.OrderStatusCancelled {
			detail, restored, err = s.cancelLocked(ctx, tx, principal, order)
			return err
		}

		items, err := tx.GetOrderItemsByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		if from == status {
			detail = newOrderDetail(order, items)
			return nil
		}

		if err := tx.UpdateOrderStatus(ctx, orderID, status); err != nil {
			return err
		}
		order.Status = status

		base := newBaseEvent(models.EventTypeOrderStatusChanged)
		event := &models.OrderStatusChangedEvent{
			BaseEvent:  base,
			OrderID:    orderID,
			FromStatus: from,
			ToStatus:   status,
			ChangedBy:  principal.UserID,
		}
		if err := enqueueEvent(ctx, tx, base, orderID, event); err != nil {
			return err
		}

		detail = newOrderDetail(order, items)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if status == models.OrderStatusCancelled {
		s.cancelled(orderID, from, principal, restored)
		return detail, nil
	}
	if from != status {
		util.OrderStatusTransitionsTotal.WithLabelValues(from, status).Inc()
		s.logger.Info("Order status updated",
			zap.Int64("order_id", orderID),
			zap.String("from", from),
			zap.String("to", status),
			zap.Int64("changed_by", principal.UserID))
	}
	return detail, nil
}

// Cancel cancels an order that has not shipped yet and returns its items to stock.
// The owner or an administrator may cancel.
func (s *LifecycleService) Cancel(ctx context.Context, principal Principal, orderID int64) (detail *OrderDetail, err error) {
	ctx, span := util.StartSpan(ctx, "LifecycleService.Cancel", attribute.Int64("order_id", orderID))
	defer func() { util.EndSpan(span, err) }()

	perms := PermissionsFor(principal)

	var (
		from     string
		restored int
	)
	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !perms.CanCancel(order) {
			return apperr.AccessDenied("access denied to order %d", orderID)
		}
		from = order.Status
		detail, restored, err = s.cancelLocked(ctx, tx, principal, order)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.cancelled(orderID, from, principal, restored)
	return detail, nil
}

// cancelLocked restores the stock of a row-locked order and marks it cancelled.
// It returns the number of units put back.
func (s *LifecycleService) cancelLocked(ctx context.Context, tx store.Tx, principal Principal, order *models.Order) (*OrderDetail, int, error) {
	from := order.Status
	switch from {
	case models.OrderStatusCancelled:
		return nil, 0, apperr.AlreadyCancelled(order.ID)
	case models.OrderStatusShipped, models.OrderStatusDelivered:
		return nil, 0, apperr.InvalidTransition("order %d is %s and can no longer be cancelled", order.ID, from)
	}

	items, err := tx.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	if _, err := s.inventory.Lock(ctx, tx, ids); err != nil {
		return nil, 0, err
	}
	restored := 0
	for _, item := range items {
		if err := s.inventory.Restore(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return nil, 0, err
		}
		restored += item.Quantity
	}

	if err := tx.UpdateOrderStatus(ctx, order.ID, models.OrderStatusCancelled); err != nil {
		return nil, 0, err
	}
	order.Status = models.OrderStatusCancelled

	base := newBaseEvent(models.EventTypeOrderCancelled)
	event := &models.OrderCancelledEvent{
		BaseEvent:   base,
		OrderID:     order.ID,
		UserID:      order.UserID,
		CancelledBy: principal.UserID,
		FromStatus:  from,
		Restored:    itemData(items),
	}
	if err := enqueueEvent(ctx, tx, base, order.ID, event); err != nil {
		return nil, 0, err
	}

	return newOrderDetail(order, items), restored, nil
}

func (s *LifecycleService) cancelled(orderID int64, from string, principal Principal, restored int) {
	util.OrdersCancelledTotal.Inc()
	util.OrderStatusTransitionsTotal.WithLabelValues(from, models.OrderStatusCancelled).Inc()
	util.StockRestoredUnitsTotal.Add(float64(restored))
	s.logger.Info("Order cancelled",
		zap.Int64("order_id", orderID),
		zap.String("from", from),
		zap.Int64("cancelled_by", principal.UserID),
		zap.Int("restored_units", restored))
}
