package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"order-engine/internal/models"
	"order-engine/internal/service"
	"order-engine/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	key       string
	eventType string
}

type fakePublisher struct {
	mu      sync.Mutex
	sent    []published
	failAt  int
	failErr error
}

func (p *fakePublisher) Publish(ctx context.Context, key, eventType string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failErr != nil && len(p.sent) == p.failAt {
		return p.failErr
	}
	p.sent = append(p.sent, published{key: key, eventType: eventType})
	return nil
}

type env struct {
	db        *storetest.Store
	orders    *service.OrderService
	lifecycle *service.LifecycleService
	customer  int64
	address   int64
	product   int64
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := storetest.New()
	inv := service.NewInventory(db)
	e := &env{
		db:        db,
		orders:    service.NewOrderService(db, inv, nil, time.Hour),
		lifecycle: service.NewLifecycleService(db, inv),
		customer:  db.AddUser(models.RoleCustomer),
		product:   db.AddProduct("Mouse", "19.99", 10),
	}
	e.address = db.AddAddress(e.customer, "Home", "Istanbul", "Kadikoy", "Moda Cd. 12")
	return e
}

func (e *env) placeOrder(t *testing.T) int64 {
	t.Helper()
	detail, err := e.orders.CreateDirect(context.Background(), &service.PlaceOrderRequest{
		UserID:    e.customer,
		AddressID: e.address,
		Items:     []service.OrderItemRequest{{ProductID: e.product, Quantity: 1}},
	})
	require.NoError(t, err)
	return detail.ID
}

func pending(t *testing.T, db *storetest.Store) int {
	t.Helper()
	events, err := db.FetchPendingEvents(context.Background(), 100)
	require.NoError(t, err)
	return len(events)
}

func TestOutboxRelay_PublishesInOrderAndMarksSent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first := e.placeOrder(t)
	second := e.placeOrder(t)
	_, err := e.lifecycle.Cancel(ctx, service.Principal{UserID: e.customer, Role: models.RoleCustomer}, first)
	require.NoError(t, err)

	pub := &fakePublisher{}
	relay := NewOutboxRelay(e.db, pub, time.Second, 2)

	n, err := relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Equal(t, []published{
		{key: fmt.Sprintf("order-%d", first), eventType: models.EventTypeOrderCreated},
		{key: fmt.Sprintf("order-%d", second), eventType: models.EventTypeOrderCreated},
		{key: fmt.Sprintf("order-%d", first), eventType: models.EventTypeOrderCancelled},
	}, pub.sent)
	assert.Equal(t, 0, pending(t, e.db))
}

func TestOutboxRelay_StopsAtFirstFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.placeOrder(t)
	e.placeOrder(t)

	pub := &fakePublisher{failAt: 1, failErr: errors.New("broker unavailable")}
	relay := NewOutboxRelay(e.db, pub, time.Second, 10)

	n, err := relay.RelayOnce(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, pending(t, e.db))

	pub.failErr = nil
	n, err = relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, pub.sent, 2)
}

func TestOutboxRelay_FetchFailure(t *testing.T) {
	e := newEnv(t)
	e.placeOrder(t)
	e.db.FailOn("FetchPendingEvents", errors.New("connection refused"))

	relay := NewOutboxRelay(e.db, &fakePublisher{}, time.Second, 10)
	_, err := relay.RelayOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, len(e.db.Events()))
}

func TestOutboxRelay_StartStopsOnCancel(t *testing.T) {
	e := newEnv(t)
	e.placeOrder(t)
	pub := &fakePublisher{}
	relay := NewOutboxRelay(e.db, pub, 10*time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Start(ctx) }()

	assert.Eventually(t, func() bool { return pending(t, e.db) == 0 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func statusEvent(id string, orderID int64, status string) *models.StatusUpdateRequestedEvent {
	return &models.StatusUpdateRequestedEvent{
		BaseEvent: models.BaseEvent{EventID: id, EventType: models.EventTypeStatusUpdateRequested, Timestamp: time.Now()},
		OrderID:   orderID,
		Status:    status,
	}
}

func orderStatus(t *testing.T, e *env, orderID int64) string {
	t.Helper()
	order, err := e.db.GetOrderByID(context.Background(), orderID)
	require.NoError(t, err)
	return order.Status
}

func TestStatusWorker_AppliesOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	orderID := e.placeOrder(t)
	w := NewStatusWorker(nil, e.lifecycle, e.db)

	require.NoError(t, w.HandleStatusUpdate(ctx, statusEvent("evt-1", orderID, models.OrderStatusShipped)))
	assert.Equal(t, models.OrderStatusShipped, orderStatus(t, e, orderID))

	// the order moves on, then the same command is redelivered
	e.db.SetOrderStatus(orderID, models.OrderStatusProcessing)
	require.NoError(t, w.HandleStatusUpdate(ctx, statusEvent("evt-1", orderID, models.OrderStatusShipped)))
	assert.Equal(t, models.OrderStatusProcessing, orderStatus(t, e, orderID))

	done, err := e.db.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestStatusWorker_CancelRestoresStock(t *testing.T) {
	e := newEnv(t)
	orderID := e.placeOrder(t)
	w := NewStatusWorker(nil, e.lifecycle, e.db)

	require.NoError(t, w.HandleStatusUpdate(context.Background(), statusEvent("evt-2", orderID, models.OrderStatusCancelled)))
	assert.Equal(t, models.OrderStatusCancelled, orderStatus(t, e, orderID))
	assert.Equal(t, 10, e.db.Stock(e.product))
}

func TestStatusWorker_RejectedCommandsAreDropped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	orderID := e.placeOrder(t)
	e.db.SetOrderStatus(orderID, models.OrderStatusDelivered)
	w := NewStatusWorker(nil, e.lifecycle, e.db)

	assert.NoError(t, w.HandleStatusUpdate(ctx, statusEvent("evt-3", orderID, models.OrderStatusPending)))
	assert.NoError(t, w.HandleStatusUpdate(ctx, statusEvent("evt-4", 9999, models.OrderStatusShipped)))
	assert.NoError(t, w.HandleStatusUpdate(ctx, statusEvent("evt-5", orderID, "teleported")))

	for _, id := range []string{"evt-3", "evt-4", "evt-5"} {
		done, err := e.db.IsEventProcessed(ctx, id)
		require.NoError(t, err)
		assert.True(t, done, id)
	}
	assert.Equal(t, models.OrderStatusDelivered, orderStatus(t, e, orderID))
}

func TestStatusWorker_InfrastructureFailureIsRetried(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	orderID := e.placeOrder(t)
	w := NewStatusWorker(nil, e.lifecycle, e.db)

	e.db.FailOn("UpdateOrderStatus", errors.New("connection reset"))
	assert.Error(t, w.HandleStatusUpdate(ctx, statusEvent("evt-6", orderID, models.OrderStatusShipped)))

	done, err := e.db.IsEventProcessed(ctx, "evt-6")
	require.NoError(t, err)
	assert.False(t, done)

	e.db.FailOn("UpdateOrderStatus", nil)
	require.NoError(t, w.HandleStatusUpdate(ctx, statusEvent("evt-6", orderID, models.OrderStatusShipped)))
	assert.Equal(t, models.OrderStatusShipped, orderStatus(t, e, orderID))
}
