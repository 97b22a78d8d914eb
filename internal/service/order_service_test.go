package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"order-engine/internal/apperr"
	"order-engine/internal/models"
	"order-engine/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateFromCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.db.AddProduct("Mouse", "19.99", 5)
	p2 := f.db.AddProduct("Pad", "5.00", 3)
	f.fillCart(t, map[int64]int{p1: 2, p2: 1})

	detail, err := f.orders.CreateFromCart(ctx, &PlaceOrderRequest{UserID: f.customer, AddressID: f.address})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, detail.Status)
	assert.Equal(t, f.customer, detail.UserID)
	assert.Equal(t, "44.98", detail.TotalPrice.StringFixed(2))
	assert.Equal(t, "Istanbul", detail.City)
	assert.Equal(t, "Home", detail.Title)
	require.Len(t, detail.Items, 2)
	for _, item := range detail.Items {
		assert.Equal(t, detail.ID, item.OrderID)
		assert.True(t, item.Subtotal.Equal(item.UnitPrice.Mul(decimalOf(item.Quantity))))
	}

	assert.Equal(t, 3, f.db.Stock(p1))
	assert.Equal(t, 2, f.db.Stock(p2))
	assert.Equal(t, 0, f.db.CartItemCount(f.customer))

	events := f.db.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypeOrderCreated, events[0].EventType)
	assert.Equal(t, orderKey(detail.ID), events[0].Key)

	var created models.OrderCreatedEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &created))
	assert.Equal(t, detail.ID, created.OrderID)
	assert.Equal(t, events[0].EventID, created.EventID)
	assert.Len(t, created.Items, 2)
}

func TestCreateFromCart_EmptyCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orders.CreateFromCart(ctx, &PlaceOrderRequest{UserID: f.customer, AddressID: f.address})
	assert.True(t, errors.Is(err, apperr.ErrEmptyCart))

	// a cart that existed and was emptied is still empty
	p := f.db.AddProduct("A", "1.00", 1)
	item, err := f.carts.AddItem(ctx, f.customer, p, 1)
	require.NoError(t, err)
	require.NoError(t, f.carts.RemoveItem(ctx, f.customer, item.ID))

	_, err = f.orders.CreateFromCart(ctx, &PlaceOrderRequest{UserID: f.customer, AddressID: f.address})
	assert.True(t, errors.Is(err, apperr.ErrEmptyCart))
	assert.Equal(t, 0, f.db.OrderCount())
}

func TestPlaceOrder_InvalidAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.db.AddProduct("A", "1.00", 10)
	f.fillCart(t, map[int64]int{p: 1})

	foreign := f.db.AddAddress(f.other, "Work", "Ankara", "Cankaya", "Tunali 5")
	deleted := f.db.AddAddress(f.customer, "Old", "Izmir", "Konak", "Kordon 1")
	f.db.DeleteAddress(deleted)

	for name, addressID := range map[string]int64{"foreign": foreign, "deleted": deleted, "missing": 9999} {
		t.Run(name, func(t *testing.T) {
			_, err := f.orders.PlaceOrder(ctx, &PlaceOrderRequest{UserID: f.customer, AddressID: addressID})
			assert.True(t, errors.Is(err, apperr.ErrInvalidAddress))
		})
	}

	assert.Equal(t, 0, f.db.OrderCount())
	assert.Equal(t, 10, f.db.Stock(p))
	assert.Equal(t, 1, f.db.CartItemCount(f.customer))
}

func TestPlaceOrder_UnknownOrDeletedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.db.AddProduct("A", "1.00", 10)

	_, err := f.orders.CreateDirect(ctx, &PlaceOrderRequest{
		UserID: 9999, AddressID: f.address, Items: []OrderItemRequest{{ProductID: p, Quantity: 1}},
	})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	f.db.DeleteUser(f.customer)
	_, err = f.orders.CreateDirect(ctx, &PlaceOrderRequest{
		UserID: f.customer, AddressID: f.address, Items: []OrderItemRequest{{ProductID: p, Quantity: 1}},
	})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestCreateFromCart_InsufficientStockRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.db.AddProduct("Mouse", "19.99", 5)
	p2 := f.db.AddProduct("Pad", "5.00", 3)
	f.fillCart(t, map[int64]int{p1: 2, p2: 2})

	// stock drops after the advisory cart check
	f.db.SetStock(p2, 1)

	_, err := f.orders.CreateFromCart(ctx, &PlaceOrderRequest{UserID: f.customer, AddressID: f.address})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))
	assert.Equal(t, p2, apperr.ProductOf(err))

	assert.Equal(t, 5, f.db.Stock(p1))
	assert.Equal(t, 1, f.db.Stock(p2))
	assert.Equal(t, 0, f.db.OrderCount())
	assert.Equal(t, 0, f.db.OrderItemCount())
	assert.Equal(t, 2, f.db.CartItemCount(f.customer))
	assert.Empty(t, f.db.Events())
}

func TestCreateFromCart_DeletedProductIsUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.db.AddProduct("Gone", "3.00", 5)
	f.fillCart(t, map[int64]int{p: 1})
	f.db.DeleteProduct(p)

	_, err := f.orders.CreateFromCart(ctx, &PlaceOrderRequest{UserID: f.customer, AddressID: f.address})
	assert.True(t, errors.Is(err, apperr.ErrInsufficientStock))
	assert.Equal(t, p, apperr.ProductOf(err))
	assert.Equal(t, 1, f.db.CartItemCount(f.customer))
}

func TestCreateDirect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.db.AddProduct("Mouse", "19.99", 5)
	p2 := f.db.AddProduct("Pad", "5.00", 3)
	f.fillCart(t, map[int64]int{p2: 1})

	detail, err := f.orders.PlaceOrder(ctx, &PlaceOrderRequest{
		UserID:    f.customer,
		AddressID: f.address,
		Items: []OrderItemRequest{
			{ProductID: p1, Quantity: 1},
			{ProductID: p1, Quantity: 2},
		},
	})
	require.NoError(t, err)

	require.Len(t, detail.Items, 1)
	assert.Equal(t, 3, detail.Items[0].Quantity)
	assert.Equal(t, "59.97", detail.TotalPrice.StringFixed(2))
	assert.Equal(t, 2, f.db.Stock(p1))
	// the cart is not touched
	assert.Equal(t, 1, f.db.CartItemCount(f.customer))
}

func TestCreateDirect_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.db.AddProduct("A", "1.00", 2)
	deleted := f.db.AddProduct("B", "1.00", 2)
	f.db.DeleteProduct(deleted)

	tests := []struct {
		name  string
		items []OrderItemRequest
		want  error
	}{
		{"no items", nil, apperr.ErrInvalidArgument},
		{"zero quantity", []OrderItemRequest{{ProductID: p, Quantity: 0}}, apperr.ErrInvalidArgument},
		{"unknown product", []OrderItemRequest{{ProductID: 9999, Quantity: 1}}, apperr.ErrNotFound},
		{"deleted product", []OrderItemRequest{{ProductID: deleted, Quantity: 1}}, apperr.ErrNotFound},
		{"not enough stock", []OrderItemRequest{{ProductID: p, Quantity: 3}}, apperr.ErrInsufficientStock},
		{"merged quantity wraps", []OrderItemRequest{{ProductID: p, Quantity: math.MaxInt}, {ProductID: p, Quantity: 1}}, apperr.ErrInvalidArgument},
		{"merged quantity above bound", []OrderItemRequest{{ProductID: p, Quantity: MaxLineQuantity}, {ProductID: p, Quantity: 1}}, apperr.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orders.CreateDirect(ctx, &PlaceOrderRequest{UserID: f.customer, AddressID: f.address, Items: tt.items})
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
	assert.Equal(t, 0, f.db.OrderCount())
	assert.Equal(t, 2, f.db.Stock(p))
}

func TestPlaceOrder_AtomicOnStoreFailure(t *testing.T) {
	for _, op := range []string{"LockProducts", "CreateOrder", "CreateOrderItem", "DecrementStock", "ClearCart", "EnqueueEvent", "Commit"} {
		t.Run(op, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			p1 := f.db.AddProduct("Mouse", "19.99", 5)
			p2 := f.db.AddProduct("Pad", "5.00", 3)
			f.fillCart(t, map[int64]int{p1: 2, p2: 1})

			f.db.FailOn(op, errors.New("disk full"))
			_, err := f.orders.CreateFromCart(ctx, &PlaceOrderRequest{UserID: f.customer, AddressID: f.address})
			require.Error(t, err)

			assert.Equal(t, 5, f.db.Stock(p1))
			assert.Equal(t, 3, f.db.Stock(p2))
			assert.Equal(t, 0, f.db.OrderCount())
			assert.Equal(t, 0, f.db.OrderItemCount())
			assert.Equal(t, 2, f.db.CartItemCount(f.customer))
			assert.Empty(t, f.db.Events())

			f.db.FailOn(op, nil)
			_, err = f.orders.CreateFromCart(ctx, &PlaceOrderRequest{UserID: f.customer, AddressID: f.address})
			assert.NoError(t, err)
		})
	}
}

func TestInventoryTake_RefusedDecrementIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.db.AddProduct("A", "1.00", 2)

	err := f.db.InTx(ctx, func(tx store.Tx) error {
		return f.inventory.Take(ctx, tx, p, 3)
	})
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	assert.Equal(t, 2, f.db.Stock(p))
}

func TestInventory_RejectsNonPositiveQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.db.AddProduct("A", "1.00", 2)

	err := f.db.InTx(ctx, func(tx store.Tx) error {
		return f.inventory.Take(ctx, tx, p, -5)
	})
	assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))

	err = f.db.InTx(ctx, func(tx store.Tx) error {
		return f.inventory.Restore(ctx, tx, p, 0)
	})
	assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))
	assert.Equal(t, 2, f.db.Stock(p))
}

func TestPlaceOrder_SnapshotsAreImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.db.AddProduct("Mouse", "19.99", 5)

	detail, err := f.orders.CreateDirect(ctx, &PlaceOrderRequest{
		UserID: f.customer, AddressID: f.address, Items: []OrderItemRequest{{ProductID: p, Quantity: 2}},
	})
	require.NoError(t, err)

	f.db.SetPrice(p, "99.00")
	f.db.UpdateAddress(f.address, "Bursa")
	f.db.DeleteProduct(p)

	got, err := f.orders.GetOrder(ctx, f.customerPrincipal(), detail.ID)
	require.NoError(t, err)
	assert.Equal(t, "39.98", got.TotalPrice.StringFixed(2))
	assert.Equal(t, "19.99", got.Items[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "Istanbul", got.City)
}

func TestPlaceOrder_NoOversellUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.db.AddProduct("Limited", "10.00", 5)

	const buyers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orders.CreateDirect(ctx, &PlaceOrderRequest{
				UserID: f.customer, AddressID: f.address, Items: []OrderItemRequest{{ProductID: p, Quantity: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, apperr.ErrInsufficientStock) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, buyers-5, rejected)
	assert.Equal(t, 0, f.db.Stock(p))
	assert.Equal(t, 5, f.db.OrderCount())
}

func TestPlaceOrder_IdempotencyKeyReplays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.db.AddProduct("A", "2.50", 10)
	cache := newFakeCache()
	orders := NewOrderService(f.db, f.inventory, cache, time.Hour)

	req := func() *PlaceOrderRequest {
		return &PlaceOrderRequest{
			UserID: f.customer, AddressID: f.address, IdempotencyKey: "key-1",
			Items: []OrderItemRequest{{ProductID: p, Quantity: 2}},
		}
	}

	first, err := orders.PlaceOrder(ctx, req())
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, first.ID, cache.orders["key-1"])

	second, err := orders.PlaceOrder(ctx, req())
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.Items, 1)

	// without the cache the unique column still answers
	uncached := NewOrderService(f.db, f.inventory, nil, time.Hour)
	third, err := uncached.PlaceOrder(ctx, req())
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)

	assert.Equal(t, 8, f.db.Stock(p))
	assert.Equal(t, 1, f.db.OrderCount())
	assert.Len(t, f.db.Events(), 1)

	_, err = orders.PlaceOrder(ctx, &PlaceOrderRequest{
		UserID: f.other, AddressID: f.address, IdempotencyKey: "key-1",
		Items: []OrderItemRequest{{ProductID: p, Quantity: 1}},
	})
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestGetOrderAndListOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.db.AddProduct("A", "1.00", 10)
	otherAddress := f.db.AddAddress(f.other, "Home", "Ankara", "Cankaya", "Tunali 5")

	mine, err := f.orders.CreateDirect(ctx, &PlaceOrderRequest{
		UserID: f.customer, AddressID: f.address, Items: []OrderItemRequest{{ProductID: p, Quantity: 1}},
	})
	require.NoError(t, err)
	theirs, err := f.orders.CreateDirect(ctx, &PlaceOrderRequest{
		UserID: f.other, AddressID: otherAddress, Items: []OrderItemRequest{{ProductID: p, Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = f.orders.GetOrder(ctx, f.customerPrincipal(), theirs.ID)
	assert.True(t, errors.Is(err, apperr.ErrAccessDenied))

	got, err := f.orders.GetOrder(ctx, f.adminPrincipal(), theirs.ID)
	require.NoError(t, err)
	assert.Equal(t, f.other, got.UserID)

	_, err = f.orders.GetOrder(ctx, f.adminPrincipal(), 9999)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	own, err := f.orders.ListOrders(ctx, f.customerPrincipal())
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, mine.ID, own[0].ID)

	all, err := f.orders.ListOrders(ctx, f.adminPrincipal())
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := f.orders.ListOrders(ctx, Principal{UserID: f.admin + 100, Role: models.RoleSeller})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
