package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"order-engine/internal/models"
	"order-engine/internal/store/storetest"

	"github.com/shopspring/decimal"
)

const testMaxQuantity = 10

type fixture struct {
	db        *storetest.Store
	inventory *Inventory
	carts     *CartService
	orders    *OrderService
	lifecycle *LifecycleService

	customer int64
	other    int64
	admin    int64
	address  int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := storetest.New()
	inv := NewInventory(db)
	f := &fixture{
		db:        db,
		inventory: inv,
		carts:     NewCartService(db, inv, nil, testMaxQuantity, time.Second),
		orders:    NewOrderService(db, inv, nil, time.Hour),
		lifecycle: NewLifecycleService(db, inv),
		customer:  db.AddUser(models.RoleCustomer),
		other:     db.AddUser(models.RoleCustomer),
		admin:     db.AddUser(models.RoleAdmin),
	}
	f.address = db.AddAddress(f.customer, "Home", "Istanbul", "Kadikoy", "Moda Cd. 12")
	return f
}

func (f *fixture) customerPrincipal() Principal {
	return Principal{UserID: f.customer, Role: models.RoleCustomer}
}

func (f *fixture) otherPrincipal() Principal {
	return Principal{UserID: f.other, Role: models.RoleCustomer}
}

func (f *fixture) adminPrincipal() Principal {
	return Principal{UserID: f.admin, Role: models.RoleAdmin}
}

// fillCart adds the given product quantities to the customer's cart
func (f *fixture) fillCart(t *testing.T, quantities map[int64]int) {
	t.Helper()
	for productID, qty := range quantities {
		if _, err := f.carts.AddItem(context.Background(), f.customer, productID, qty); err != nil {
			t.Fatalf("add product %d to cart: %v", productID, err)
		}
	}
}

func decimalOf(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}

func (f *fixture) eventTypes() []string {
	var types []string
	for _, e := range f.db.Events() {
		types = append(types, e.EventType)
	}
	return types
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	err      error
	acquired int
	released int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]bool{}}
}

func (l *fakeLocker) Lock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.held[name] = true
	l.acquired++
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, name)
		l.released++
		return nil
	}, nil
}

type fakeCache struct {
	mu      sync.Mutex
	orders  map[string]int64
	lookups int
}

func newFakeCache() *fakeCache {
	return &fakeCache{orders: map[string]int64{}}
}

func (c *fakeCache) LookupOrder(ctx context.Context, key string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups++
	id, ok := c.orders[key]
	return id, ok, nil
}

func (c *fakeCache) RememberOrder(ctx context.Context, key string, orderID int64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders[key] = orderID
	return nil
}
