// Package storetest provides an in-memory implementation of the store interfaces
// for tests. Transactions are serialized and applied to a copy of the data that
// replaces the live copy only when the transaction function succeeds.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"order-engine/internal/apperr"
	"order-engine/internal/models"
	"order-engine/internal/store"

	"github.com/shopspring/decimal"
)

type data struct {
	users      map[int64]models.User
	products   map[int64]models.Product
	addresses  map[int64]models.Address
	carts      map[int64]models.Cart
	cartItems  map[int64]models.CartItem
	orders     map[int64]models.Order
	orderItems map[int64]models.OrderItem
	outbox     []models.OutboxEvent
	processed  map[string]models.ProcessedEvent
	seq        int64
}

func (d *data) clone() *data {
	c := &data{
		users:      make(map[int64]models.User, len(d.users)),
		products:   make(map[int64]models.Product, len(d.products)),
		addresses:  make(map[int64]models.Address, len(d.addresses)),
		carts:      make(map[int64]models.Cart, len(d.carts)),
		cartItems:  make(map[int64]models.CartItem, len(d.cartItems)),
		orders:     make(map[int64]models.Order, len(d.orders)),
		orderItems: make(map[int64]models.OrderItem, len(d.orderItems)),
		outbox:     append([]models.OutboxEvent(nil), d.outbox...),
		processed:  make(map[string]models.ProcessedEvent, len(d.processed)),
		seq:        d.seq,
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.products {
		c.products[k] = v
	}
	for k, v := range d.addresses {
		c.addresses[k] = v
	}
	for k, v := range d.carts {
		c.carts[k] = v
	}
	for k, v := range d.cartItems {
		c.cartItems[k] = v
	}
	for k, v := range d.orders {
		c.orders[k] = v
	}
	for k, v := range d.orderItems {
		c.orderItems[k] = v
	}
	for k, v := range d.processed {
		c.processed[k] = v
	}
	return c
}

func (d *data) nextID() int64 {
	d.seq++
	return d.seq
}

// Store is an in-memory store.Repository, store.Outbox and store.ProcessedEvents
type Store struct {
	mu       sync.Mutex
	d        *data
	failures map[string]error
}

var (
	_ store.Repository      = (*Store)(nil)
	_ store.Tx              = (*memTx)(nil)
	_ store.Outbox          = (*Store)(nil)
	_ store.ProcessedEvents = (*Store)(nil)
)

// New returns an empty store
func New() *Store {
	return &Store{
		d: &data{
			users:      map[int64]models.User{},
			products:   map[int64]models.Product{},
			addresses:  map[int64]models.Address{},
			carts:      map[int64]models.Cart{},
			cartItems:  map[int64]models.CartItem{},
			orders:     map[int64]models.Order{},
			orderItems: map[int64]models.OrderItem{},
			processed:  map[string]models.ProcessedEvent{},
		},
		failures: map[string]error{},
	}
}

// FailOn makes the named operation return err until cleared with FailOn(op, nil).
// Operation names match the Tx and Repository method names.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) fail(op string) error {
	if err, ok := s.failures[op]; ok {
		return err
	}
	return nil
}

// Seeding and inspection helpers

func (s *Store) AddUser(role string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.d.nextID()
	s.d.users[id] = models.User{ID: id, Role: role, CreatedAt: time.Now()}
	return id
}

func (s *Store) DeleteUser(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.d.users[id]
	u.IsDeleted = true
	s.d.users[id] = u
}

func (s *Store) AddProduct(name, price string, stock int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.d.nextID()
	s.d.products[id] = models.Product{
		ID:        id,
		Name:      name,
		Price:     decimal.RequireFromString(price),
		Stock:     stock,
		UpdatedAt: time.Now(),
	}
	return id
}

func (s *Store) SetPrice(productID int64, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.d.products[productID]
	p.Price = decimal.RequireFromString(price)
	s.d.products[productID] = p
}

func (s *Store) SetStock(productID int64, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.d.products[productID]
	p.Stock = stock
	s.d.products[productID] = p
}

func (s *Store) DeleteProduct(productID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.d.products[productID]
	p.IsDeleted = true
	s.d.products[productID] = p
}

func (s *Store) Stock(productID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.products[productID].Stock
}

func (s *Store) AddAddress(userID int64, title, city, district, detail string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.d.nextID()
	s.d.addresses[id] = models.Address{
		ID: id, UserID: userID, Title: title, City: city, District: district, Detail: detail,
	}
	return id
}

func (s *Store) UpdateAddress(id int64, city string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.d.addresses[id]
	a.City = city
	s.d.addresses[id] = a
}

func (s *Store) DeleteAddress(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.d.addresses[id]
	a.IsDeleted = true
	s.d.addresses[id] = a
}

// SetOrderStatus bypasses the lifecycle rules to put an order into a given state
func (s *Store) SetOrderStatus(orderID int64, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.d.orders[orderID]
	o.Status = status
	s.d.orders[orderID] = o
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.d.orders)
}

func (s *Store) OrderItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.d.orderItems)
}

func (s *Store) CartItemCount(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.d.carts {
		if c.UserID != userID {
			continue
		}
		for _, it := range s.d.cartItems {
			if it.CartID == c.ID {
				n++
			}
		}
	}
	return n
}

// Events returns every outbox row, sent or not
func (s *Store) Events() []models.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OutboxEvent(nil), s.d.outbox...)
}

// Repository

func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetUser"); err != nil {
		return nil, err
	}
	u, ok := s.d.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found: %d", id)
	}
	return &u, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetProduct"); err != nil {
		return nil, err
	}
	p, ok := s.d.products[id]
	if !ok {
		return nil, apperr.NotFound("product not found: %d", id)
	}
	return &p, nil
}

func (s *Store) GetAddress(ctx context.Context, id, userID int64) (*models.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.d.addresses[id]
	if !ok || a.UserID != userID {
		return nil, apperr.NotFound("address not found: %d", id)
	}
	return &a, nil
}

func (s *Store) GetCartByUserID(ctx context.Context, userID int64) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cartByUser(s.d, userID), nil
}

func (s *Store) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := cartByUser(s.d, userID); c != nil {
		return c, nil
	}
	c := models.Cart{ID: s.d.nextID(), UserID: userID, CreatedAt: time.Now()}
	s.d.carts[c.ID] = c
	return &c, nil
}

func (s *Store) FindCartItemByProduct(ctx context.Context, cartID, productID int64) (*models.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.d.cartItems {
		if it.CartID == cartID && it.ProductID == productID {
			return &it, nil
		}
	}
	return nil, nil
}

func (s *Store) GetCartItem(ctx context.Context, cartID, itemID int64) (*models.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.d.cartItems[itemID]
	if !ok || it.CartID != cartID {
		return nil, apperr.NotFound("cart item not found: %d", itemID)
	}
	return &it, nil
}

func (s *Store) SaveCartItem(ctx context.Context, item *models.CartItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SaveCartItem"); err != nil {
		return err
	}
	for id, it := range s.d.cartItems {
		if it.CartID == item.CartID && it.ProductID == item.ProductID {
			it.Quantity = item.Quantity
			s.d.cartItems[id] = it
			item.ID = it.ID
			item.CreatedAt = it.CreatedAt
			return nil
		}
	}
	item.ID = s.d.nextID()
	item.CreatedAt = time.Now()
	s.d.cartItems[item.ID] = *item
	return nil
}

func (s *Store) UpdateCartItemQuantity(ctx context.Context, itemID int64, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.d.cartItems[itemID]
	if !ok {
		return nil
	}
	it.Quantity = quantity
	s.d.cartItems[itemID] = it
	return nil
}

func (s *Store) DeleteCartItem(ctx context.Context, cartID, itemID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.d.cartItems[itemID]
	if !ok || it.CartID != cartID {
		return false, nil
	}
	delete(s.d.cartItems, itemID)
	return true, nil
}

func (s *Store) ClearCart(ctx context.Context, cartID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clearCart(s.d, cartID)
	return nil
}

func (s *Store) ListCartLines(ctx context.Context, cartID int64) ([]models.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := []models.CartLine{}
	for _, it := range itemsOfCart(s.d, cartID) {
		p := s.d.products[it.ProductID]
		lines = append(lines, models.CartLine{
			ItemID:    it.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Name:      p.Name,
			Price:     p.Price,
			Stock:     p.Stock,
			IsDeleted: p.IsDeleted,
		})
	}
	return lines, nil
}

func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.d.orders[id]
	if !ok {
		return nil, apperr.NotFound("order not found: %d", id)
	}
	return &o, nil
}

func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.d.orders {
		if o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return &o, nil
		}
	}
	return nil, nil
}

func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return itemsOfOrder(s.d, orderID), nil
}

func (s *Store) GetOrders(ctx context.Context) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedOrders(s.d, func(models.Order) bool { return true }), nil
}

func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedOrders(s.d, func(o models.Order) bool { return o.UserID == userID }), nil
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s, d: s.d.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := s.fail("Commit"); err != nil {
		return err
	}
	s.d = tx.d
	return nil
}

// Outbox and ProcessedEvents

func (s *Store) FetchPendingEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FetchPendingEvents"); err != nil {
		return nil, err
	}
	var out []models.OutboxEvent
	for _, e := range s.d.outbox {
		if e.SentAt == nil {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkEventSent(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for i := range s.d.outbox {
		if s.d.outbox[i].ID == id {
			s.d.outbox[i].SentAt = &now
		}
	}
	return nil
}

func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.d.processed[eventID]
	return ok, nil
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.d.processed[eventID]; !ok {
		s.d.processed[eventID] = models.ProcessedEvent{EventID: eventID, EventType: eventType, ProcessedAt: time.Now()}
	}
	return nil
}

// memTx works on a private copy of the data; s.mu is held by InTx for its lifetime.
type memTx struct {
	s *Store
	d *data
}

func (t *memTx) GetCartByUserID(ctx context.Context, userID int64) (*models.Cart, error) {
	return cartByUser(t.d, userID), nil
}

func (t *memTx) ListCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	return itemsOfCart(t.d, cartID), nil
}

func (t *memTx) ClearCart(ctx context.Context, cartID int64) error {
	if err := t.s.fail("ClearCart"); err != nil {
		return err
	}
	clearCart(t.d, cartID)
	return nil
}

func (t *memTx) LockProducts(ctx context.Context, ids []int64) (map[int64]*models.Product, error) {
	if err := t.s.fail("LockProducts"); err != nil {
		return nil, err
	}
	out := make(map[int64]*models.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.d.products[id]; ok {
			p := p
			out[id] = &p
		}
	}
	return out, nil
}

func (t *memTx) DecrementStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	if err := t.s.fail("DecrementStock"); err != nil {
		return false, err
	}
	p, ok := t.d.products[productID]
	if !ok || p.Stock < quantity {
		return false, nil
	}
	p.Stock -= quantity
	t.d.products[productID] = p
	return true, nil
}

func (t *memTx) IncrementStock(ctx context.Context, productID int64, quantity int) error {
	if err := t.s.fail("IncrementStock"); err != nil {
		return err
	}
	p := t.d.products[productID]
	p.Stock += quantity
	t.d.products[productID] = p
	return nil
}

func (t *memTx) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := t.s.fail("CreateOrder"); err != nil {
		return err
	}
	if order.IdempotencyKey != nil {
		for _, o := range t.d.orders {
			if o.IdempotencyKey != nil && *o.IdempotencyKey == *order.IdempotencyKey {
				return apperr.Conflict(store.ErrDuplicateKey, "create order: duplicate")
			}
		}
	}
	now := time.Now()
	order.ID = t.d.nextID()
	order.CreatedAt = now
	order.UpdatedAt = now
	t.d.orders[order.ID] = *order
	return nil
}

func (t *memTx) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	if err := t.s.fail("CreateOrderItem"); err != nil {
		return err
	}
	item.ID = t.d.nextID()
	t.d.orderItems[item.ID] = *item
	return nil
}

func (t *memTx) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	o, ok := t.d.orders[id]
	if !ok {
		return nil, apperr.NotFound("order not found: %d", id)
	}
	return &o, nil
}

func (t *memTx) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	return itemsOfOrder(t.d, orderID), nil
}

func (t *memTx) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	if err := t.s.fail("UpdateOrderStatus"); err != nil {
		return err
	}
	o := t.d.orders[orderID]
	o.Status = status
	o.UpdatedAt = time.Now()
	t.d.orders[orderID] = o
	return nil
}

func (t *memTx) EnqueueEvent(ctx context.Context, event *models.OutboxEvent) error {
	if err := t.s.fail("EnqueueEvent"); err != nil {
		return err
	}
	event.ID = t.d.nextID()
	event.CreatedAt = time.Now()
	t.d.outbox = append(t.d.outbox, *event)
	return nil
}

func cartByUser(d *data, userID int64) *models.Cart {
	for _, c := range d.carts {
		if c.UserID == userID {
			return &c
		}
	}
	return nil
}

func itemsOfCart(d *data, cartID int64) []models.CartItem {
	items := []models.CartItem{}
	for _, it := range d.cartItems {
		if it.CartID == cartID {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func clearCart(d *data, cartID int64) {
	for id, it := range d.cartItems {
		if it.CartID == cartID {
			delete(d.cartItems, id)
		}
	}
}

func itemsOfOrder(d *data, orderID int64) []models.OrderItem {
	items := []models.OrderItem{}
	for _, it := range d.orderItems {
		if it.OrderID == orderID {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func sortedOrders(d *data, keep func(models.Order) bool) []models.Order {
	orders := []models.Order{}
	for _, o := range d.orders {
		if keep(o) {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	return orders
}
