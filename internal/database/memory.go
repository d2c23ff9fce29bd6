package database

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront/internal/models"
)

// Memory is an in-process implementation of the same stores as Mongo. It is
// selected with STORE_DRIVER=memory and backs the test suites. Every method
// holds the lock for its whole body, which gives the same per-document
// atomicity the Mongo conditional updates provide.
type Memory struct {
	mu sync.Mutex

	now         func() time.Time
	anonCartTTL time.Duration

	carts         map[string][]*cartItemDocument
	addresses     map[string][]models.Address
	sessions      map[string]models.CheckoutSession
	products      map[string]models.Product
	inventory     map[string]int
	orders        map[string]models.Order
	notifications map[string]models.PaymentNotification
	users         map[string]models.User

	subscribers map[int]chan models.OrderChange
	nextSub     int

	// FailNext, when set, is consulted before every mutating call; a non-nil
	// result is returned instead of performing the write.
	FailNext func(op string) error
}

func NewMemory(anonCartTTL time.Duration) *Memory {
	return &Memory{
		now:           time.Now,
		anonCartTTL:   anonCartTTL,
		carts:         map[string][]*cartItemDocument{},
		addresses:     map[string][]models.Address{},
		sessions:      map[string]models.CheckoutSession{},
		products:      map[string]models.Product{},
		inventory:     map[string]int{},
		orders:        map[string]models.Order{},
		notifications: map[string]models.PaymentNotification{},
		users:         map[string]models.User{},
		subscribers:   map[int]chan models.OrderChange{},
	}
}

// SetClock replaces the time source; tests use it to age orders.
func (s *Memory) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Memory) fail(op string) error {
	if s.FailNext == nil {
		return nil
	}
	return s.FailNext(op)
}

func (s *Memory) Ping(context.Context) error {
	return nil
}

/* =========================
   CATALOG & INVENTORY
========================= */

func (s *Memory) PutProduct(p models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Memory) UpsertProduct(_ context.Context, p models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpsertProduct"); err != nil {
		return err
	}
	s.products[p.ID] = p
	return nil
}

func (s *Memory) Product(_ context.Context, id string) (models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok || p.IsDeleted {
		return models.Product{}, ErrNotFound
	}
	return p, nil
}

// SetStock seeds an inventory record.
func (s *Memory) SetStock(productID string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory[productID] = qty
}

func (s *Memory) DecrementStock(_ context.Context, productID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DecrementStock"); err != nil {
		return err
	}
	onHand, ok := s.inventory[productID]
	if !ok || onHand < qty {
		return ErrInsufficientStock
	}
	s.inventory[productID] = onHand - qty
	return nil
}

func (s *Memory) IncrementStock(_ context.Context, productID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("IncrementStock"); err != nil {
		return err
	}
	s.inventory[productID] += qty
	return nil
}

func (s *Memory) Inventory(_ context.Context, productID string) (models.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	onHand, ok := s.inventory[productID]
	if !ok {
		return models.InventoryRecord{}, ErrNotFound
	}
	return models.InventoryRecord{ProductID: productID, QuantityOnHand: onHand}, nil
}

/* =========================
   CARTS
========================= */

func (s *Memory) findCartItem(owner models.CartOwner, key string) (int, *cartItemDocument) {
	for i, doc := range s.carts[owner.String()] {
		if doc.Key == key {
			return i, doc
		}
	}
	return -1, nil
}

func (s *Memory) CartItems(_ context.Context, owner models.CartOwner) ([]models.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	items := make([]models.CartItem, 0, len(s.carts[owner.String()]))
	for _, doc := range s.carts[owner.String()] {
		if doc.Quantity <= 0 || (doc.ExpiresAt != nil && !doc.ExpiresAt.After(now)) {
			continue
		}
		items = append(items, doc.CartItem)
	}
	return items, nil
}

func (s *Memory) IncrementCartItem(_ context.Context, owner models.CartOwner, item models.CartItem, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("IncrementCartItem"); err != nil {
		return 0, err
	}

	now := s.now()
	_, doc := s.findCartItem(owner, item.Key)
	if doc == nil {
		doc = &cartItemDocument{CartItem: item, ID: cartDocID(owner, item.Key), Owner: owner.String(), CreatedAt: now}
		doc.Quantity = 0
		s.carts[owner.String()] = append(s.carts[owner.String()], doc)
	}
	doc.Quantity += delta
	doc.UpdatedAt = now
	if owner.Kind == models.OwnerAnonymous && s.anonCartTTL > 0 {
		expires := now.Add(s.anonCartTTL)
		doc.ExpiresAt = &expires
	}
	return doc.Quantity, nil
}

func (s *Memory) DecrementCartItem(_ context.Context, owner models.CartOwner, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DecrementCartItem"); err != nil {
		return 0, err
	}

	i, doc := s.findCartItem(owner, key)
	if doc == nil {
		return 0, ErrNotFound
	}
	if doc.Quantity > 1 {
		doc.Quantity--
		doc.UpdatedAt = s.now()
		return doc.Quantity, nil
	}
	s.removeCartIndex(owner, i)
	return 0, nil
}

func (s *Memory) SetCartItemQuantity(_ context.Context, owner models.CartOwner, key string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SetCartItemQuantity"); err != nil {
		return err
	}
	_, doc := s.findCartItem(owner, key)
	if doc == nil {
		return ErrNotFound
	}
	doc.Quantity = qty
	doc.UpdatedAt = s.now()
	return nil
}

func (s *Memory) RemoveCartItem(_ context.Context, owner models.CartOwner, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("RemoveCartItem"); err != nil {
		return err
	}
	i, doc := s.findCartItem(owner, key)
	if doc == nil {
		return ErrNotFound
	}
	s.removeCartIndex(owner, i)
	return nil
}

func (s *Memory) TakeCartItem(_ context.Context, owner models.CartOwner, key string) (models.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("TakeCartItem"); err != nil {
		return models.CartItem{}, err
	}
	i, doc := s.findCartItem(owner, key)
	if doc == nil || doc.Quantity <= 0 {
		return models.CartItem{}, ErrNotFound
	}
	s.removeCartIndex(owner, i)
	return doc.CartItem, nil
}

func (s *Memory) removeCartIndex(owner models.CartOwner, i int) {
	docs := s.carts[owner.String()]
	s.carts[owner.String()] = append(docs[:i:i], docs[i+1:]...)
}

func (s *Memory) ClearCart(_ context.Context, owner models.CartOwner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ClearCart"); err != nil {
		return err
	}
	delete(s.carts, owner.String())
	return nil
}

/* =========================
   ADDRESSES & SESSIONS
========================= */

func (s *Memory) Addresses(_ context.Context, identityID string) ([]models.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Address{}, s.addresses[identityID]...), nil
}

func (s *Memory) InsertAddress(_ context.Context, addr models.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertAddress"); err != nil {
		return err
	}
	for _, existing := range s.addresses[addr.IdentityID] {
		if existing.ID == addr.ID {
			return ErrConflict
		}
	}
	s.addresses[addr.IdentityID] = append(s.addresses[addr.IdentityID], addr)
	return nil
}

func (s *Memory) ReplaceAddress(_ context.Context, addr models.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ReplaceAddress"); err != nil {
		return err
	}
	list := s.addresses[addr.IdentityID]
	for i := range list {
		if list[i].ID == addr.ID {
			addr.CreatedAt = list[i].CreatedAt
			list[i] = addr
			return nil
		}
	}
	return ErrNotFound
}

func (s *Memory) SaveCheckoutSession(_ context.Context, session models.CheckoutSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SaveCheckoutSession"); err != nil {
		return err
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *Memory) CheckoutSession(_ context.Context, id string) (models.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok || !session.ExpiresAt.After(s.now()) {
		return models.CheckoutSession{}, ErrNotFound
	}
	return session, nil
}

/* =========================
   ORDERS
========================= */

func cloneOrder(o models.Order) models.Order {
	o.Items = append([]models.OrderItem{}, o.Items...)
	o.Reserved = append([]string{}, o.Reserved...)
	o.Restocked = append([]string{}, o.Restocked...)
	o.History = append([]models.StatusChange{}, o.History...)
	return o
}

func (s *Memory) InsertOrder(_ context.Context, o models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertOrder"); err != nil {
		return err
	}
	if _, exists := s.orders[o.ID]; exists {
		return ErrConflict
	}
	for _, existing := range s.orders {
		if existing.TrackingNumber == o.TrackingNumber {
			return ErrConflict
		}
		if o.IdempotencyKey != "" && existing.IdentityID == o.IdentityID && existing.IdempotencyKey == o.IdempotencyKey {
			return ErrConflict
		}
	}
	s.orders[o.ID] = cloneOrder(o)
	s.publish(models.OrderChange{Kind: models.OrderInserted, OrderID: o.ID, Order: ptr(cloneOrder(o))})
	return nil
}

func (s *Memory) Order(_ context.Context, id string) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *Memory) OrderByIdempotencyKey(_ context.Context, identityID, key string) (models.Order, error) {
	return s.findOrder(func(o models.Order) bool {
		return o.IdentityID == identityID && o.IdempotencyKey == key
	})
}

func (s *Memory) OrderByTrackingNumber(_ context.Context, trackingNumber string) (models.Order, error) {
	return s.findOrder(func(o models.Order) bool {
		return o.TrackingNumber == trackingNumber
	})
}

func (s *Memory) findOrder(match func(models.Order) bool) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if match(o) {
			return cloneOrder(o), nil
		}
	}
	return models.Order{}, ErrNotFound
}

func (s *Memory) Orders(_ context.Context, f models.OrderFilter) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Order, 0)
	for _, o := range s.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.IdentityID != "" && o.IdentityID != f.IdentityID {
			continue
		}
		if !f.CreatedBefore.IsZero() && !o.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return strings.Compare(out[i].ID, out[j].ID) > 0
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if f.Skip > 0 {
		if f.Skip >= int64(len(out)) {
			return []models.Order{}, nil
		}
		out = out[f.Skip:]
	}
	if f.Limit > 0 && f.Limit < int64(len(out)) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Memory) UpdateOrderStatus(_ context.Context, id string, upd models.StatusUpdate) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpdateOrderStatus"); err != nil {
		return models.Order{}, err
	}

	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, ErrNotFound
	}
	if o.Status != upd.From {
		return models.Order{}, ErrConflict
	}

	change := upd.Change
	change.From = upd.From
	change.To = upd.To
	if change.At.IsZero() {
		change.At = s.now()
	}

	o.Status = upd.To
	o.UpdatedAt = change.At
	if upd.PaymentID != "" {
		o.PaymentID = upd.PaymentID
	}
	if upd.PaymentMethod != "" {
		o.PaymentMethod = upd.PaymentMethod
	}
	o.History = append(o.History, change)
	s.orders[id] = o

	s.publish(models.OrderChange{Kind: models.OrderUpdated, OrderID: id, Order: ptr(cloneOrder(o))})
	return cloneOrder(o), nil
}

func (s *Memory) AppendOrderHistory(_ context.Context, id string, change models.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	if change.At.IsZero() {
		change.At = s.now()
	}
	o.History = append(o.History, change)
	s.orders[id] = o
	s.publish(models.OrderChange{Kind: models.OrderUpdated, OrderID: id, Order: ptr(cloneOrder(o))})
	return nil
}

func (s *Memory) RecordReservation(_ context.Context, id, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("RecordReservation"); err != nil {
		return err
	}
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	if !o.IsReserved(productID) {
		o.Reserved = append(o.Reserved, productID)
		s.orders[id] = o
	}
	return nil
}

func (s *Memory) ClaimRestock(_ context.Context, id, productID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ClaimRestock"); err != nil {
		return false, err
	}
	o, ok := s.orders[id]
	if !ok || !o.IsReserved(productID) || o.IsRestocked(productID) {
		return false, nil
	}
	o.Restocked = append(o.Restocked, productID)
	s.orders[id] = o
	return true, nil
}

func (s *Memory) DeleteOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteOrder"); err != nil {
		return err
	}
	if _, ok := s.orders[id]; !ok {
		return ErrNotFound
	}
	delete(s.orders, id)
	s.publish(models.OrderChange{Kind: models.OrderDeleted, OrderID: id})
	return nil
}

func (s *Memory) WatchOrders(ctx context.Context) (<-chan models.OrderChange, error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan models.OrderChange, 64)
	s.subscribers[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subscribers, id)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}

// publish must be called with the lock held. Slow subscribers lose events
// rather than blocking writers.
func (s *Memory) publish(change models.OrderChange) {
	for id, ch := range s.subscribers {
		select {
		case ch <- change:
		default:
			log.Printf("[ORDERS] [WARN] subscriber %d is full, dropping change for %s", id, change.OrderID)
		}
	}
}

func ptr[T any](v T) *T {
	return &v
}

/* =========================
   PAYMENTS & USERS
========================= */

func (s *Memory) RecordNotification(_ context.Context, n models.PaymentNotification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("RecordNotification"); err != nil {
		return false, err
	}
	if n.ID == "" {
		n.ID = models.NotificationID(n.OrderID, n.PaymentID, n.StatusCode)
	}
	if _, exists := s.notifications[n.ID]; exists {
		return false, nil
	}
	s.notifications[n.ID] = n
	return true, nil
}

func (s *Memory) HasNotification(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("HasNotification"); err != nil {
		return false, err
	}
	_, exists := s.notifications[id]
	return exists, nil
}

// Notifications returns the recorded callbacks for one order.
func (s *Memory) Notifications(orderID string) []models.PaymentNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PaymentNotification, 0)
	for _, n := range s.notifications {
		if n.OrderID == orderID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out
}

func (s *Memory) InsertUser(_ context.Context, u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertUser"); err != nil {
		return err
	}
	if _, exists := s.users[u.ID]; exists {
		return ErrConflict
	}
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return ErrConflict
		}
	}
	s.users[u.ID] = u
	return nil
}

func (s *Memory) UserByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (s *Memory) User(_ context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}
