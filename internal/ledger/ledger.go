// Package ledger records orders together with their inventory adjustment and
// owns every later change to an order's status and stock.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"storefront/internal/apperr"
	"storefront/internal/database"
	"storefront/internal/events"
	"storefront/internal/metrics"
	"storefront/internal/models"
)

type Store interface {
	Product(ctx context.Context, id string) (models.Product, error)
	DecrementStock(ctx context.Context, productID string, qty int) error
	IncrementStock(ctx context.Context, productID string, qty int) error
	Inventory(ctx context.Context, productID string) (models.InventoryRecord, error)

	InsertOrder(ctx context.Context, o models.Order) error
	Order(ctx context.Context, id string) (models.Order, error)
	OrderByIdempotencyKey(ctx context.Context, identityID, key string) (models.Order, error)
	OrderByTrackingNumber(ctx context.Context, trackingNumber string) (models.Order, error)
	Orders(ctx context.Context, f models.OrderFilter) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, upd models.StatusUpdate) (models.Order, error)
	AppendOrderHistory(ctx context.Context, id string, change models.StatusChange) error
	RecordReservation(ctx context.Context, id, productID string) error
	ClaimRestock(ctx context.Context, id, productID string) (bool, error)
	DeleteOrder(ctx context.Context, id string) error
}

const (
	ActorSystem  = "system"
	ActorGateway = "gateway"
	ActorSweeper = "sweeper"
)

type Config struct {
	Currency     string
	DeliveryDays int
}

type Ledger struct {
	store  Store
	events events.Publisher
	cfg    Config
	now    func() time.Time
}

func New(store Store, publisher events.Publisher, cfg Config) *Ledger {
	if cfg.Currency == "" {
		cfg.Currency = "LKR"
	}
	if cfg.DeliveryDays <= 0 {
		cfg.DeliveryDays = 14
	}
	if publisher == nil {
		publisher = events.LogPublisher{}
	}
	return &Ledger{store: store, events: publisher, cfg: cfg, now: time.Now}
}

// LineItem is one cart line handed to Place.
type LineItem struct {
	ProductID string
	Options   models.CartOptions
	Quantity  int
}

type PlaceRequest struct {
	IdentityID     string
	Address        models.Address
	Items          []LineItem
	Method         models.PaymentMethod
	Currency       string
	IdempotencyKey string
}

func (r PlaceRequest) validate() error {
	switch {
	case strings.TrimSpace(r.IdentityID) == "":
		return apperr.Invalid("identityId", "is required")
	case r.Address.ID == "" || strings.TrimSpace(r.Address.Line1) == "":
		return apperr.Invalid("address", "a shipping address is required")
	case len(r.Items) == 0:
		return apperr.Invalid("items", "cart is empty")
	case !r.Method.Valid():
		return apperr.Invalid("paymentMethod", "must be gateway or cashOnDelivery")
	}
	for _, item := range r.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return apperr.Invalid("productId", "is required")
		}
		if item.Quantity < 1 {
			return apperr.Invalid("quantity", "must be at least 1")
		}
	}
	return nil
}

func notFound(what string, err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, apperr.ErrNotFound)
	}
	return err
}

func newOrderID() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.Must(uuid.NewV7()).String(), "-", ""))
}

func newTrackingNumber() string {
	id := uuid.New()
	return fmt.Sprintf("TRK-%X", id[10:16])
}

// snapshot freezes names and prices from the catalog. Prices are never read
// again for this order.
func (l *Ledger) snapshot(ctx context.Context, lines []LineItem) ([]models.OrderItem, decimal.Decimal, error) {
	items := make([]models.OrderItem, 0, len(lines))
	total := decimal.Zero
	for _, line := range lines {
		product, err := l.store.Product(ctx, line.ProductID)
		if errors.Is(err, database.ErrNotFound) {
			return nil, decimal.Zero, apperr.Invalid("productId", "unknown product "+line.ProductID)
		}
		if err != nil {
			return nil, decimal.Zero, err
		}
		if !product.Purchasable() {
			return nil, decimal.Zero, apperr.Invalid("productId", "product "+line.ProductID+" is not available")
		}

		item := models.OrderItem{
			ProductID: line.ProductID,
			Name:      product.Name,
			Quantity:  line.Quantity,
			UnitPrice: product.EffectivePrice(),
			Options:   line.Options.Normalize(),
		}
		items = append(items, item)
		total = total.Add(item.LineTotal())
	}
	return items, total, nil
}

// Place records an order and takes its stock. The order is written as
// Pending first; every product is then decremented and marked reserved on
// the order. If stock runs out the applied decrements are returned and the
// pending order is removed, so the caller sees all or nothing. A repeated
// idempotency key returns the order created the first time, or a
// TransitionError while that placement is still reserving stock.
func (l *Ledger) Place(ctx context.Context, req PlaceRequest) (models.Order, error) {
	if err := req.validate(); err != nil {
		l.rejected("validation", req.IdentityID, err)
		return models.Order{}, err
	}

	if req.IdempotencyKey != "" {
		existing, err := l.store.OrderByIdempotencyKey(ctx, req.IdentityID, req.IdempotencyKey)
		if err == nil {
			return replay(existing)
		}
		if !errors.Is(err, database.ErrNotFound) {
			return models.Order{}, err
		}
	}

	items, total, err := l.snapshot(ctx, req.Items)
	if err != nil {
		l.rejected("validation", req.IdentityID, err)
		return models.Order{}, err
	}

	currency := req.Currency
	if currency == "" {
		currency = l.cfg.Currency
	}
	now := l.now().UTC()
	order := models.Order{
		IdentityID:          req.IdentityID,
		Address:             req.Address,
		Items:               items,
		Total:               total,
		Currency:            currency,
		PaymentMethod:       req.Method,
		Status:              models.StatusPending,
		IdempotencyKey:      req.IdempotencyKey,
		Reserved:            []string{},
		Restocked:           []string{},
		History:             []models.StatusChange{{To: models.StatusPending, Actor: req.IdentityID, Reason: "placed", At: now}},
		CreatedAt:           now,
		UpdatedAt:           now,
		EstimatedDeliveryAt: now.AddDate(0, 0, l.cfg.DeliveryDays),
	}

	order, fresh, err := l.insert(ctx, order)
	if err != nil {
		return models.Order{}, err
	}
	if !fresh {
		// another request with the same key owns this order
		return replay(order)
	}

	if err := l.reserve(ctx, order); err != nil {
		return models.Order{}, err
	}

	target := models.StatusPaymentPending
	if req.Method == models.PaymentCashOnDelivery {
		target = models.StatusDispatchPending
	}
	placed, err := l.store.UpdateOrderStatus(ctx, order.ID, models.StatusUpdate{
		From:   models.StatusPending,
		To:     target,
		Change: models.StatusChange{Actor: ActorSystem, Reason: "stock reserved", At: l.now().UTC()},
	})
	if err != nil {
		log.Printf("[LEDGER] [ERROR] order %s reserved but not finalized: %v", order.ID, err)
		return models.Order{}, notFound("order "+order.ID, err)
	}

	metrics.OrdersPlaced.WithLabelValues(string(req.Method)).Inc()
	log.Printf("[LEDGER] [INFO] order %s placed for %s: %s %s via %s", placed.ID, placed.IdentityID, placed.Total.StringFixed(2), placed.Currency, placed.PaymentMethod)
	events.Emit(ctx, l.events, events.New(events.OrderPlaced, placed.ID, map[string]any{
		"identityId":    placed.IdentityID,
		"status":        placed.Status,
		"paymentMethod": placed.PaymentMethod,
		"total":         placed.Total.StringFixed(2),
		"currency":      placed.Currency,
	}))
	return placed, nil
}

// replay answers a repeated idempotency key. Only the request that inserted
// a Pending order may reserve for it; everyone else waits for the outcome.
func replay(existing models.Order) (models.Order, error) {
	if existing.Status == models.StatusPending {
		log.Printf("[LEDGER] [WARN] order %s for key %s is still being placed", existing.ID, existing.IdempotencyKey)
		return models.Order{}, apperr.TransitionError{
			From:   string(models.StatusPending),
			To:     string(models.StatusPending),
			Reason: "placement in progress, retry shortly",
		}
	}
	log.Printf("[LEDGER] [INFO] idempotent replay of %s for key %s", existing.ID, existing.IdempotencyKey)
	return existing, nil
}

// insert writes the pending order, regenerating identifiers on a collision.
// A collision on the idempotency key returns the stored order with fresh
// set to false.
func (l *Ledger) insert(ctx context.Context, order models.Order) (models.Order, bool, error) {
	for attempt := 0; attempt < 3; attempt++ {
		order.ID = newOrderID()
		order.TrackingNumber = newTrackingNumber()

		err := l.store.InsertOrder(ctx, order)
		if err == nil {
			return order, true, nil
		}
		if !errors.Is(err, database.ErrConflict) {
			return models.Order{}, false, err
		}
		if order.IdempotencyKey != "" {
			existing, lookupErr := l.store.OrderByIdempotencyKey(ctx, order.IdentityID, order.IdempotencyKey)
			if lookupErr == nil {
				return existing, false, nil
			}
		}
	}
	return models.Order{}, false, errors.New("could not allocate a unique order id")
}

func (l *Ledger) reserve(ctx context.Context, order models.Order) error {
	products, qty := order.Quantities()
	for _, pid := range products {
		err := l.store.DecrementStock(ctx, pid, qty[pid])
		if err == nil {
			err = l.store.RecordReservation(ctx, order.ID, pid)
			if err == nil {
				continue
			}
			// the decrement is not on the order yet, so return it directly
			if undoErr := l.store.IncrementStock(ctx, pid, qty[pid]); undoErr != nil {
				log.Printf("[LEDGER] [ERROR] order %s: could not return %d of %s after failed reservation: %v", order.ID, qty[pid], pid, undoErr)
			}
		}

		cause := err
		reason := "store_error"
		if errors.Is(err, database.ErrInsufficientStock) {
			available := 0
			if rec, invErr := l.store.Inventory(ctx, pid); invErr == nil {
				available = rec.QuantityOnHand
			}
			cause = apperr.OutOfStockError{ProductID: pid, Available: available, Requested: qty[pid]}
			reason = "out_of_stock"
		}

		if compErr := l.restock(ctx, order); compErr != nil {
			log.Printf("[LEDGER] [ERROR] order %s left Pending for the sweep, compensation failed: %v", order.ID, compErr)
			l.rejected(reason, order.IdentityID, cause)
			return cause
		}
		if delErr := l.store.DeleteOrder(ctx, order.ID); delErr != nil {
			log.Printf("[LEDGER] [ERROR] order %s compensated but not removed, left for the sweep: %v", order.ID, delErr)
		}
		l.rejected(reason, order.IdentityID, cause)
		return cause
	}
	return nil
}

func (l *Ledger) rejected(reason, identityID string, err error) {
	metrics.PlacementsRejected.WithLabelValues(reason).Inc()
	log.Printf("[LEDGER] [WARN] placement for %s aborted (%s): %v", identityID, reason, err)
}

// restock returns reserved units of every product exactly once. The claim
// on the order is taken before stock is credited.
func (l *Ledger) restock(ctx context.Context, order models.Order) error {
	products, qty := order.Quantities()
	var firstErr error
	for _, pid := range products {
		claimed, err := l.store.ClaimRestock(ctx, order.ID, pid)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !claimed {
			continue
		}
		if err := l.store.IncrementStock(ctx, pid, qty[pid]); err != nil {
			log.Printf("[LEDGER] [ERROR] order %s: restock claim taken but %d of %s not credited: %v", order.ID, qty[pid], pid, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.Restocked.Add(float64(qty[pid]))
	}
	return firstErr
}

/* =========================
   LOOKUPS
========================= */

func (l *Ledger) Order(ctx context.Context, id string) (models.Order, error) {
	o, err := l.store.Order(ctx, id)
	return o, notFound("order "+id, err)
}

// OrderForIdentity hides other identities' orders behind ErrNotFound.
func (l *Ledger) OrderForIdentity(ctx context.Context, identityID, id string) (models.Order, error) {
	o, err := l.Order(ctx, id)
	if err != nil {
		return models.Order{}, err
	}
	if o.IdentityID != identityID {
		return models.Order{}, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	return o, nil
}

func (l *Ledger) OrdersForIdentity(ctx context.Context, identityID string) ([]models.Order, error) {
	return l.store.Orders(ctx, models.OrderFilter{IdentityID: identityID})
}

func (l *Ledger) Track(ctx context.Context, trackingNumber string) (models.Order, error) {
	o, err := l.store.OrderByTrackingNumber(ctx, strings.TrimSpace(trackingNumber))
	return o, notFound("tracking number "+trackingNumber, err)
}

func (l *Ledger) List(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	return l.store.Orders(ctx, f)
}

func (l *Ledger) Inventory(ctx context.Context, productID string) (models.InventoryRecord, error) {
	rec, err := l.store.Inventory(ctx, productID)
	return rec, notFound("inventory "+productID, err)
}

// Receive books incoming stock for a product.
func (l *Ledger) Receive(ctx context.Context, productID string, qty int) (models.InventoryRecord, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return models.InventoryRecord{}, apperr.Invalid("productId", "is required")
	}
	if qty <= 0 {
		return models.InventoryRecord{}, apperr.Invalid("quantity", "must be at least 1")
	}
	if _, err := l.store.Product(ctx, productID); err != nil {
		return models.InventoryRecord{}, notFound("product "+productID, err)
	}
	if err := l.store.IncrementStock(ctx, productID, qty); err != nil {
		return models.InventoryRecord{}, err
	}
	log.Printf("[LEDGER] [INFO] received %d of %s", qty, productID)
	return l.Inventory(ctx, productID)
}
