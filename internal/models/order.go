package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	// StatusPending marks an order whose stock reservation is still in progress.
	StatusPending         OrderStatus = "Pending"
	StatusPaymentPending  OrderStatus = "Payment Pending"
	StatusDispatchPending OrderStatus = "Dispatch Pending"
	StatusPacked          OrderStatus = "Packed"
	StatusOnTheWay        OrderStatus = "On The Way"
	StatusDelivered       OrderStatus = "Delivered"
	StatusCancelled       OrderStatus = "Cancelled"
)

// Terminal reports whether no transition is defined out of the status.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

func ParseOrderStatus(raw string) (OrderStatus, bool) {
	for _, s := range []OrderStatus{
		StatusPending,
		StatusPaymentPending,
		StatusDispatchPending,
		StatusPacked,
		StatusOnTheWay,
		StatusDelivered,
		StatusCancelled,
	} {
		if string(s) == raw {
			return s, true
		}
	}
	return "", false
}

type PaymentMethod string

const (
	PaymentGateway        PaymentMethod = "gateway"
	PaymentCashOnDelivery PaymentMethod = "cashOnDelivery"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentGateway || m == PaymentCashOnDelivery
}

// OrderItem represents a single product entry within an order. Price is the
// unit price captured when the order was placed.
type OrderItem struct {
	ProductID string          `bson:"productId" json:"productId"`
	Name      string          `bson:"name" json:"name"`
	Quantity  int             `bson:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `bson:"unitPrice" json:"unitPrice"`
	Options   CartOptions     `bson:"options" json:"options"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// StatusChange is one entry of the order history. Rejected transitions are
// recorded with Rejected set so that the attempt stays inspectable.
type StatusChange struct {
	From     OrderStatus `bson:"from" json:"from"`
	To       OrderStatus `bson:"to" json:"to"`
	Actor    string      `bson:"actor" json:"actor"`
	Reason   string      `bson:"reason,omitempty" json:"reason,omitempty"`
	Rejected bool        `bson:"rejected,omitempty" json:"rejected,omitempty"`
	At       time.Time   `bson:"at" json:"at"`
}

// StatusUpdate is a compare-and-set on the order status: it applies only
// while the current status is still From.
type StatusUpdate struct {
	From          OrderStatus
	To            OrderStatus
	Change        StatusChange
	PaymentID     string
	PaymentMethod PaymentMethod
}

// Order defines the persisted order document.
type Order struct {
	ID                  string          `bson:"_id" json:"orderId"`
	IdentityID          string          `bson:"identityId" json:"identityId"`
	Address             Address         `bson:"address" json:"address"`
	Items               []OrderItem     `bson:"items" json:"items"`
	Total               decimal.Decimal `bson:"total" json:"total"`
	Currency            string          `bson:"currency" json:"currency"`
	PaymentMethod       PaymentMethod   `bson:"paymentMethod" json:"paymentMethod"`
	PaymentID           string          `bson:"paymentId,omitempty" json:"paymentId,omitempty"`
	Status              OrderStatus     `bson:"status" json:"status"`
	TrackingNumber      string          `bson:"trackingNumber" json:"trackingNumber"`
	IdempotencyKey      string          `bson:"idempotencyKey,omitempty" json:"-"`
	Reserved            []string        `bson:"reserved" json:"-"`
	Restocked           []string        `bson:"restocked" json:"-"`
	History             []StatusChange  `bson:"history" json:"history"`
	CreatedAt           time.Time       `bson:"createdAt" json:"createdAt"`
	UpdatedAt           time.Time       `bson:"updatedAt" json:"updatedAt"`
	EstimatedDeliveryAt time.Time       `bson:"estimatedDeliveryAt" json:"estimatedDeliveryAt"`
}

// Quantities aggregates ordered quantities per product, in first-seen order.
func (o Order) Quantities() ([]string, map[string]int) {
	order := make([]string, 0, len(o.Items))
	qty := make(map[string]int, len(o.Items))
	for _, item := range o.Items {
		if _, ok := qty[item.ProductID]; !ok {
			order = append(order, item.ProductID)
		}
		qty[item.ProductID] += item.Quantity
	}
	return order, qty
}

func (o Order) IsReserved(productID string) bool {
	return contains(o.Reserved, productID)
}

func (o Order) IsRestocked(productID string) bool {
	return contains(o.Restocked, productID)
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// OrderFilter narrows staff order listings.
type OrderFilter struct {
	Status        OrderStatus
	IdentityID    string
	CreatedBefore time.Time
	Skip          int64
	Limit         int64
}

type OrderChangeKind string

const (
	OrderInserted OrderChangeKind = "insert"
	OrderUpdated  OrderChangeKind = "update"
	OrderDeleted  OrderChangeKind = "delete"
)

// OrderChange is delivered to live order subscribers.
type OrderChange struct {
	Kind    OrderChangeKind `json:"kind"`
	OrderID string          `json:"orderId"`
	Order   *Order          `json:"order,omitempty"`
}
