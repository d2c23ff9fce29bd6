// Package checkout drives one shopper through cart, address, payment and
// order placement, and applies the gateway's payment notifications.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"storefront/internal/addressbook"
	"storefront/internal/apperr"
	"storefront/internal/cart"
	"storefront/internal/ledger"
	"storefront/internal/metrics"
	"storefront/internal/models"
	"storefront/internal/payment"
)

type NotificationStore interface {
	HasNotification(ctx context.Context, id string) (bool, error)
	RecordNotification(ctx context.Context, n models.PaymentNotification) (bool, error)
}

type Service struct {
	carts         *cart.Service
	addresses     *addressbook.Book
	ledger        *ledger.Ledger
	negotiator    *payment.Negotiator
	verifier      *payment.Verifier
	notifications NotificationStore
	now           func() time.Time
}

func NewService(carts *cart.Service, addresses *addressbook.Book, l *ledger.Ledger, negotiator *payment.Negotiator, verifier *payment.Verifier, notifications NotificationStore) *Service {
	return &Service{
		carts:         carts,
		addresses:     addresses,
		ledger:        l,
		negotiator:    negotiator,
		verifier:      verifier,
		notifications: notifications,
		now:           time.Now,
	}
}

// Begin opens a checkout session. An empty cart is refused.
func (s *Service) Begin(ctx context.Context, identityID string) (models.CheckoutSession, error) {
	if _, err := s.carts.RequireNonEmpty(ctx, models.IdentityCart(identityID)); err != nil {
		return models.CheckoutSession{}, err
	}
	return s.addresses.BeginSession(ctx, identityID)
}

func (s *Service) SelectAddress(ctx context.Context, sessionID, identityID, addressID string) (models.CheckoutSession, error) {
	return s.addresses.SelectAddress(ctx, sessionID, identityID, addressID)
}

type PlaceInput struct {
	SessionID      string
	IdentityID     string
	Email          string
	Method         models.PaymentMethod
	IdempotencyKey string
	Buyer          *payment.Buyer
}

type Result struct {
	Order   models.Order    `json:"order"`
	Handoff payment.Handoff `json:"handoff"`
}

// Place records the order and prepares the payment hand-off. The cart is
// cleared once the order exists. When the gateway cannot be reached the
// order is still returned, waiting for payment, together with
// ErrGatewayUnreachable.
func (s *Service) Place(ctx context.Context, in PlaceInput) (Result, error) {
	addr, err := s.addresses.SelectedAddress(ctx, in.SessionID, in.IdentityID)
	if err != nil {
		return Result{}, err
	}
	owner := models.IdentityCart(in.IdentityID)
	items, err := s.carts.RequireNonEmpty(ctx, owner)
	if err != nil {
		return Result{}, err
	}

	lines := make([]ledger.LineItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, ledger.LineItem{ProductID: item.ProductID, Options: item.Options, Quantity: item.Quantity})
	}

	order, err := s.ledger.Place(ctx, ledger.PlaceRequest{
		IdentityID:     in.IdentityID,
		Address:        addr,
		Items:          lines,
		Method:         in.Method,
		IdempotencyKey: in.IdempotencyKey,
	})
	if err != nil {
		return Result{}, err
	}

	if err := s.carts.Clear(ctx, owner); err != nil {
		log.Printf("[CHECKOUT] [ERROR] order %s placed but cart of %s not cleared: %v", order.ID, in.IdentityID, err)
	}

	buyer := payment.BuyerFromAddress(order.Address, in.Email)
	if in.Buyer != nil {
		buyer = *in.Buyer
	}
	handoff, err := s.handoff(ctx, order, buyer)
	return Result{Order: order, Handoff: handoff}, err
}

func (s *Service) handoff(ctx context.Context, o models.Order, buyer payment.Buyer) (payment.Handoff, error) {
	if o.Status != models.StatusPaymentPending {
		if o.PaymentMethod == models.PaymentCashOnDelivery {
			return s.negotiator.Negotiate(ctx, models.PaymentCashOnDelivery, payment.SessionRequest{})
		}
		return payment.Handoff{Method: o.PaymentMethod}, nil
	}
	return s.negotiator.Negotiate(ctx, models.PaymentGateway, payment.SessionRequest{
		OrderID:  o.ID,
		Amount:   o.Total,
		Currency: o.Currency,
		Items:    describeItems(o.Items),
		Buyer:    buyer,
	})
}

func describeItems(items []models.OrderItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%s x%d", item.Name, item.Quantity))
	}
	return strings.Join(parts, ", ")
}

// RetryPayment creates a fresh gateway hand-off for an order still waiting
// for payment.
func (s *Service) RetryPayment(ctx context.Context, identityID, orderID, email string) (Result, error) {
	o, err := s.ledger.OrderForIdentity(ctx, identityID, orderID)
	if err != nil {
		return Result{}, err
	}
	if o.Status != models.StatusPaymentPending {
		return Result{Order: o}, apperr.TransitionError{From: string(o.Status), To: string(models.StatusPaymentPending), Reason: "order is not waiting for payment"}
	}
	h, err := s.handoff(ctx, o, payment.BuyerFromAddress(o.Address, email))
	return Result{Order: o, Handoff: h}, err
}

func (s *Service) SwitchToCashOnDelivery(ctx context.Context, identityID, orderID string) (Result, error) {
	o, err := s.ledger.SwitchToCashOnDelivery(ctx, identityID, orderID)
	if err != nil {
		return Result{}, err
	}
	h, err := s.handoff(ctx, o, payment.Buyer{})
	return Result{Order: o, Handoff: h}, err
}

const (
	OutcomeConfirmed      = "confirmed"
	OutcomeDuplicate      = "duplicate"
	OutcomeCancelled      = "cancelled"
	OutcomePending        = "pending"
	OutcomeChargeback     = "chargeback"
	OutcomeAmountMismatch = "amount_mismatch"
	OutcomeIgnored        = "ignored"
	OutcomeUnknownOrder   = "unknown_order"
)

// HandleNotification verifies and applies a gateway callback. Only
// ErrSignatureMismatch, malformed payloads and store failures are returned;
// every other outcome is reported as handled so the gateway stops retrying.
func (s *Service) HandleNotification(ctx context.Context, n payment.Notification) (outcome string, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[PAYMENT] [ERROR] panic handling notification for %s: %v", n.OrderID, r)
			outcome, err = "", fmt.Errorf("notification for %s: internal error", n.OrderID)
		}
	}()

	if err := s.verifier.Verify(n); err != nil {
		metrics.PaymentNotifications.WithLabelValues("signature_mismatch").Inc()
		log.Printf("[PAYMENT] [WARN] notification for %s rejected: %v", n.OrderID, err)
		return "", err
	}
	status, err := n.Status()
	if err != nil {
		return "", err
	}
	amount, err := n.ParsedAmount()
	if err != nil {
		return "", err
	}

	// a recorded callback was fully applied already
	seen, err := s.notifications.HasNotification(ctx, models.NotificationID(n.OrderID, n.PaymentID, int(status)))
	if err != nil {
		log.Printf("[PAYMENT] [ERROR] notification for %s: dedup lookup failed: %v", n.OrderID, err)
		return "", err
	}
	if seen {
		metrics.PaymentNotifications.WithLabelValues(OutcomeDuplicate).Inc()
		log.Printf("[PAYMENT] [INFO] notification for %s status=%s already handled", n.OrderID, status)
		return OutcomeDuplicate, nil
	}

	res := ledger.PaymentResult{OrderID: n.OrderID, PaymentID: n.PaymentID, Amount: amount, Currency: n.Currency, Reason: status.String()}
	outcome, err = s.apply(ctx, status, res)
	if err != nil {
		log.Printf("[PAYMENT] [ERROR] notification for %s (%s) not applied: %v", n.OrderID, status, err)
		return "", err
	}

	fresh, recErr := s.notifications.RecordNotification(ctx, models.PaymentNotification{
		OrderID:    n.OrderID,
		PaymentID:  n.PaymentID,
		StatusCode: int(status),
		Amount:     amount,
		Currency:   n.Currency,
		Outcome:    outcome,
		ReceivedAt: s.now().UTC(),
	})
	if recErr != nil {
		log.Printf("[PAYMENT] [ERROR] notification for %s applied but not recorded: %v", n.OrderID, recErr)
	} else if !fresh {
		outcome = OutcomeDuplicate
	}

	metrics.PaymentNotifications.WithLabelValues(outcome).Inc()
	log.Printf("[PAYMENT] [INFO] notification for %s status=%s outcome=%s", n.OrderID, status, outcome)
	return outcome, nil
}

func (s *Service) apply(ctx context.Context, status payment.StatusCode, res ledger.PaymentResult) (string, error) {
	var err error
	outcome := OutcomeIgnored

	switch status {
	case payment.StatusSuccess:
		_, err = s.ledger.ConfirmPayment(ctx, res)
		outcome = OutcomeConfirmed
	case payment.StatusCancelled, payment.StatusFailed:
		_, err = s.ledger.FailPayment(ctx, res)
		outcome = OutcomeCancelled
	case payment.StatusPending:
		return OutcomePending, nil
	case payment.StatusChargeback:
		err = s.ledger.Annotate(ctx, res.OrderID, models.StatusChange{Actor: ledger.ActorGateway, Reason: "charged back, payment " + res.PaymentID})
		outcome = OutcomeChargeback
	default:
		return OutcomeIgnored, nil
	}

	switch {
	case err == nil:
		return outcome, nil
	case errors.Is(err, apperr.ErrDuplicateCallback):
		return OutcomeDuplicate, nil
	case errors.Is(err, apperr.ErrAmountMismatch):
		return OutcomeAmountMismatch, nil
	case errors.Is(err, apperr.ErrInvalidTransition):
		return OutcomeIgnored, nil
	case errors.Is(err, apperr.ErrNotFound):
		return OutcomeUnknownOrder, nil
	default:
		return "", err
	}
}
