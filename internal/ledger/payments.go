package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"storefront/internal/apperr"
	"storefront/internal/database"
	"storefront/internal/events"
	"storefront/internal/models"
)

// PaymentResult is a verified gateway outcome for one order.
type PaymentResult struct {
	OrderID   string
	PaymentID string
	Amount    decimal.Decimal
	Currency  string
	Reason    string
}

// ConfirmPayment moves a PaymentPending order to DispatchPending. The amount
// and currency must equal the order snapshot. Only the first confirmation
// changes anything; later ones return ErrDuplicateCallback.
func (l *Ledger) ConfirmPayment(ctx context.Context, res PaymentResult) (models.Order, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		o, err := l.Order(ctx, res.OrderID)
		if err != nil {
			return models.Order{}, err
		}

		if !res.Amount.Equal(o.Total) || res.Currency != o.Currency {
			reason := fmt.Sprintf("paid %s %s, expected %s %s", res.Amount.StringFixed(2), res.Currency, o.Total.StringFixed(2), o.Currency)
			if annErr := l.Annotate(ctx, o.ID, models.StatusChange{From: o.Status, To: models.StatusDispatchPending, Actor: ActorGateway, Reason: reason, Rejected: true}); annErr != nil {
				log.Printf("[LEDGER] [ERROR] order %s: could not record amount mismatch: %v", o.ID, annErr)
			}
			log.Printf("[LEDGER] [WARN] order %s payment %s rejected: %s", o.ID, res.PaymentID, reason)
			return o, fmt.Errorf("order %s: %w", o.ID, apperr.ErrAmountMismatch)
		}

		switch o.Status {
		case models.StatusPaymentPending:
		case models.StatusCancelled:
			return o, l.Reject(ctx, o, models.StatusDispatchPending, ActorGateway,
				"payment "+res.PaymentID+" received after cancellation, refund required")
		case models.StatusPending:
			return o, l.Reject(ctx, o, models.StatusDispatchPending, ActorGateway, "payment received before stock was reserved")
		default:
			return o, fmt.Errorf("order %s: %w", o.ID, apperr.ErrDuplicateCallback)
		}

		confirmed, err := l.store.UpdateOrderStatus(ctx, o.ID, models.StatusUpdate{
			From:      models.StatusPaymentPending,
			To:        models.StatusDispatchPending,
			Change:    l.stamp(models.StatusChange{Actor: ActorGateway, Reason: "payment " + res.PaymentID + " confirmed"}),
			PaymentID: res.PaymentID,
		})
		if errors.Is(err, database.ErrConflict) {
			continue
		}
		if err != nil {
			return models.Order{}, notFound("order "+o.ID, err)
		}

		log.Printf("[LEDGER] [INFO] order %s paid (%s)", o.ID, res.PaymentID)
		events.Emit(ctx, l.events, events.New(events.PaymentConfirmed, o.ID, map[string]any{
			"paymentId": res.PaymentID,
			"amount":    res.Amount.StringFixed(2),
			"currency":  res.Currency,
		}))
		return confirmed, nil
	}
	return models.Order{}, fmt.Errorf("order %s: %w", res.OrderID, apperr.ErrDuplicateCallback)
}

// FailPayment cancels a PaymentPending order the gateway reported as failed
// or cancelled. Orders past PaymentPending are left alone.
func (l *Ledger) FailPayment(ctx context.Context, res PaymentResult) (models.Order, error) {
	o, err := l.Order(ctx, res.OrderID)
	if err != nil {
		return models.Order{}, err
	}
	switch o.Status {
	case models.StatusPaymentPending:
		return l.Cancel(ctx, o.ID, models.StatusChange{Actor: ActorGateway, Reason: res.Reason})
	case models.StatusCancelled:
		return o, fmt.Errorf("order %s: %w", o.ID, apperr.ErrDuplicateCallback)
	default:
		return o, l.Reject(ctx, o, models.StatusCancelled, ActorGateway, "gateway reported "+res.Reason+" for an order past payment")
	}
}

// SwitchToCashOnDelivery lets the shopper abandon the gateway for an order
// still waiting for payment.
func (l *Ledger) SwitchToCashOnDelivery(ctx context.Context, identityID, orderID string) (models.Order, error) {
	o, err := l.OrderForIdentity(ctx, identityID, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if o.Status != models.StatusPaymentPending {
		return o, apperr.TransitionError{From: string(o.Status), To: string(models.StatusDispatchPending), Reason: "only orders waiting for payment can switch to cash on delivery"}
	}

	switched, err := l.store.UpdateOrderStatus(ctx, o.ID, models.StatusUpdate{
		From:          models.StatusPaymentPending,
		To:            models.StatusDispatchPending,
		Change:        l.stamp(models.StatusChange{Actor: identityID, Reason: "switched to cash on delivery"}),
		PaymentMethod: models.PaymentCashOnDelivery,
	})
	if errors.Is(err, database.ErrConflict) {
		return models.Order{}, apperr.TransitionError{From: string(o.Status), To: string(models.StatusDispatchPending), Reason: "order changed concurrently"}
	}
	if err != nil {
		return models.Order{}, notFound("order "+o.ID, err)
	}

	log.Printf("[LEDGER] [INFO] order %s switched to cash on delivery", o.ID)
	events.Emit(ctx, l.events, events.New(events.OrderStatusChanged, o.ID, map[string]any{
		"from":          models.StatusPaymentPending,
		"to":            models.StatusDispatchPending,
		"paymentMethod": models.PaymentCashOnDelivery,
	}))
	return switched, nil
}
