// Package fulfillment is the staff-facing order lifecycle:
// PaymentPending, DispatchPending, Packed, OnTheWay, Delivered, with
// Cancelled reachable from every placed status that is not terminal.
package fulfillment

import (
	"context"
	"errors"

	"storefront/internal/apperr"
	"storefront/internal/confirm"
	"storefront/internal/ledger"
	"storefront/internal/models"
)

var forward = map[models.OrderStatus]int{
	models.StatusDispatchPending: 1,
	models.StatusPacked:          2,
	models.StatusOnTheWay:        3,
	models.StatusDelivered:       4,
}

// CanTransition reports whether staff may move an order from one status to
// another. Moves go forward only; skipping steps is allowed.
func CanTransition(from, to models.OrderStatus) error {
	reject := func(reason string) error {
		return apperr.TransitionError{From: string(from), To: string(to), Reason: reason}
	}

	if _, ok := models.ParseOrderStatus(string(to)); !ok {
		return reject("unknown status")
	}
	if from.Terminal() {
		return reject("order is in a terminal status")
	}
	if from == to {
		return reject("order already has this status")
	}
	// stuck placements are expired by the sweeper
	if from == models.StatusPending {
		return reject("order is still being placed")
	}
	if to == models.StatusCancelled {
		return nil
	}
	if from == models.StatusPaymentPending {
		return reject("waiting for a verified payment")
	}

	toRank, ok := forward[to]
	if !ok {
		return reject("status cannot be set by staff")
	}
	if toRank < forward[from] {
		return reject("orders cannot move backwards")
	}
	return nil
}

// AllowedTargets lists the statuses staff can choose for an order.
func AllowedTargets(from models.OrderStatus) []models.OrderStatus {
	out := []models.OrderStatus{}
	for _, to := range []models.OrderStatus{
		models.StatusDispatchPending,
		models.StatusPacked,
		models.StatusOnTheWay,
		models.StatusDelivered,
		models.StatusCancelled,
	} {
		if CanTransition(from, to) == nil {
			out = append(out, to)
		}
	}
	return out
}

type Watcher interface {
	WatchOrders(ctx context.Context) (<-chan models.OrderChange, error)
}

type Machine struct {
	ledger  *ledger.Ledger
	watcher Watcher
}

func New(l *ledger.Ledger, watcher Watcher) *Machine {
	return &Machine{ledger: l, watcher: watcher}
}

// Transition applies a staff move. Refused moves are written to the order
// history. Cancellation asks confirmer first and restocks through the
// ledger.
func (m *Machine) Transition(ctx context.Context, orderID string, to models.OrderStatus, actor string, confirmer confirm.Confirmer) (models.Order, error) {
	o, err := m.ledger.Order(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}

	if err := CanTransition(o.Status, to); err != nil {
		var te apperr.TransitionError
		errors.As(err, &te)
		return o, m.ledger.Reject(ctx, o, to, actor, te.Reason)
	}

	if to == models.StatusCancelled {
		prompt := confirm.Prompt{Action: "order.cancel", Message: "Cancel order " + o.ID + "? Its stock will be returned to inventory."}
		ok, err := confirmer.Confirm(ctx, prompt)
		if err != nil {
			return o, err
		}
		if !ok {
			return o, apperr.ConfirmationRequired{Prompt: prompt.Message}
		}
		return m.ledger.Cancel(ctx, o.ID, models.StatusChange{Actor: actor, Reason: "cancelled by staff"})
	}

	updated, err := m.ledger.Advance(ctx, o.ID, o.Status, to, models.StatusChange{Actor: actor})
	if err != nil {
		var te apperr.TransitionError
		if errors.As(err, &te) {
			return o, m.ledger.Reject(ctx, o, to, actor, te.Reason)
		}
		return o, err
	}
	return updated, nil
}

// Watch streams order changes until ctx is done.
func (m *Machine) Watch(ctx context.Context) (<-chan models.OrderChange, error) {
	return m.watcher.WatchOrders(ctx)
}
