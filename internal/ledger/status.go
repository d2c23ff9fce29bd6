package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"

	"storefront/internal/apperr"
	"storefront/internal/database"
	"storefront/internal/events"
	"storefront/internal/metrics"
	"storefront/internal/models"
)

const casAttempts = 5

// Cancel moves a live order to Cancelled and returns its stock. The status
// compare-and-set is the single gate: only the caller that wins it restocks.
// Cancelling an already cancelled order finishes any restock a crash left
// half done and then reports ErrInvalidTransition.
func (l *Ledger) Cancel(ctx context.Context, orderID string, change models.StatusChange) (models.Order, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		current, err := l.Order(ctx, orderID)
		if err != nil {
			return models.Order{}, err
		}

		if current.Status == models.StatusCancelled {
			if err := l.restock(ctx, current); err != nil {
				log.Printf("[LEDGER] [ERROR] order %s: resuming restock failed: %v", orderID, err)
			}
			return current, apperr.TransitionError{From: string(current.Status), To: string(models.StatusCancelled), Reason: "order is already cancelled"}
		}
		if current.Status.Terminal() {
			return current, apperr.TransitionError{From: string(current.Status), To: string(models.StatusCancelled), Reason: "order is already delivered"}
		}

		cancelled, err := l.store.UpdateOrderStatus(ctx, orderID, models.StatusUpdate{
			From:   current.Status,
			To:     models.StatusCancelled,
			Change: l.stamp(change),
		})
		if errors.Is(err, database.ErrConflict) {
			continue
		}
		if err != nil {
			return models.Order{}, notFound("order "+orderID, err)
		}

		metrics.StatusTransitions.WithLabelValues(string(models.StatusCancelled), "applied").Inc()
		if err := l.restock(ctx, cancelled); err != nil {
			log.Printf("[LEDGER] [ERROR] order %s cancelled, restock incomplete: %v", orderID, err)
			return cancelled, err
		}

		log.Printf("[LEDGER] [INFO] order %s cancelled by %s (was %s)", orderID, change.Actor, current.Status)
		events.Emit(ctx, l.events, events.New(events.OrderCancelled, orderID, map[string]any{
			"from":   current.Status,
			"actor":  change.Actor,
			"reason": change.Reason,
		}))
		return cancelled, nil
	}
	return models.Order{}, apperr.TransitionError{To: string(models.StatusCancelled), Reason: "order kept changing, try again"}
}

// Delete removes an order record. A live order is cancelled first so that
// its stock comes back.
func (l *Ledger) Delete(ctx context.Context, orderID string, change models.StatusChange) error {
	current, err := l.Order(ctx, orderID)
	if err != nil {
		return err
	}
	if !current.Status.Terminal() {
		if _, err := l.Cancel(ctx, orderID, change); err != nil && !errors.Is(err, apperr.ErrInvalidTransition) {
			return err
		}
	} else if current.Status == models.StatusCancelled {
		if err := l.restock(ctx, current); err != nil {
			return err
		}
	}

	if err := l.store.DeleteOrder(ctx, orderID); err != nil {
		return notFound("order "+orderID, err)
	}
	log.Printf("[LEDGER] [INFO] order %s deleted by %s", orderID, change.Actor)
	events.Emit(ctx, l.events, events.New(events.OrderDeleted, orderID, map[string]any{"actor": change.Actor}))
	return nil
}

// Advance applies a forward move that was already validated by the caller.
// A concurrent change of the order is reported as a rejected transition.
func (l *Ledger) Advance(ctx context.Context, orderID string, from, to models.OrderStatus, change models.StatusChange) (models.Order, error) {
	o, err := l.store.UpdateOrderStatus(ctx, orderID, models.StatusUpdate{From: from, To: to, Change: l.stamp(change)})
	if errors.Is(err, database.ErrConflict) {
		return models.Order{}, apperr.TransitionError{From: string(from), To: string(to), Reason: "order changed concurrently"}
	}
	if err != nil {
		return models.Order{}, notFound("order "+orderID, err)
	}

	metrics.StatusTransitions.WithLabelValues(string(to), "applied").Inc()
	events.Emit(ctx, l.events, events.New(events.OrderStatusChanged, orderID, map[string]any{
		"from":  from,
		"to":    to,
		"actor": change.Actor,
	}))
	return o, nil
}

// Annotate appends a history entry without touching the status. Rejected
// transitions are recorded this way.
func (l *Ledger) Annotate(ctx context.Context, orderID string, change models.StatusChange) error {
	return notFound("order "+orderID, l.store.AppendOrderHistory(ctx, orderID, l.stamp(change)))
}

func (l *Ledger) stamp(change models.StatusChange) models.StatusChange {
	if change.At.IsZero() {
		change.At = l.now().UTC()
	}
	if change.Actor == "" {
		change.Actor = ActorSystem
	}
	return change
}

// Reject records a refused transition on the order history and returns the
// matching TransitionError.
func (l *Ledger) Reject(ctx context.Context, o models.Order, to models.OrderStatus, actor, reason string) error {
	metrics.StatusTransitions.WithLabelValues(string(to), "rejected").Inc()
	err := apperr.TransitionError{From: string(o.Status), To: string(to), Reason: reason}
	if annErr := l.Annotate(ctx, o.ID, models.StatusChange{From: o.Status, To: to, Actor: actor, Reason: reason, Rejected: true}); annErr != nil {
		log.Printf("[LEDGER] [ERROR] order %s: could not record rejected transition: %v", o.ID, annErr)
	}
	log.Printf("[LEDGER] [WARN] order %s: %v", o.ID, err)
	return fmt.Errorf("order %s: %w", o.ID, err)
}
