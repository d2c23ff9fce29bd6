package ledger

import (
	"context"
	"errors"
	"log"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/metrics"
	"storefront/internal/models"
)

// Sweeper cancels orders that will never complete: gateway orders whose
// payment never arrived and Pending orders whose placement was interrupted.
type Sweeper struct {
	ledger             *Ledger
	paymentTimeout     time.Duration
	reservationTimeout time.Duration
}

func NewSweeper(l *Ledger, paymentTimeout, reservationTimeout time.Duration) *Sweeper {
	return &Sweeper{ledger: l, paymentTimeout: paymentTimeout, reservationTimeout: reservationTimeout}
}

// Sweep runs one pass and returns the number of orders cancelled.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.ledger.now()
	total := 0

	for _, pass := range []struct {
		status  models.OrderStatus
		timeout time.Duration
		reason  string
	}{
		{models.StatusPaymentPending, s.paymentTimeout, "payment_timeout"},
		{models.StatusPending, s.reservationTimeout, "reservation_timeout"},
	} {
		if pass.timeout <= 0 {
			continue
		}
		stale, err := s.ledger.store.Orders(ctx, models.OrderFilter{Status: pass.status, CreatedBefore: now.Add(-pass.timeout)})
		if err != nil {
			return total, err
		}
		for _, o := range stale {
			_, err := s.ledger.Cancel(ctx, o.ID, models.StatusChange{Actor: ActorSweeper, Reason: pass.reason})
			if errors.Is(err, apperr.ErrInvalidTransition) || errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			if err != nil {
				log.Printf("[SWEEPER] [ERROR] order %s: %v", o.ID, err)
				continue
			}
			metrics.SweeperActions.WithLabelValues(pass.reason).Inc()
			total++
		}
	}
	if total > 0 {
		log.Printf("[SWEEPER] [INFO] cancelled %d stale order(s)", total)
	}
	return total, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[SWEEPER] [INFO] started, interval %s", interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("[SWEEPER] [INFO] stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				log.Println("[SWEEPER] [ERROR] sweep failed:", err)
			}
		}
	}
}
