package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"
)

type Negotiator struct {
	gateway   Gateway
	timeout   time.Duration
	returnURL string
}

// NewNegotiator wraps a gateway. returnURL is where cash on delivery
// orders are sent after placement.
func NewNegotiator(gateway Gateway, timeout time.Duration, returnURL string) *Negotiator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Negotiator{gateway: gateway, timeout: timeout, returnURL: returnURL}
}

// Negotiate produces the hand-off for the chosen method. Cash on delivery
// never reaches the gateway. Any gateway failure other than a bad request
// is reported as ErrGatewayUnreachable.
func (n *Negotiator) Negotiate(ctx context.Context, method models.PaymentMethod, req SessionRequest) (Handoff, error) {
	switch method {
	case models.PaymentCashOnDelivery:
		return Handoff{Method: models.PaymentCashOnDelivery, RedirectURL: n.returnURL}, nil
	case models.PaymentGateway:
	default:
		return Handoff{}, apperr.Invalid("paymentMethod", "must be gateway or cashOnDelivery")
	}

	if err := req.validate(); err != nil {
		return Handoff{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	h, err := n.gateway.CreateSession(callCtx, req)
	if err == nil {
		return h, nil
	}
	if apperr.IsValidation(err) {
		return Handoff{}, err
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return Handoff{}, err
	}
	log.Printf("[PAYMENT] [ERROR] create session for %s failed: %v", req.OrderID, err)
	return Handoff{}, fmt.Errorf("%w: %v", apperr.ErrGatewayUnreachable, err)
}
