package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/apperr"
	"storefront/internal/checkout"
	"storefront/internal/payment"
)

// PaymentNotify receives the gateway's server-to-server callback. Every
// verified notification is answered 200 so the gateway stops retrying;
// store failures answer 500 so it retries later.
func PaymentNotify(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "PAYMENT")

		var n payment.Notification
		if err := c.ShouldBind(&n); err != nil {
			log.Println("[PAYMENT] [ERROR] malformed notification:", err)
			respondValidationError(c, err)
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		outcome, err := svc.HandleNotification(ctx, n)
		switch {
		case err == nil:
			c.Header("X-Notification-Outcome", outcome)
			c.String(http.StatusOK, "OK")
		case errors.Is(err, apperr.ErrSignatureMismatch):
			respondWithError(c, http.StatusBadRequest, "PAYMENT", "signature mismatch")
		case apperr.IsValidation(err):
			respondWithDomainError(c, "PAYMENT", err)
		default:
			respondWithError(c, http.StatusInternalServerError, "PAYMENT", "notification not processed")
		}
	}
}
