package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/apperr"
	"storefront/internal/checkout"
	"storefront/internal/ledger"
	"storefront/internal/models"
	"storefront/internal/payment"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type SelectAddressRequest struct {
	AddressID string `json:"addressId" binding:"required"`
}

type PlaceOrderRequest struct {
	PaymentMethod models.PaymentMethod `json:"paymentMethod" binding:"required"`
	Buyer         *payment.Buyer       `json:"buyer"`
}

func BeginCheckout(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "CHECKOUT")

		userID, ok := identityFrom(c, "CHECKOUT")
		if !ok {
			return
		}
		ctx, cancel := requestContext(c)
		defer cancel()

		session, err := svc.Begin(ctx, userID)
		if err != nil {
			respondWithDomainError(c, "CHECKOUT", err)
			return
		}
		c.JSON(http.StatusCreated, session)
	}
}

func SelectCheckoutAddress(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "CHECKOUT")

		userID, ok := identityFrom(c, "CHECKOUT")
		if !ok {
			return
		}
		var req SelectAddressRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		session, err := svc.SelectAddress(ctx, c.Param("id"), userID, strings.TrimSpace(req.AddressID))
		if err != nil {
			respondWithDomainError(c, "CHECKOUT", err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

// respondWithPayment answers a placement or a payment retry. A gateway that
// could not be reached still hands back the order so the shopper can retry
// or switch to cash on delivery.
func respondWithPayment(c *gin.Context, status int, res checkout.Result, err error) {
	if errors.Is(err, apperr.ErrGatewayUnreachable) && res.Order.ID != "" {
		log.Printf("[CHECKOUT] [ERROR] order %s waiting for payment, gateway unreachable: %v", res.Order.ID, err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"error": "payment gateway unreachable",
			"order": res.Order,
		})
		return
	}
	if err != nil {
		respondWithDomainError(c, "CHECKOUT", err)
		return
	}
	c.JSON(status, res)
}

// PlaceOrder places the order of the session's cart. Replays with the same
// Idempotency-Key return the order created the first time.
func PlaceOrder(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "CHECKOUT")

		userID, ok := identityFrom(c, "CHECKOUT")
		if !ok {
			return
		}
		var req PlaceOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		res, err := svc.Place(ctx, checkout.PlaceInput{
			SessionID:      c.Param("id"),
			IdentityID:     userID,
			Email:          emailFrom(c),
			Method:         req.PaymentMethod,
			IdempotencyKey: strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader)),
			Buyer:          req.Buyer,
		})
		respondWithPayment(c, http.StatusCreated, res, err)
	}
}

func RetryPayment(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "CHECKOUT")

		userID, ok := identityFrom(c, "CHECKOUT")
		if !ok {
			return
		}
		ctx, cancel := requestContext(c)
		defer cancel()

		res, err := svc.RetryPayment(ctx, userID, c.Param("id"), emailFrom(c))
		respondWithPayment(c, http.StatusOK, res, err)
	}
}

func SwitchToCashOnDelivery(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "CHECKOUT")

		userID, ok := identityFrom(c, "CHECKOUT")
		if !ok {
			return
		}
		ctx, cancel := requestContext(c)
		defer cancel()

		res, err := svc.SwitchToCashOnDelivery(ctx, userID, c.Param("id"))
		respondWithPayment(c, http.StatusOK, res, err)
	}
}

func GetUserOrders(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "ORDER")

		userID, ok := identityFrom(c, "ORDER")
		if !ok {
			return
		}
		ctx, cancel := requestContext(c)
		defer cancel()

		orders, err := l.OrdersForIdentity(ctx, userID)
		if err != nil {
			respondWithDomainError(c, "ORDER", err)
			return
		}
		if orders == nil {
			orders = []models.Order{}
		}
		c.JSON(http.StatusOK, gin.H{"orders": orders})
	}
}

func GetUserOrder(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "ORDER")

		userID, ok := identityFrom(c, "ORDER")
		if !ok {
			return
		}
		ctx, cancel := requestContext(c)
		defer cancel()

		order, err := l.OrderForIdentity(ctx, userID, c.Param("id"))
		if err != nil {
			respondWithDomainError(c, "ORDER", err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

// TrackOrder is public; it exposes the delivery state only.
func TrackOrder(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "ORDER")

		trackingNumber := strings.TrimSpace(c.Param("trackingNumber"))
		if trackingNumber == "" {
			respondWithError(c, http.StatusBadRequest, "ORDER", "tracking number is required")
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		order, err := l.Track(ctx, trackingNumber)
		if err != nil {
			respondWithDomainError(c, "ORDER", err)
			return
		}

		items := make([]gin.H, 0, len(order.Items))
		for _, item := range order.Items {
			items = append(items, gin.H{"name": item.Name, "quantity": item.Quantity, "options": item.Options})
		}
		c.JSON(http.StatusOK, gin.H{
			"orderId":             order.ID,
			"trackingNumber":      order.TrackingNumber,
			"status":              order.Status,
			"items":               items,
			"createdAt":           order.CreatedAt,
			"updatedAt":           order.UpdatedAt,
			"estimatedDeliveryAt": order.EstimatedDeliveryAt,
		})
	}
}
