package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"storefront/internal/apperr"
	"storefront/internal/confirm"
	"storefront/internal/fulfillment"
	"storefront/internal/ledger"
	"storefront/internal/middleware"
	"storefront/internal/models"
)

const streamHeartbeat = 20 * time.Second

type UpdateStatusRequest struct {
	Status  string `json:"status" binding:"required"`
	Confirm bool   `json:"confirm"`
}

type ReceiveStockRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

func staffActor(c *gin.Context) string {
	if id := c.GetString(middleware.ContextUserID); id != "" {
		return "staff:" + id
	}
	return "staff"
}

// GetAdminOrders lists orders newest first. Optional filters: status and
// before (RFC 3339, exclusive).
func GetAdminOrders(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "ADMIN")

		page, limit, err := parsePaginationParams(c.Query("page"), c.Query("limit"))
		if err != nil {
			respondWithError(c, http.StatusBadRequest, "ADMIN", err.Error())
			return
		}

		filter := models.OrderFilter{Skip: (page - 1) * limit, Limit: limit}
		if raw := strings.TrimSpace(c.Query("status")); raw != "" {
			status, ok := models.ParseOrderStatus(raw)
			if !ok {
				respondWithError(c, http.StatusBadRequest, "ADMIN", "unknown status "+raw)
				return
			}
			filter.Status = status
		}
		if raw := strings.TrimSpace(c.Query("before")); raw != "" {
			before, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				respondWithError(c, http.StatusBadRequest, "ADMIN", "before must be an RFC 3339 timestamp")
				return
			}
			filter.CreatedBefore = before
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		orders, err := l.List(ctx, filter)
		if err != nil {
			respondWithDomainError(c, "ADMIN", err)
			return
		}
		if orders == nil {
			orders = []models.Order{}
		}
		c.JSON(http.StatusOK, gin.H{
			"orders": orders,
			"page":   page,
			"limit":  limit,
		})
	}
}

func GetAdminOrder(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "ADMIN")

		ctx, cancel := requestContext(c)
		defer cancel()

		order, err := l.Order(ctx, c.Param("id"))
		if err != nil {
			respondWithDomainError(c, "ADMIN", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"order":          order,
			"allowedTargets": fulfillment.AllowedTargets(order.Status),
		})
	}
}

// StreamOrders pushes order changes to the staff dashboard as server-sent
// events until the client goes away.
func StreamOrders(m *fulfillment.Machine) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "ADMIN")

		ctx := c.Request.Context()
		changes, err := m.Watch(ctx)
		if err != nil {
			respondWithDomainError(c, "ADMIN", err)
			return
		}

		heartbeat := time.NewTicker(streamHeartbeat)
		defer heartbeat.Stop()

		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")
		c.SSEvent("ready", gin.H{"at": time.Now().UTC()})
		c.Writer.Flush()

		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case <-heartbeat.C:
				c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
				return true
			case change, ok := <-changes:
				if !ok {
					return false
				}
				c.SSEvent(string(change.Kind), change)
				return true
			}
		})
		log.Println("[ADMIN] [INFO] order stream closed")
	}
}

// UpdateOrderStatus moves an order through fulfillment. Cancelling needs
// "confirm": true. Refused moves answer 409 together with the targets that
// are allowed from the current status.
func UpdateOrderStatus(m *fulfillment.Machine) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "ADMIN")

		var req UpdateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}
		to, ok := models.ParseOrderStatus(strings.TrimSpace(req.Status))
		if !ok {
			respondWithError(c, http.StatusBadRequest, "ADMIN", "unknown status "+req.Status)
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		order, err := m.Transition(ctx, c.Param("id"), to, staffActor(c), confirm.Static(req.Confirm))
		var transition apperr.TransitionError
		if errors.As(err, &transition) {
			log.Printf("[ADMIN] returning error %d: %v", http.StatusConflict, err)
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error":          transition.Error(),
				"from":           transition.From,
				"to":             transition.To,
				"reason":         transition.Reason,
				"allowedTargets": fulfillment.AllowedTargets(order.Status),
			})
			return
		}
		if err != nil {
			respondWithDomainError(c, "ADMIN", err)
			return
		}

		log.Printf("[ADMIN] [INFO] order %s moved to %s by %s", order.ID, order.Status, staffActor(c))
		c.JSON(http.StatusOK, gin.H{
			"order":          order,
			"allowedTargets": fulfillment.AllowedTargets(order.Status),
		})
	}
}

// DeleteOrder removes an order. Stock held by a live order is returned
// first.
func DeleteOrder(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "ADMIN")

		orderID := strings.TrimSpace(c.Param("id"))
		if orderID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		if !confirmed(c) {
			respondWithDomainError(c, "ADMIN", apperr.ConfirmationRequired{
				Prompt: "Delete order " + orderID + "? This cannot be undone.",
			})
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		err := l.Delete(ctx, orderID, models.StatusChange{Actor: staffActor(c), Reason: "deleted by staff"})
		if err != nil {
			respondWithDomainError(c, "ADMIN", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "order deleted"})
	}
}

func GetInventory(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "ADMIN")

		ctx, cancel := requestContext(c)
		defer cancel()

		rec, err := l.Inventory(ctx, c.Param("productId"))
		if err != nil {
			respondWithDomainError(c, "ADMIN", err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

func ReceiveStock(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "ADMIN")

		var req ReceiveStockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		rec, err := l.Receive(ctx, c.Param("productId"), req.Quantity)
		if err != nil {
			respondWithDomainError(c, "ADMIN", err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}
