package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"storefront/internal/apperr"
	"storefront/internal/middleware"
)

const requestTimeout = 5 * time.Second

func handlePanic(c *gin.Context, route string) {
	if r := recover(); r != nil {
		log.Printf("[%s] panic recovered: %v", route, r)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

func respondWithError(c *gin.Context, status int, route string, message string) {
	log.Printf("[%s] returning error %d: %s", route, status, message)
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

func respondValidationError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		details := make([]string, 0, len(validationErrors))
		for _, fieldError := range validationErrors {
			field := lowerCamel(fieldError.Field())
			switch fieldError.Tag() {
			case "required":
				details = append(details, fmt.Sprintf("%s is required", field))
			case "email":
				details = append(details, fmt.Sprintf("%s must be an email address", field))
			case "min", "gte":
				details = append(details, fmt.Sprintf("%s must be at least %s", field, fieldError.Param()))
			default:
				details = append(details, fmt.Sprintf("%s is invalid", field))
			}
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":   "validation failed",
			"details": details,
		})
		return
	}

	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body", "details": err.Error()})
}

func lowerCamel(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

// respondWithDomainError maps the checkout error taxonomy to HTTP. Anything
// outside the taxonomy is logged and answered 500 without details.
func respondWithDomainError(c *gin.Context, route string, err error) {
	var (
		validation apperr.ValidationError
		stock      apperr.OutOfStockError
		transition apperr.TransitionError
		confirm    apperr.ConfirmationRequired
	)

	switch {
	case errors.As(err, &validation):
		log.Printf("[%s] returning error %d: %v", route, http.StatusBadRequest, err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": validation.Error(),
			"field": validation.Field,
		})
	case errors.As(err, &stock):
		log.Printf("[%s] returning error %d: %v", route, http.StatusConflict, err)
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":     "out of stock",
			"productId": stock.ProductID,
			"available": stock.Available,
			"requested": stock.Requested,
		})
	case errors.As(err, &transition):
		log.Printf("[%s] returning error %d: %v", route, http.StatusConflict, err)
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":  transition.Error(),
			"from":   transition.From,
			"to":     transition.To,
			"reason": transition.Reason,
		})
	case errors.As(err, &confirm):
		log.Printf("[%s] returning error %d: %v", route, http.StatusPreconditionRequired, err)
		c.AbortWithStatusJSON(http.StatusPreconditionRequired, gin.H{
			"error":  "confirmation required",
			"prompt": confirm.Prompt,
		})
	case errors.Is(err, apperr.ErrNotFound):
		respondWithError(c, http.StatusNotFound, route, err.Error())
	case errors.Is(err, apperr.ErrSignatureMismatch):
		respondWithError(c, http.StatusBadRequest, route, "signature mismatch")
	case errors.Is(err, apperr.ErrGatewayUnreachable):
		respondWithError(c, http.StatusBadGateway, route, "payment gateway unreachable")
	case errors.Is(err, context.DeadlineExceeded):
		respondWithError(c, http.StatusGatewayTimeout, route, "request timed out")
	default:
		log.Printf("[%s] [ERROR] %v", route, err)
		respondWithError(c, http.StatusInternalServerError, route, "internal server error")
	}
}

func identityFrom(c *gin.Context, route string) (string, bool) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		respondWithError(c, http.StatusUnauthorized, route, "unauthorized")
		return "", false
	}
	return userID, true
}

func emailFrom(c *gin.Context) string {
	return c.GetString(middleware.ContextEmail)
}

type confirmRequest struct {
	Confirm bool `json:"confirm"`
}

// confirmed reads the explicit confirmation of a destructive request, sent
// either as {"confirm": true} or as ?confirm=true.
func confirmed(c *gin.Context) bool {
	if strings.EqualFold(c.Query("confirm"), "true") {
		return true
	}
	if c.Request.ContentLength == 0 {
		return false
	}
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return false
	}
	return req.Confirm
}
