package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"storefront/internal/cart"
	"storefront/internal/confirm"
	"storefront/internal/middleware"
	"storefront/internal/models"
)

type AddCartItemRequest struct {
	ProductID string             `json:"productId" binding:"required"`
	Options   models.CartOptions `json:"options"`
	Quantity  int                `json:"quantity" binding:"gte=0"`
}

type SetQuantityRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

func cartOwner(c *gin.Context) (models.CartOwner, bool) {
	owner, err := middleware.CartOwnerFrom(c)
	if err != nil {
		respondWithError(c, http.StatusBadRequest, "CART", "cart session missing")
		return models.CartOwner{}, false
	}
	return owner, true
}

func cartResponse(items []models.CartItem) gin.H {
	total := decimal.Zero
	count := 0
	for _, item := range items {
		total = total.Add(item.UnitPriceSnapshot.Mul(decimal.NewFromInt(int64(item.Quantity))))
		count += item.Quantity
	}
	return gin.H{
		"items":         items,
		"totalQuantity": count,
		"subtotal":      total.StringFixed(2),
	}
}

func GetCart(carts *cart.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "CART")

		owner, ok := cartOwner(c)
		if !ok {
			return
		}
		ctx, cancel := requestContext(c)
		defer cancel()

		items, err := carts.Items(ctx, owner)
		if err != nil {
			respondWithDomainError(c, "CART", err)
			return
		}
		c.JSON(http.StatusOK, cartResponse(items))
	}
}

// GetCartCount backs the header badge.
func GetCartCount(carts *cart.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "CART")

		owner, ok := cartOwner(c)
		if !ok {
			return
		}
		ctx, cancel := requestContext(c)
		defer cancel()

		count, err := carts.TotalQuantity(ctx, owner)
		if err != nil {
			respondWithDomainError(c, "CART", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": count})
	}
}

func AddCartItem(carts *cart.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "CART")

		owner, ok := cartOwner(c)
		if !ok {
			return
		}
		var req AddCartItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		item, err := carts.AddItem(ctx, owner, strings.TrimSpace(req.ProductID), req.Options, req.Quantity)
		if err != nil {
			respondWithDomainError(c, "CART", err)
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

func DecrementCartItem(carts *cart.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "CART")

		owner, ok := cartOwner(c)
		if !ok {
			return
		}
		ctx, cancel := requestContext(c)
		defer cancel()

		key := c.Param("key")
		left, err := carts.RemoveOne(ctx, owner, key)
		if err != nil {
			respondWithDomainError(c, "CART", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"key": key, "quantity": left, "removed": left == 0})
	}
}

func SetCartItemQuantity(carts *cart.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "CART")

		owner, ok := cartOwner(c)
		if !ok {
			return
		}
		var req SetQuantityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		key := c.Param("key")
		if err := carts.SetQuantity(ctx, owner, key, *req.Quantity); err != nil {
			respondWithDomainError(c, "CART", err)
			return
		}
		qty := *req.Quantity
		if qty < 0 {
			qty = 0
		}
		c.JSON(http.StatusOK, gin.H{"key": key, "quantity": qty, "removed": qty == 0})
	}
}

// RemoveCartItem needs {"confirm": true}; without it the prompt comes back
// with 428.
func RemoveCartItem(carts *cart.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "CART")

		owner, ok := cartOwner(c)
		if !ok {
			return
		}
		ctx, cancel := requestContext(c)
		defer cancel()

		if err := carts.RemoveItem(ctx, owner, c.Param("key"), confirm.Static(confirmed(c))); err != nil {
			respondWithDomainError(c, "CART", err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ConsolidateCart merges the anonymous cart named by X-Cart-Session into the
// signed-in identity's cart. It is the retry path when login could not
// finish the merge.
func ConsolidateCart(carts *cart.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "CART")

		userID, ok := identityFrom(c, "CART")
		if !ok {
			return
		}
		token := strings.TrimSpace(c.GetHeader(middleware.CartSessionHeader))
		if token == "" {
			respondWithError(c, http.StatusBadRequest, "CART", "X-Cart-Session header is required")
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		merged, err := carts.ConsolidateOnLogin(ctx, userID, token)
		if err != nil {
			respondWithDomainError(c, "CART", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"merged": merged})
	}
}
