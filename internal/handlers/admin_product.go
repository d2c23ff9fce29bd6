package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"storefront/internal/database"
	"storefront/internal/models"
)

/* =======================
   REQUEST MODELS
======================= */

type ProductStore interface {
	Product(ctx context.Context, id string) (models.Product, error)
	UpsertProduct(ctx context.Context, p models.Product) error
}

type ProductUpdateRequest struct {
	Name        *string          `json:"name"`
	Price       *decimal.Decimal `json:"price"`
	SaleEnabled *bool            `json:"saleEnabled"`
	SalePrice   *decimal.Decimal `json:"salePrice"`
	IsActive    *bool            `json:"isActive"`
	IsDeleted   *bool            `json:"isDeleted"`
}

/* =======================
   HANDLERS
======================= */

// PutProduct creates or updates the catalog entry the checkout prices from.
// Fields left out keep their stored value; a new product needs a name and a
// price.
func PutProduct(products ProductStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "PRODUCT")

		id := strings.TrimSpace(c.Param("id"))
		if id == "" {
			respondWithError(c, http.StatusBadRequest, "PRODUCT", "invalid id")
			return
		}

		var req ProductUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		existing, err := products.Product(ctx, id)
		created := false
		switch {
		case errors.Is(err, database.ErrNotFound):
			created = true
			existing = models.Product{ID: id, IsActive: true, CreatedAt: time.Now().UTC()}
		case err != nil:
			log.Println("[PRODUCT] [ERROR] product lookup failed:", err)
			respondWithError(c, http.StatusInternalServerError, "PRODUCT", "db error")
			return
		}

		if req.Name != nil {
			existing.Name = strings.TrimSpace(*req.Name)
		}
		if existing.Name == "" {
			respondWithError(c, http.StatusBadRequest, "PRODUCT", "name is required")
			return
		}
		if req.IsActive != nil {
			existing.IsActive = *req.IsActive
		}
		if req.IsDeleted != nil {
			existing.IsDeleted = *req.IsDeleted
		}

		pricing, err := resolveSaleUpdate(existing.Price, existing.SaleEnabled, existing.SalePrice, saleUpdateInput{
			Price:       req.Price,
			SaleEnabled: req.SaleEnabled,
			SalePrice:   req.SalePrice,
		})
		if err != nil {
			respondWithError(c, http.StatusBadRequest, "PRODUCT", err.Error())
			return
		}
		existing.Price = pricing.Price
		existing.SaleEnabled = pricing.SaleEnabled
		existing.SalePrice = pricing.SalePrice

		if err := products.UpsertProduct(ctx, existing); err != nil {
			log.Println("[PRODUCT] [ERROR] product upsert failed:", err)
			respondWithError(c, http.StatusInternalServerError, "PRODUCT", "db error")
			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		log.Printf("[PRODUCT] [INFO] product %s saved (created=%t)", id, created)
		c.JSON(status, gin.H{
			"product":        existing,
			"isOnSale":       existing.IsOnSale(),
			"effectivePrice": existing.EffectivePrice().StringFixed(2),
		})
	}
}
