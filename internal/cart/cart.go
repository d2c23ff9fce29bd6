// Package cart keeps shopper line items scoped to a cart owner and merges an
// anonymous cart into the identity cart at login.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"storefront/internal/apperr"
	"storefront/internal/confirm"
	"storefront/internal/database"
	"storefront/internal/models"
)

// Store is the slice of the document store the cart needs.
type Store interface {
	CartItems(ctx context.Context, owner models.CartOwner) ([]models.CartItem, error)
	IncrementCartItem(ctx context.Context, owner models.CartOwner, item models.CartItem, delta int) (int, error)
	DecrementCartItem(ctx context.Context, owner models.CartOwner, key string) (int, error)
	SetCartItemQuantity(ctx context.Context, owner models.CartOwner, key string, qty int) error
	RemoveCartItem(ctx context.Context, owner models.CartOwner, key string) error
	TakeCartItem(ctx context.Context, owner models.CartOwner, key string) (models.CartItem, error)
	ClearCart(ctx context.Context, owner models.CartOwner) error
}

type Catalog interface {
	Product(ctx context.Context, id string) (models.Product, error)
}

type Service struct {
	store   Store
	catalog Catalog
}

func NewService(store Store, catalog Catalog) *Service {
	return &Service{store: store, catalog: catalog}
}

func checkOwner(owner models.CartOwner) error {
	if !owner.Valid() {
		return apperr.Invalid("owner", "cart owner is required")
	}
	return nil
}

func storeErr(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("cart item: %w", apperr.ErrNotFound)
	}
	return err
}

// AddItem adds qty units of a product with the chosen options. Name and price
// are captured the first time the line is created.
func (s *Service) AddItem(ctx context.Context, owner models.CartOwner, productID string, options models.CartOptions, qty int) (models.CartItem, error) {
	if err := checkOwner(owner); err != nil {
		return models.CartItem{}, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return models.CartItem{}, apperr.Invalid("productId", "is required")
	}
	if qty == 0 {
		qty = 1
	}
	if qty < 0 {
		return models.CartItem{}, apperr.Invalid("quantity", "must be at least 1")
	}

	product, err := s.catalog.Product(ctx, productID)
	if errors.Is(err, database.ErrNotFound) {
		return models.CartItem{}, apperr.Invalid("productId", "unknown product")
	}
	if err != nil {
		return models.CartItem{}, err
	}
	if !product.Purchasable() {
		return models.CartItem{}, apperr.Invalid("productId", "product is not available")
	}

	options = options.Normalize()
	item := models.CartItem{
		Key:               models.CartItemKey(productID, options),
		ProductID:         productID,
		Name:              product.Name,
		UnitPriceSnapshot: product.EffectivePrice(),
		Options:           options,
	}
	total, err := s.store.IncrementCartItem(ctx, owner, item, qty)
	if err != nil {
		return models.CartItem{}, err
	}
	item.Quantity = total
	return item, nil
}

// RemoveOne takes one unit off the line and returns what is left; the line
// disappears when its last unit is removed.
func (s *Service) RemoveOne(ctx context.Context, owner models.CartOwner, key string) (int, error) {
	if err := checkOwner(owner); err != nil {
		return 0, err
	}
	left, err := s.store.DecrementCartItem(ctx, owner, key)
	return left, storeErr(err)
}

func (s *Service) SetQuantity(ctx context.Context, owner models.CartOwner, key string, qty int) error {
	if err := checkOwner(owner); err != nil {
		return err
	}
	if qty <= 0 {
		return storeErr(s.store.RemoveCartItem(ctx, owner, key))
	}
	return storeErr(s.store.SetCartItemQuantity(ctx, owner, key, qty))
}

func (s *Service) RemoveItem(ctx context.Context, owner models.CartOwner, key string, confirmer confirm.Confirmer) error {
	if err := checkOwner(owner); err != nil {
		return err
	}
	prompt := confirm.Prompt{Action: "cart.remove", Message: "Remove this item from your cart?"}
	ok, err := confirmer.Confirm(ctx, prompt)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ConfirmationRequired{Prompt: prompt.Message}
	}
	return storeErr(s.store.RemoveCartItem(ctx, owner, key))
}

// ConsolidateOnLogin moves every anonymous line into the identity cart.
// Each line is taken out of the anonymous cart atomically before it is added
// to the identity cart, so overlapping logins move it once. A failed add puts
// the line back and stops the run with the rest still in place for a retry.
// Quantities of matching keys are summed.
func (s *Service) ConsolidateOnLogin(ctx context.Context, identityID, anonymousToken string) (int, error) {
	if strings.TrimSpace(anonymousToken) == "" {
		return 0, nil
	}
	identity := models.IdentityCart(identityID)
	if err := checkOwner(identity); err != nil {
		return 0, err
	}
	anonymous := models.AnonymousCart(anonymousToken)

	items, err := s.store.CartItems(ctx, anonymous)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, item := range items {
		claimed, err := s.store.TakeCartItem(ctx, anonymous, item.Key)
		if errors.Is(err, database.ErrNotFound) {
			// moved by a concurrent login
			continue
		}
		if err != nil {
			log.Printf("[CART] [ERROR] consolidate %s: take %s: %v", anonymous, item.Key, err)
			return moved, err
		}

		if _, err := s.store.IncrementCartItem(ctx, identity, claimed, claimed.Quantity); err != nil {
			log.Printf("[CART] [ERROR] consolidate %s into %s stopped at %s: %v", anonymous, identity, item.Key, err)
			if _, restoreErr := s.store.IncrementCartItem(ctx, anonymous, claimed, claimed.Quantity); restoreErr != nil {
				log.Printf("[CART] [ERROR] consolidate %s: could not put back %d of %s: %v", anonymous, claimed.Quantity, item.Key, restoreErr)
			}
			return moved, err
		}
		moved++
	}
	if moved > 0 {
		log.Printf("[CART] [INFO] consolidated %d line(s) from %s into %s", moved, anonymous, identity)
	}
	return moved, nil
}

func (s *Service) Items(ctx context.Context, owner models.CartOwner) ([]models.CartItem, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	return s.store.CartItems(ctx, owner)
}

func (s *Service) TotalQuantity(ctx context.Context, owner models.CartOwner) (int, error) {
	items, err := s.Items(ctx, owner)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total, nil
}

// RequireNonEmpty is the checkout entry guard.
func (s *Service) RequireNonEmpty(ctx context.Context, owner models.CartOwner) ([]models.CartItem, error) {
	items, err := s.Items(ctx, owner)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apperr.Invalid("cart", "cart is empty")
	}
	return items, nil
}

func (s *Service) Clear(ctx context.Context, owner models.CartOwner) error {
	if err := checkOwner(owner); err != nil {
		return err
	}
	return s.store.ClearCart(ctx, owner)
}
