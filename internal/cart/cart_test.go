package cart

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/apperr"
	"storefront/internal/confirm"
	"storefront/internal/database"
	"storefront/internal/models"
)

func newTestService(t *testing.T) (*Service, *database.Memory) {
	t.Helper()
	store := database.NewMemory(0)
	store.PutProduct(models.Product{ID: "watch", Name: "Field Watch", Price: decimal.NewFromInt(120), IsActive: true})
	store.PutProduct(models.Product{ID: "strap", Name: "Strap", Price: decimal.NewFromInt(20), SaleEnabled: true, SalePrice: decimal.NewFromInt(15), IsActive: true})
	store.PutProduct(models.Product{ID: "gone", Name: "Retired", Price: decimal.NewFromInt(5), IsActive: false})
	return NewService(store, store), store
}

func TestAddItemSnapshotsEffectivePrice(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	owner := models.IdentityCart("u1")

	item, err := svc.AddItem(ctx, owner, "strap", models.CartOptions{Color: "black"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "strap____black__", item.Key)
	assert.Equal(t, 1, item.Quantity)
	assert.True(t, item.UnitPriceSnapshot.Equal(decimal.NewFromInt(15)))

	item, err = svc.AddItem(ctx, owner, "strap", models.CartOptions{Color: " black "}, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, item.Quantity)

	total, err := svc.TotalQuantity(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestAddItemRejectsUnknownAndInactiveProducts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	owner := models.IdentityCart("u1")

	_, err := svc.AddItem(ctx, owner, "missing", models.CartOptions{}, 1)
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.AddItem(ctx, owner, "gone", models.CartOptions{}, 1)
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.AddItem(ctx, models.CartOwner{}, "watch", models.CartOptions{}, 1)
	assert.True(t, apperr.IsValidation(err))
}

func TestDifferentOptionsAreSeparateLines(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	owner := models.IdentityCart("u1")

	_, err := svc.AddItem(ctx, owner, "watch", models.CartOptions{Strap: "leather"}, 1)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, owner, "watch", models.CartOptions{Strap: "steel"}, 1)
	require.NoError(t, err)

	items, err := svc.Items(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestRemoveOneNeverLeavesZeroQuantityLine(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	owner := models.AnonymousCart("anon-1")

	item, err := svc.AddItem(ctx, owner, "watch", models.CartOptions{}, 1)
	require.NoError(t, err)

	left, err := svc.RemoveOne(ctx, owner, item.Key)
	require.NoError(t, err)
	assert.Equal(t, 0, left)

	items, err := svc.Items(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = svc.RemoveOne(ctx, owner, item.Key)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSetQuantityZeroDeletes(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	owner := models.IdentityCart("u1")

	item, err := svc.AddItem(ctx, owner, "watch", models.CartOptions{}, 1)
	require.NoError(t, err)

	require.NoError(t, svc.SetQuantity(ctx, owner, item.Key, 5))
	total, _ := svc.TotalQuantity(ctx, owner)
	assert.Equal(t, 5, total)

	require.NoError(t, svc.SetQuantity(ctx, owner, item.Key, 0))
	total, _ = svc.TotalQuantity(ctx, owner)
	assert.Equal(t, 0, total)
}

func TestRemoveItemRequiresConfirmation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	owner := models.IdentityCart("u1")

	item, err := svc.AddItem(ctx, owner, "watch", models.CartOptions{}, 2)
	require.NoError(t, err)

	err = svc.RemoveItem(ctx, owner, item.Key, confirm.Static(false))
	assert.ErrorIs(t, err, apperr.ErrNotConfirmed)
	total, _ := svc.TotalQuantity(ctx, owner)
	assert.Equal(t, 2, total)

	require.NoError(t, svc.RemoveItem(ctx, owner, item.Key, confirm.Always))
	total, _ = svc.TotalQuantity(ctx, owner)
	assert.Equal(t, 0, total)
}

func TestConsolidateOnLoginMergesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	identity := models.IdentityCart("u1")
	anon := models.AnonymousCart("anon-1")

	_, err := svc.AddItem(ctx, identity, "watch", models.CartOptions{}, 1)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, anon, "watch", models.CartOptions{}, 2)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, anon, "strap", models.CartOptions{Size: "M"}, 1)
	require.NoError(t, err)

	moved, err := svc.ConsolidateOnLogin(ctx, "u1", "anon-1")
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	total, _ := svc.TotalQuantity(ctx, identity)
	assert.Equal(t, 4, total)
	anonItems, _ := svc.Items(ctx, anon)
	assert.Empty(t, anonItems)

	moved, err = svc.ConsolidateOnLogin(ctx, "u1", "anon-1")
	require.NoError(t, err)
	assert.Zero(t, moved)
	total, _ = svc.TotalQuantity(ctx, identity)
	assert.Equal(t, 4, total)
}

func TestConsolidateStopsOnFailureAndKeepsRemaining(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	anon := models.AnonymousCart("anon-1")

	_, err := svc.AddItem(ctx, anon, "watch", models.CartOptions{}, 1)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, anon, "strap", models.CartOptions{}, 1)
	require.NoError(t, err)

	calls := 0
	store.FailNext = func(op string) error {
		if op == "IncrementCartItem" {
			calls++
			if calls == 2 {
				return errors.New("write failed")
			}
		}
		return nil
	}

	moved, err := svc.ConsolidateOnLogin(ctx, "u1", "anon-1")
	require.Error(t, err)
	assert.Equal(t, 1, moved)

	anonItems, _ := svc.Items(ctx, anon)
	assert.Len(t, anonItems, 1)

	store.FailNext = nil
	moved, err = svc.ConsolidateOnLogin(ctx, "u1", "anon-1")
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	total, _ := svc.TotalQuantity(ctx, models.IdentityCart("u1"))
	assert.Equal(t, 2, total)
}

// overlappingStore starts a second login right after the first one has read
// the anonymous cart.
type overlappingStore struct {
	*database.Memory
	afterRead func()
}

func (s *overlappingStore) CartItems(ctx context.Context, owner models.CartOwner) ([]models.CartItem, error) {
	items, err := s.Memory.CartItems(ctx, owner)
	if next := s.afterRead; next != nil && owner.Kind == models.OwnerAnonymous {
		s.afterRead = nil
		next()
	}
	return items, err
}

func TestOverlappingConsolidationsMoveEachLineOnce(t *testing.T) {
	ctx := context.Background()
	_, memory := newTestService(t)
	store := &overlappingStore{Memory: memory}
	svc := NewService(store, memory)
	anon := models.AnonymousCart("anon-1")

	_, err := svc.AddItem(ctx, anon, "watch", models.CartOptions{}, 2)
	require.NoError(t, err)

	var secondMoved int
	var secondErr error
	store.afterRead = func() {
		secondMoved, secondErr = svc.ConsolidateOnLogin(ctx, "u1", "anon-1")
	}

	moved, err := svc.ConsolidateOnLogin(ctx, "u1", "anon-1")
	require.NoError(t, err)
	require.NoError(t, secondErr)
	assert.Equal(t, 1, moved+secondMoved)

	total, _ := svc.TotalQuantity(ctx, models.IdentityCart("u1"))
	assert.Equal(t, 2, total)
	anonItems, _ := svc.Items(ctx, anon)
	assert.Empty(t, anonItems)
}

func TestConsolidatePutsLineBackWhenMergeFails(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	anon := models.AnonymousCart("anon-1")

	_, err := svc.AddItem(ctx, anon, "watch", models.CartOptions{}, 3)
	require.NoError(t, err)

	failed := false
	store.FailNext = func(op string) error {
		if op == "IncrementCartItem" && !failed {
			failed = true
			return errors.New("write failed")
		}
		return nil
	}

	moved, err := svc.ConsolidateOnLogin(ctx, "u1", "anon-1")
	require.Error(t, err)
	assert.Zero(t, moved)

	store.FailNext = nil
	anonItems, _ := svc.Items(ctx, anon)
	require.Len(t, anonItems, 1)
	assert.Equal(t, 3, anonItems[0].Quantity)
	total, _ := svc.TotalQuantity(ctx, models.IdentityCart("u1"))
	assert.Zero(t, total)
}

func TestRequireNonEmpty(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	owner := models.IdentityCart("u1")

	_, err := svc.RequireNonEmpty(ctx, owner)
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.AddItem(ctx, owner, "watch", models.CartOptions{}, 1)
	require.NoError(t, err)
	items, err := svc.RequireNonEmpty(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
