package addressbook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/apperr"
	"storefront/internal/database"
	"storefront/internal/models"
)

var home = models.AddressFields{Name: "Nimal Perera", Phone: "0771234567", Line1: "12 Galle Rd", City: "Colombo", Country: "Sri Lanka"}

func TestAddAndListKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	book := New(database.NewMemory(0), time.Hour)

	first, err := book.AddAddress(ctx, "u1", home)
	require.NoError(t, err)
	office := home
	office.Line1 = "99 Union Pl"
	second, err := book.AddAddress(ctx, "u1", office)
	require.NoError(t, err)

	list, err := book.ListAddresses(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	other, err := book.ListAddresses(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestAddAddressValidatesRequiredFields(t *testing.T) {
	book := New(database.NewMemory(0), time.Hour)
	missing := home
	missing.City = "  "
	_, err := book.AddAddress(context.Background(), "u1", missing)
	assert.True(t, apperr.IsValidation(err))
}

func TestUpdateAddressKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	book := New(database.NewMemory(0), time.Hour)

	addr, err := book.AddAddress(ctx, "u1", home)
	require.NoError(t, err)

	changed := home
	changed.City = "Kandy"
	updated, err := book.UpdateAddress(ctx, "u1", addr.ID, changed)
	require.NoError(t, err)
	assert.Equal(t, addr.ID, updated.ID)
	assert.Equal(t, "Kandy", updated.City)

	_, err = book.UpdateAddress(ctx, "u2", addr.ID, changed)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	list, _ := book.ListAddresses(ctx, "u1")
	require.Len(t, list, 1)
	assert.Equal(t, "Kandy", list[0].City)
}

func TestSelectAddressOnlyFromBook(t *testing.T) {
	ctx := context.Background()
	book := New(database.NewMemory(0), time.Hour)

	addr, err := book.AddAddress(ctx, "u1", home)
	require.NoError(t, err)
	session, err := book.BeginSession(ctx, "u1")
	require.NoError(t, err)

	_, err = book.SelectedAddress(ctx, session.ID, "u1")
	assert.True(t, apperr.IsValidation(err))

	_, err = book.SelectAddress(ctx, session.ID, "u1", "not-mine")
	assert.True(t, apperr.IsValidation(err))

	_, err = book.SelectAddress(ctx, session.ID, "u1", addr.ID)
	require.NoError(t, err)

	got, err := book.SelectedAddress(ctx, session.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, addr.ID, got.ID)

	_, err = book.SelectedAddress(ctx, session.ID, "u2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestExpiredSessionIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemory(0)
	book := New(store, time.Minute)

	session, err := book.BeginSession(ctx, "u1")
	require.NoError(t, err)

	store.SetClock(func() time.Time { return time.Now().Add(2 * time.Minute) })
	_, err = book.Session(ctx, session.ID, "u1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
