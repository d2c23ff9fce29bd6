// Package addressbook stores shipping addresses per identity and tracks the
// address selected for each checkout session.
package addressbook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"storefront/internal/apperr"
	"storefront/internal/database"
	"storefront/internal/models"
)

type Store interface {
	Addresses(ctx context.Context, identityID string) ([]models.Address, error)
	InsertAddress(ctx context.Context, addr models.Address) error
	ReplaceAddress(ctx context.Context, addr models.Address) error
	SaveCheckoutSession(ctx context.Context, s models.CheckoutSession) error
	CheckoutSession(ctx context.Context, id string) (models.CheckoutSession, error)
}

type Book struct {
	store      Store
	sessionTTL time.Duration
	now        func() time.Time
}

func New(store Store, sessionTTL time.Duration) *Book {
	if sessionTTL <= 0 {
		sessionTTL = 30 * time.Minute
	}
	return &Book{store: store, sessionTTL: sessionTTL, now: time.Now}
}

func clean(f models.AddressFields) (models.AddressFields, error) {
	f = models.AddressFields{
		Name:    strings.TrimSpace(f.Name),
		Phone:   strings.TrimSpace(f.Phone),
		Line1:   strings.TrimSpace(f.Line1),
		City:    strings.TrimSpace(f.City),
		State:   strings.TrimSpace(f.State),
		Zip:     strings.TrimSpace(f.Zip),
		Country: strings.TrimSpace(f.Country),
	}
	switch {
	case f.Name == "":
		return f, apperr.Invalid("name", "is required")
	case f.Line1 == "":
		return f, apperr.Invalid("line1", "is required")
	case f.City == "":
		return f, apperr.Invalid("city", "is required")
	case f.Country == "":
		return f, apperr.Invalid("country", "is required")
	}
	return f, nil
}

func apply(addr *models.Address, f models.AddressFields) {
	addr.Name = f.Name
	addr.Phone = f.Phone
	addr.Line1 = f.Line1
	addr.City = f.City
	addr.State = f.State
	addr.Zip = f.Zip
	addr.Country = f.Country
}

func requireIdentity(identityID string) error {
	if strings.TrimSpace(identityID) == "" {
		return apperr.Invalid("identityId", "is required")
	}
	return nil
}

func (b *Book) AddAddress(ctx context.Context, identityID string, fields models.AddressFields) (models.Address, error) {
	if err := requireIdentity(identityID); err != nil {
		return models.Address{}, err
	}
	fields, err := clean(fields)
	if err != nil {
		return models.Address{}, err
	}

	now := b.now()
	addr := models.Address{ID: uuid.NewString(), IdentityID: identityID, CreatedAt: now, UpdatedAt: now}
	apply(&addr, fields)
	if err := b.store.InsertAddress(ctx, addr); err != nil {
		return models.Address{}, err
	}
	return addr, nil
}

// UpdateAddress edits an address in place. The id and owner never change.
func (b *Book) UpdateAddress(ctx context.Context, identityID, addressID string, fields models.AddressFields) (models.Address, error) {
	if err := requireIdentity(identityID); err != nil {
		return models.Address{}, err
	}
	fields, err := clean(fields)
	if err != nil {
		return models.Address{}, err
	}
	current, err := b.find(ctx, identityID, addressID)
	if err != nil {
		return models.Address{}, err
	}

	apply(&current, fields)
	current.UpdatedAt = b.now()
	if err := b.store.ReplaceAddress(ctx, current); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return models.Address{}, fmt.Errorf("address %s: %w", addressID, apperr.ErrNotFound)
		}
		return models.Address{}, err
	}
	return current, nil
}

// ListAddresses returns addresses in the order they were added.
func (b *Book) ListAddresses(ctx context.Context, identityID string) ([]models.Address, error) {
	if err := requireIdentity(identityID); err != nil {
		return nil, err
	}
	return b.store.Addresses(ctx, identityID)
}

func (b *Book) find(ctx context.Context, identityID, addressID string) (models.Address, error) {
	list, err := b.store.Addresses(ctx, identityID)
	if err != nil {
		return models.Address{}, err
	}
	for _, addr := range list {
		if addr.ID == addressID {
			return addr, nil
		}
	}
	return models.Address{}, fmt.Errorf("address %s: %w", addressID, apperr.ErrNotFound)
}

func (b *Book) BeginSession(ctx context.Context, identityID string) (models.CheckoutSession, error) {
	if err := requireIdentity(identityID); err != nil {
		return models.CheckoutSession{}, err
	}
	now := b.now()
	session := models.CheckoutSession{
		ID:         uuid.NewString(),
		IdentityID: identityID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(b.sessionTTL),
	}
	if err := b.store.SaveCheckoutSession(ctx, session); err != nil {
		return models.CheckoutSession{}, err
	}
	return session, nil
}

// Session loads a live checkout session owned by identityID.
func (b *Book) Session(ctx context.Context, sessionID, identityID string) (models.CheckoutSession, error) {
	session, err := b.store.CheckoutSession(ctx, sessionID)
	if errors.Is(err, database.ErrNotFound) {
		return models.CheckoutSession{}, fmt.Errorf("checkout session %s: %w", sessionID, apperr.ErrNotFound)
	}
	if err != nil {
		return models.CheckoutSession{}, err
	}
	if session.IdentityID != identityID {
		return models.CheckoutSession{}, fmt.Errorf("checkout session %s: %w", sessionID, apperr.ErrNotFound)
	}
	return session, nil
}

// SelectAddress records which address the session ships to. Only addresses
// already in the identity's book can be selected.
func (b *Book) SelectAddress(ctx context.Context, sessionID, identityID, addressID string) (models.CheckoutSession, error) {
	session, err := b.Session(ctx, sessionID, identityID)
	if err != nil {
		return models.CheckoutSession{}, err
	}
	if _, err := b.find(ctx, identityID, addressID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return models.CheckoutSession{}, apperr.Invalid("addressId", "address is not in the address book")
		}
		return models.CheckoutSession{}, err
	}

	session.SelectedAddressID = addressID
	if err := b.store.SaveCheckoutSession(ctx, session); err != nil {
		return models.CheckoutSession{}, err
	}
	return session, nil
}

// SelectedAddress returns a snapshot of the address the session ships to.
func (b *Book) SelectedAddress(ctx context.Context, sessionID, identityID string) (models.Address, error) {
	session, err := b.Session(ctx, sessionID, identityID)
	if err != nil {
		return models.Address{}, err
	}
	if session.SelectedAddressID == "" {
		return models.Address{}, apperr.Invalid("address", "no shipping address selected")
	}
	addr, err := b.find(ctx, identityID, session.SelectedAddressID)
	if errors.Is(err, apperr.ErrNotFound) {
		return models.Address{}, apperr.Invalid("address", "selected address no longer exists")
	}
	return addr, err
}
