package models

import "time"

// Address is a shipping address owned by one identity.
type Address struct {
	ID         string    `bson:"_id" json:"id"`
	IdentityID string    `bson:"identityId" json:"-"`
	Name       string    `bson:"name" json:"name"`
	Phone      string    `bson:"phone,omitempty" json:"phone,omitempty"`
	Line1      string    `bson:"line1" json:"line1"`
	City       string    `bson:"city" json:"city"`
	State      string    `bson:"state,omitempty" json:"state,omitempty"`
	Zip        string    `bson:"zip,omitempty" json:"zip,omitempty"`
	Country    string    `bson:"country" json:"country"`
	CreatedAt  time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt" json:"updatedAt"`
}

// AddressFields are the mutable parts of an address.
type AddressFields struct {
	Name    string `json:"name" binding:"required"`
	Phone   string `json:"phone"`
	Line1   string `json:"line1" binding:"required"`
	City    string `json:"city" binding:"required"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country" binding:"required"`
}

// CheckoutSession holds the state of one in-progress checkout.
type CheckoutSession struct {
	ID                string    `bson:"_id" json:"id"`
	IdentityID        string    `bson:"identityId" json:"-"`
	SelectedAddressID string    `bson:"selectedAddressId,omitempty" json:"selectedAddressId,omitempty"`
	CreatedAt         time.Time `bson:"createdAt" json:"createdAt"`
	ExpiresAt         time.Time `bson:"expiresAt" json:"expiresAt"`
}
