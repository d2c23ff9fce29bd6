package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type CartOptions struct {
	Strap string `bson:"strap" json:"strap"`
	Color string `bson:"color" json:"color"`
	Size  string `bson:"size" json:"size"`
}

func (o CartOptions) Normalize() CartOptions {
	return CartOptions{
		Strap: strings.TrimSpace(o.Strap),
		Color: strings.TrimSpace(o.Color),
		Size:  strings.TrimSpace(o.Size),
	}
}

// CartItemKey identifies a line by product and chosen options.
func CartItemKey(productID string, options CartOptions) string {
	o := options.Normalize()
	return strings.Join([]string{strings.TrimSpace(productID), o.Strap, o.Color, o.Size}, "__")
}

type CartItem struct {
	Key               string          `bson:"key" json:"key"`
	ProductID         string          `bson:"productId" json:"productId"`
	Name              string          `bson:"name" json:"name"`
	UnitPriceSnapshot decimal.Decimal `bson:"unitPrice" json:"unitPrice"`
	Options           CartOptions     `bson:"options" json:"options"`
	Quantity          int             `bson:"quantity" json:"quantity"`
	UpdatedAt         time.Time       `bson:"updatedAt" json:"updatedAt"`
}

type CartOwnerKind string

const (
	OwnerIdentity  CartOwnerKind = "user"
	OwnerAnonymous CartOwnerKind = "anon"
)

// CartOwner scopes a cart either to an authenticated identity or to an
// anonymous session token.
type CartOwner struct {
	Kind CartOwnerKind
	ID   string
}

func IdentityCart(identityID string) CartOwner {
	return CartOwner{Kind: OwnerIdentity, ID: identityID}
}

func AnonymousCart(token string) CartOwner {
	return CartOwner{Kind: OwnerAnonymous, ID: token}
}

func (o CartOwner) String() string {
	return string(o.Kind) + ":" + o.ID
}

func (o CartOwner) Valid() bool {
	return (o.Kind == OwnerIdentity || o.Kind == OwnerAnonymous) && strings.TrimSpace(o.ID) != ""
}
