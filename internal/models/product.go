package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the read-only catalog view the checkout needs.
type Product struct {
	ID          string          `bson:"_id" json:"id"`
	Name        string          `bson:"name" json:"name"`
	Price       decimal.Decimal `bson:"price" json:"price"`
	SaleEnabled bool            `bson:"saleEnabled" json:"saleEnabled"`
	SalePrice   decimal.Decimal `bson:"salePrice" json:"salePrice"`
	IsActive    bool            `bson:"isActive" json:"isActive"`
	IsDeleted   bool            `bson:"isDeleted" json:"isDeleted,omitempty"`
	CreatedAt   time.Time       `bson:"createdAt" json:"createdAt"`
}

func (p Product) IsOnSale() bool {
	return p.SaleEnabled && p.SalePrice.IsPositive() && p.SalePrice.LessThan(p.Price)
}

// EffectivePrice is what a shopper pays right now.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.IsOnSale() {
		return p.SalePrice
	}
	return p.Price
}

func (p Product) Purchasable() bool {
	return p.IsActive && !p.IsDeleted
}
