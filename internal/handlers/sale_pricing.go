package handlers

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type saleUpdateInput struct {
	Price       *decimal.Decimal
	SaleEnabled *bool
	SalePrice   *decimal.Decimal
}

type saleUpdateResult struct {
	Price       decimal.Decimal
	SaleEnabled bool
	SalePrice   decimal.Decimal
}

func validateSaleFields(price decimal.Decimal, saleEnabled bool, salePrice decimal.Decimal, salePriceSet bool) error {
	if !price.IsPositive() {
		return fmt.Errorf("price must be greater than 0")
	}
	if !saleEnabled {
		return nil
	}
	if !salePriceSet {
		return fmt.Errorf("salePrice is required when saleEnabled is true")
	}
	if !salePrice.IsPositive() {
		return fmt.Errorf("salePrice must be greater than 0")
	}
	if salePrice.GreaterThanOrEqual(price) {
		return fmt.Errorf("salePrice must be less than price")
	}
	return nil
}

// resolveSaleUpdate applies a partial price update onto the stored values.
// Turning the sale off clears the sale price.
func resolveSaleUpdate(existingPrice decimal.Decimal, existingSaleEnabled bool, existingSalePrice decimal.Decimal, input saleUpdateInput) (saleUpdateResult, error) {
	result := saleUpdateResult{
		Price:       existingPrice,
		SaleEnabled: existingSaleEnabled,
		SalePrice:   existingSalePrice,
	}

	if input.Price != nil {
		result.Price = *input.Price
	}

	salePriceSetForValidation := existingSalePrice.IsPositive()

	if input.SaleEnabled != nil {
		result.SaleEnabled = *input.SaleEnabled
		if !*input.SaleEnabled {
			result.SalePrice = decimal.Zero
			salePriceSetForValidation = false
		}
	}

	if input.SalePrice != nil {
		result.SalePrice = *input.SalePrice
		salePriceSetForValidation = true
	}

	if err := validateSaleFields(result.Price, result.SaleEnabled, result.SalePrice, salePriceSetForValidation); err != nil {
		return saleUpdateResult{}, err
	}

	return result, nil
}
