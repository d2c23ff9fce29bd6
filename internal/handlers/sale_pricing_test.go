package handlers

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func boolPtr(b bool) *bool { return &b }

func TestValidateSaleFieldsMissingSalePrice(t *testing.T) {
	err := validateSaleFields(dec("100"), true, decimal.Zero, false)
	assert.Error(t, err, "saleEnabled=true without salePrice must fail")
}

func TestValidateSaleFieldsSalePriceGreaterOrEqualPrice(t *testing.T) {
	for _, salePrice := range []string{"100", "120"} {
		err := validateSaleFields(dec("100"), true, dec(salePrice), true)
		assert.Error(t, err, "salePrice=%s", salePrice)
	}
}

func TestValidateSaleFieldsRejectsNonPositivePrice(t *testing.T) {
	assert.Error(t, validateSaleFields(decimal.Zero, false, decimal.Zero, false))
}

func TestResolveSaleUpdateDisablingClearsSalePrice(t *testing.T) {
	res, err := resolveSaleUpdate(dec("100"), true, dec("80"), saleUpdateInput{SaleEnabled: boolPtr(false)})
	require.NoError(t, err)
	assert.False(t, res.SaleEnabled)
	assert.True(t, res.SalePrice.IsZero())
}

func TestResolveSaleUpdateKeepsExistingSalePrice(t *testing.T) {
	res, err := resolveSaleUpdate(dec("100"), true, dec("80"), saleUpdateInput{Price: decPtr("90")})
	require.NoError(t, err)
	assert.Equal(t, "90.00", res.Price.StringFixed(2))
	assert.Equal(t, "80.00", res.SalePrice.StringFixed(2))
}

func TestResolveSaleUpdateRejectsPriceBelowSale(t *testing.T) {
	_, err := resolveSaleUpdate(dec("100"), true, dec("80"), saleUpdateInput{Price: decPtr("75")})
	assert.Error(t, err)
}
