package database

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

type priced struct {
	Price decimal.Decimal `bson:"price"`
}

func TestDecimalIsStoredAsDecimal128(t *testing.T) {
	reg := NewRegistry()
	data, err := bson.MarshalWithRegistry(reg, priced{Price: decimal.RequireFromString("49.90")})
	require.NoError(t, err)

	raw := bson.Raw(data)
	assert.Equal(t, bsontype.Decimal128, raw.Lookup("price").Type)

	var out priced
	require.NoError(t, bson.UnmarshalWithRegistry(reg, data, &out))
	assert.True(t, out.Price.Equal(decimal.RequireFromString("49.9")))
}

func TestDecimalDecodesLegacyNumericTypes(t *testing.T) {
	reg := NewRegistry()
	cases := []bson.M{
		{"price": 12.5},
		{"price": int32(12)},
		{"price": int64(12)},
		{"price": "12.50"},
	}
	want := []string{"12.5", "12", "12", "12.5"}

	for i, doc := range cases {
		data, err := bson.Marshal(doc)
		require.NoError(t, err)

		var out priced
		require.NoError(t, bson.UnmarshalWithRegistry(reg, data, &out))
		assert.True(t, out.Price.Equal(decimal.RequireFromString(want[i])), "case %d got %s", i, out.Price)
	}
}

func TestDecimalRejectsUnsupportedType(t *testing.T) {
	data, err := bson.Marshal(bson.M{"price": true})
	require.NoError(t, err)

	var out priced
	assert.Error(t, bson.UnmarshalWithRegistry(NewRegistry(), data, &out))
}
