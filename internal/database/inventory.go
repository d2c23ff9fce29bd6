package database

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/models"
)

// DecrementStock removes qty units only when at least qty are on hand, so
// quantityOnHand can never go negative.
func (m *Mongo) DecrementStock(ctx context.Context, productID string, qty int) error {
	res, err := m.collection(inventoryCollection).UpdateOne(ctx,
		bson.M{"_id": productID, "quantityOnHand": bson.M{"$gte": qty}},
		bson.M{"$inc": bson.M{"quantityOnHand": -qty}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func (m *Mongo) IncrementStock(ctx context.Context, productID string, qty int) error {
	_, err := m.collection(inventoryCollection).UpdateOne(ctx,
		bson.M{"_id": productID},
		bson.M{"$inc": bson.M{"quantityOnHand": qty}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *Mongo) Inventory(ctx context.Context, productID string) (models.InventoryRecord, error) {
	var rec models.InventoryRecord
	err := m.collection(inventoryCollection).FindOne(ctx, bson.M{"_id": productID}).Decode(&rec)
	return rec, translate(err)
}
