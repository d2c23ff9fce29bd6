package database

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/models"
)

func (m *Mongo) Product(ctx context.Context, id string) (models.Product, error) {
	var p models.Product
	err := m.collection(productsCollection).FindOne(ctx, bson.M{
		"_id":       id,
		"isDeleted": bson.M{"$ne": true},
	}).Decode(&p)
	return p, translate(err)
}

// UpsertProduct writes the staff-maintained catalog entry as a whole.
func (m *Mongo) UpsertProduct(ctx context.Context, p models.Product) error {
	_, err := m.collection(productsCollection).ReplaceOne(ctx,
		bson.M{"_id": p.ID},
		p,
		options.Replace().SetUpsert(true),
	)
	return err
}
