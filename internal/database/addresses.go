package database

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/models"
)

func (m *Mongo) Addresses(ctx context.Context, identityID string) ([]models.Address, error) {
	cursor, err := m.collection(addressesCollection).Find(ctx,
		bson.M{"identityId": identityID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	addresses := make([]models.Address, 0)
	if err := cursor.All(ctx, &addresses); err != nil {
		return nil, err
	}
	return addresses, nil
}

func (m *Mongo) InsertAddress(ctx context.Context, addr models.Address) error {
	_, err := m.collection(addressesCollection).InsertOne(ctx, addr)
	return translate(err)
}

// ReplaceAddress overwrites the mutable fields; id, owner and creation time
// are kept.
func (m *Mongo) ReplaceAddress(ctx context.Context, addr models.Address) error {
	res, err := m.collection(addressesCollection).UpdateOne(ctx,
		bson.M{"_id": addr.ID, "identityId": addr.IdentityID},
		bson.M{"$set": bson.M{
			"name":      addr.Name,
			"phone":     addr.Phone,
			"line1":     addr.Line1,
			"city":      addr.City,
			"state":     addr.State,
			"zip":       addr.Zip,
			"country":   addr.Country,
			"updatedAt": addr.UpdatedAt,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) SaveCheckoutSession(ctx context.Context, s models.CheckoutSession) error {
	_, err := m.collection(checkoutSessionsCollection).ReplaceOne(ctx,
		bson.M{"_id": s.ID},
		s,
		options.Replace().SetUpsert(true),
	)
	return err
}

// CheckoutSession ignores sessions past their expiry even before the TTL
// monitor has removed them.
func (m *Mongo) CheckoutSession(ctx context.Context, id string) (models.CheckoutSession, error) {
	var s models.CheckoutSession
	err := m.collection(checkoutSessionsCollection).FindOne(ctx, bson.M{
		"_id":       id,
		"expiresAt": bson.M{"$gt": m.now()},
	}).Decode(&s)
	return s, translate(err)
}
