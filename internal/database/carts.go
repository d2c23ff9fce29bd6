package database

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/models"
)

type cartItemDocument struct {
	models.CartItem `bson:",inline"`

	ID        string     `bson:"_id"`
	Owner     string     `bson:"owner"`
	CreatedAt time.Time  `bson:"createdAt"`
	ExpiresAt *time.Time `bson:"expiresAt,omitempty"`
}

func cartDocID(owner models.CartOwner, key string) string {
	return owner.String() + "|" + key
}

func (m *Mongo) CartItems(ctx context.Context, owner models.CartOwner) ([]models.CartItem, error) {
	cursor, err := m.collection(cartItemsCollection).Find(ctx,
		bson.M{"owner": owner.String(), "quantity": bson.M{"$gt": 0}},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []cartItemDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	items := make([]models.CartItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.CartItem)
	}
	return items, nil
}

// IncrementCartItem upserts the line and adds delta atomically. Name, price
// and options are captured on insert only.
func (m *Mongo) IncrementCartItem(ctx context.Context, owner models.CartOwner, item models.CartItem, delta int) (int, error) {
	now := m.now()
	set := bson.M{"updatedAt": now}
	if owner.Kind == models.OwnerAnonymous && m.anonCartTTL > 0 {
		set["expiresAt"] = now.Add(m.anonCartTTL)
	}

	update := bson.M{
		"$inc": bson.M{"quantity": delta},
		"$set": set,
		"$setOnInsert": bson.M{
			"owner":     owner.String(),
			"key":       item.Key,
			"productId": item.ProductID,
			"name":      item.Name,
			"unitPrice": item.UnitPriceSnapshot,
			"options":   item.Options,
			"createdAt": now,
		},
	}

	var doc cartItemDocument
	err := m.collection(cartItemsCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": cartDocID(owner, item.Key)},
		update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, translate(err)
	}
	return doc.Quantity, nil
}

// DecrementCartItem removes one unit. A line holding a single unit is
// deleted instead of being left at zero. Returns the remaining quantity.
func (m *Mongo) DecrementCartItem(ctx context.Context, owner models.CartOwner, key string) (int, error) {
	coll := m.collection(cartItemsCollection)
	id := cartDocID(owner, key)

	for attempt := 0; attempt < 3; attempt++ {
		var doc cartItemDocument
		err := coll.FindOneAndUpdate(ctx,
			bson.M{"_id": id, "quantity": bson.M{"$gt": 1}},
			bson.M{"$inc": bson.M{"quantity": -1}, "$set": bson.M{"updatedAt": m.now()}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&doc)
		if err == nil {
			return doc.Quantity, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return 0, err
		}

		res, err := coll.DeleteOne(ctx, bson.M{"_id": id, "quantity": bson.M{"$lte": 1}})
		if err != nil {
			return 0, err
		}
		if res.DeletedCount == 1 {
			return 0, nil
		}

		count, err := coll.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return 0, err
		}
		if count == 0 {
			return 0, ErrNotFound
		}
	}
	return 0, ErrConflict
}

func (m *Mongo) SetCartItemQuantity(ctx context.Context, owner models.CartOwner, key string, qty int) error {
	res, err := m.collection(cartItemsCollection).UpdateOne(ctx,
		bson.M{"_id": cartDocID(owner, key)},
		bson.M{"$set": bson.M{"quantity": qty, "updatedAt": m.now()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) RemoveCartItem(ctx context.Context, owner models.CartOwner, key string) error {
	res, err := m.collection(cartItemsCollection).DeleteOne(ctx, bson.M{"_id": cartDocID(owner, key)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// TakeCartItem deletes the line and returns what it held. Only one caller
// gets a given line.
func (m *Mongo) TakeCartItem(ctx context.Context, owner models.CartOwner, key string) (models.CartItem, error) {
	var doc cartItemDocument
	err := m.collection(cartItemsCollection).FindOneAndDelete(ctx,
		bson.M{"_id": cartDocID(owner, key), "quantity": bson.M{"$gt": 0}},
	).Decode(&doc)
	if err != nil {
		return models.CartItem{}, translate(err)
	}
	return doc.CartItem, nil
}

func (m *Mongo) ClearCart(ctx context.Context, owner models.CartOwner) error {
	_, err := m.collection(cartItemsCollection).DeleteMany(ctx, bson.M{"owner": owner.String()})
	return err
}
