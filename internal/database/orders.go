package database

import (
	"context"
	"log"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/models"
)

func (m *Mongo) InsertOrder(ctx context.Context, o models.Order) error {
	_, err := m.collection(ordersCollection).InsertOne(ctx, o)
	return translate(err)
}

func (m *Mongo) Order(ctx context.Context, id string) (models.Order, error) {
	return m.findOrder(ctx, bson.M{"_id": id})
}

func (m *Mongo) OrderByIdempotencyKey(ctx context.Context, identityID, key string) (models.Order, error) {
	return m.findOrder(ctx, bson.M{"identityId": identityID, "idempotencyKey": key})
}

func (m *Mongo) OrderByTrackingNumber(ctx context.Context, trackingNumber string) (models.Order, error) {
	return m.findOrder(ctx, bson.M{"trackingNumber": trackingNumber})
}

func (m *Mongo) findOrder(ctx context.Context, filter bson.M) (models.Order, error) {
	var o models.Order
	err := m.collection(ordersCollection).FindOne(ctx, filter).Decode(&o)
	return o, translate(err)
}

func (m *Mongo) Orders(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.IdentityID != "" {
		filter["identityId"] = f.IdentityID
	}
	if !f.CreatedBefore.IsZero() {
		filter["createdAt"] = bson.M{"$lt": f.CreatedBefore}
	}

	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if f.Skip > 0 {
		findOptions.SetSkip(f.Skip)
	}
	if f.Limit > 0 {
		findOptions.SetLimit(f.Limit)
	}

	cursor, err := m.collection(ordersCollection).Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	orders := make([]models.Order, 0)
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateOrderStatus applies the status change only while the stored status
// still equals upd.From. ErrConflict means somebody else moved it first.
func (m *Mongo) UpdateOrderStatus(ctx context.Context, id string, upd models.StatusUpdate) (models.Order, error) {
	change := upd.Change
	change.From = upd.From
	change.To = upd.To
	if change.At.IsZero() {
		change.At = m.now()
	}

	set := bson.M{"status": upd.To, "updatedAt": change.At}
	if upd.PaymentID != "" {
		set["paymentId"] = upd.PaymentID
	}
	if upd.PaymentMethod != "" {
		set["paymentMethod"] = upd.PaymentMethod
	}

	coll := m.collection(ordersCollection)
	var o models.Order
	err := coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": upd.From},
		bson.M{"$set": set, "$push": bson.M{"history": change}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&o)
	if err == nil {
		return o, nil
	}
	if err != mongo.ErrNoDocuments {
		return models.Order{}, err
	}

	count, err := coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return models.Order{}, err
	}
	if count == 0 {
		return models.Order{}, ErrNotFound
	}
	return models.Order{}, ErrConflict
}

func (m *Mongo) AppendOrderHistory(ctx context.Context, id string, change models.StatusChange) error {
	if change.At.IsZero() {
		change.At = m.now()
	}
	res, err := m.collection(ordersCollection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$push": bson.M{"history": change}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) RecordReservation(ctx context.Context, id, productID string) error {
	res, err := m.collection(ordersCollection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$addToSet": bson.M{"reserved": productID}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimRestock marks productID as restored on the order. Only the first
// caller gets true; the flag write and the check are one atomic update.
func (m *Mongo) ClaimRestock(ctx context.Context, id, productID string) (bool, error) {
	res, err := m.collection(ordersCollection).UpdateOne(ctx,
		bson.M{"_id": id, "reserved": productID, "restocked": bson.M{"$ne": productID}},
		bson.M{"$push": bson.M{"restocked": productID}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (m *Mongo) DeleteOrder(ctx context.Context, id string) error {
	res, err := m.collection(ordersCollection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

type orderChangeEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument *models.Order `bson:"fullDocument"`
}

// WatchOrders streams changes of the orders collection. Change streams need
// a replica set or sharded cluster.
func (m *Mongo) WatchOrders(ctx context.Context) (<-chan models.OrderChange, error) {
	stream, err := m.collection(ordersCollection).Watch(ctx, mongo.Pipeline{},
		options.ChangeStream().SetFullDocument(options.UpdateLookup),
	)
	if err != nil {
		return nil, err
	}

	out := make(chan models.OrderChange, 16)
	go func() {
		defer close(out)
		defer stream.Close(context.Background())

		for stream.Next(ctx) {
			var ev orderChangeEvent
			if err := stream.Decode(&ev); err != nil {
				log.Println("[ORDERS] [ERROR] change stream decode failed:", err)
				continue
			}

			change := models.OrderChange{OrderID: ev.DocumentKey.ID, Order: ev.FullDocument}
			switch ev.OperationType {
			case "insert":
				change.Kind = models.OrderInserted
			case "delete":
				change.Kind = models.OrderDeleted
			default:
				change.Kind = models.OrderUpdated
			}

			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			log.Println("[ORDERS] [ERROR] change stream stopped:", err)
		}
	}()
	return out, nil
}
