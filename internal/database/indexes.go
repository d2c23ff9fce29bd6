package database

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	cartItemsCollection        = "cart_items"
	addressesCollection        = "addresses"
	checkoutSessionsCollection = "checkout_sessions"
	ordersCollection           = "orders"
	inventoryCollection        = "inventory"
	productsCollection         = "products"
	usersCollection            = "users"
	notificationsCollection    = "payment_notifications"
)

func ensureIndexes(db *mongo.Database, collection string, models ...mongo.IndexModel) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Printf("EnsureIndexes: creating %d index(es) on %s", len(models), collection)
	if _, err := db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
		log.Printf("EnsureIndexes: %s index error: %v", collection, err)
		return err
	}
	log.Printf("EnsureIndexes: %s indexes created", collection)
	return nil
}

func EnsureCartIndexes(db *mongo.Database) error {
	return ensureIndexes(db, cartItemsCollection,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "owner", Value: 1}, {Key: "createdAt", Value: 1}},
			Options: options.Index().SetName("owner_createdAt"),
		},
		mongo.IndexModel{
			Keys: bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().
				SetName("anonymous_cart_ttl").
				SetExpireAfterSeconds(0).
				SetPartialFilterExpression(bson.M{"expiresAt": bson.M{"$exists": true}}),
		},
	)
}

func EnsureAddressIndexes(db *mongo.Database) error {
	if err := ensureIndexes(db, addressesCollection, mongo.IndexModel{
		Keys:    bson.D{{Key: "identityId", Value: 1}, {Key: "createdAt", Value: 1}},
		Options: options.Index().SetName("identityId_createdAt"),
	}); err != nil {
		return err
	}
	return ensureIndexes(db, checkoutSessionsCollection, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetName("session_ttl").SetExpireAfterSeconds(0),
	})
}

func EnsureOrderIndexes(db *mongo.Database) error {
	return ensureIndexes(db, ordersCollection,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "identityId", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("identityId_createdAt"),
		},
		mongo.IndexModel{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}},
			Options: options.Index().SetName("status_createdAt"),
		},
		mongo.IndexModel{
			Keys:    bson.D{{Key: "trackingNumber", Value: 1}},
			Options: options.Index().SetName("trackingNumber_unique").SetUnique(true),
		},
		mongo.IndexModel{
			Keys: bson.D{{Key: "identityId", Value: 1}, {Key: "idempotencyKey", Value: 1}},
			Options: options.Index().
				SetName("idempotencyKey_unique").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"idempotencyKey": bson.M{"$type": "string"}}),
		},
	)
}

func EnsureUserIndexes(db *mongo.Database) error {
	return ensureIndexes(db, usersCollection, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetName("email_unique").SetUnique(true),
	})
}

func EnsurePaymentIndexes(db *mongo.Database) error {
	return ensureIndexes(db, notificationsCollection, mongo.IndexModel{
		Keys:    bson.D{{Key: "orderId", Value: 1}, {Key: "receivedAt", Value: 1}},
		Options: options.Index().SetName("orderId_receivedAt"),
	})
}
