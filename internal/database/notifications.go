package database

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/models"
)

// RecordNotification stores a verified gateway callback. It returns false
// when the same (order, payment, status) was already recorded.
func (m *Mongo) RecordNotification(ctx context.Context, n models.PaymentNotification) (bool, error) {
	if n.ID == "" {
		n.ID = models.NotificationID(n.OrderID, n.PaymentID, n.StatusCode)
	}
	if _, err := m.collection(notificationsCollection).InsertOne(ctx, n); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *Mongo) HasNotification(ctx context.Context, id string) (bool, error) {
	n, err := m.collection(notificationsCollection).CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
