package database

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"storefront/internal/models"
)

func (m *Mongo) InsertUser(ctx context.Context, u models.User) error {
	_, err := m.collection(usersCollection).InsertOne(ctx, u)
	return translate(err)
}

func (m *Mongo) UserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := m.collection(usersCollection).FindOne(ctx, bson.M{"email": email}).Decode(&u)
	return u, translate(err)
}

func (m *Mongo) User(ctx context.Context, id string) (models.User, error) {
	var u models.User
	err := m.collection(usersCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	return u, translate(err)
}
