package database

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Mongo implements every store the checkout pipeline consumes on top of one
// MongoDB database. Atomicity rests on single-document conditional updates.
type Mongo struct {
	db          *mongo.Database
	anonCartTTL time.Duration
	now         func() time.Time
}

func NewMongo(db *mongo.Database, anonCartTTL time.Duration) *Mongo {
	return &Mongo{db: db, anonCartTTL: anonCartTTL, now: time.Now}
}

func (m *Mongo) Ping(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return m.db.Client().Ping(checkCtx, readpref.Primary())
}

func (m *Mongo) collection(name string) *mongo.Collection {
	return m.db.Collection(name)
}
