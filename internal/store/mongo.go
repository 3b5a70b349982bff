package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var ErrNotFound = errors.New("not found")

// Collection names used by the chat service.
const (
	CollMessages = "messages"
	CollPending  = "pending_deliveries"
	CollPresence = "presence"
	CollBookings = "bookings"
)

// Connect opens a Mongo client and verifies connectivity with a ping.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, func(context.Context) error, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}
	return client.Database(database), client.Disconnect, nil
}
