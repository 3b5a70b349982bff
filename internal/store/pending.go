package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ADY0404/ArtisanConnect-sub002/internal/chat"
)

// PendingQueue is the Mongo-backed implementation of chat.PendingQueue.
// Delivered records stay in the collection for audit; only the flag moves.
type PendingQueue struct {
	col *mongo.Collection
}

func NewPendingQueue(db *mongo.Database) *PendingQueue {
	col := db.Collection(CollPending)
	idx := []mongo.IndexModel{
		{Keys: bson.D{{Key: "pendingId", Value: 1}}, Options: options.Index().SetUnique(true).SetName("pending_id_idx")},
		{Keys: bson.D{{Key: "recipientId", Value: 1}, {Key: "delivered", Value: 1}, {Key: "createdAt", Value: 1}}, Options: options.Index().SetName("recipient_undelivered_idx")},
	}
	_, _ = col.Indexes().CreateMany(context.Background(), idx)
	return &PendingQueue{col: col}
}

func (q *PendingQueue) Enqueue(ctx context.Context, p *chat.PendingDelivery) error {
	_, err := q.col.InsertOne(ctx, p)
	return err
}

func (q *PendingQueue) Undelivered(ctx context.Context, userID string) ([]*chat.PendingDelivery, error) {
	return q.find(ctx, bson.M{"recipientId": userID, "delivered": false})
}

func (q *PendingQueue) UndeliveredForBooking(ctx context.Context, bookingID, userID string) ([]*chat.PendingDelivery, error) {
	return q.find(ctx, bson.M{"bookingId": bookingID, "recipientId": userID, "delivered": false})
}

// MarkDelivered flips delivered false->true with a conditional update. The
// filter only matches an undelivered record, so among any number of
// concurrent callers exactly one observes ModifiedCount == 1 and owns the
// push to the client. The condition holds across process instances, not just
// in-process.
func (q *PendingQueue) MarkDelivered(ctx context.Context, pendingID string, at time.Time) (bool, error) {
	res, err := q.col.UpdateOne(ctx,
		bson.M{"pendingId": pendingID, "delivered": false},
		bson.M{"$set": bson.M{"delivered": true, "deliveredAt": at}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (q *PendingQueue) find(ctx context.Context, filter bson.M) ([]*chat.PendingDelivery, error) {
	cur, err := q.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*chat.PendingDelivery
	for cur.Next(ctx) {
		var p chat.PendingDelivery
		if err := cur.Decode(&p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, cur.Err()
}
