package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ADY0404/ArtisanConnect-sub002/internal/chat"
)

// MessageStore is the Mongo-backed implementation of chat.MessageStore.
type MessageStore struct {
	col *mongo.Collection
}

func NewMessageStore(db *mongo.Database) *MessageStore {
	col := db.Collection(CollMessages)
	idx := []mongo.IndexModel{
		{Keys: bson.D{{Key: "messageId", Value: 1}}, Options: options.Index().SetUnique(true).SetName("message_id_idx")},
		{Keys: bson.D{{Key: "bookingId", Value: 1}, {Key: "timestamp", Value: -1}}, Options: options.Index().SetName("booking_time_idx")},
	}
	_, _ = col.Indexes().CreateMany(context.Background(), idx)
	return &MessageStore{col: col}
}

func (s *MessageStore) Insert(ctx context.Context, m *chat.Message) error {
	_, err := s.col.InsertOne(ctx, m)
	return err
}

// AppendReadReceipt pushes a receipt onto readBy unless the user already has
// one there; the guarded filter makes repeated reads a no-op instead of
// accumulating duplicate entries.
func (s *MessageStore) AppendReadReceipt(ctx context.Context, messageID string, r chat.Receipt) error {
	filter := bson.M{
		"messageId":     messageID,
		"readBy.userId": bson.M{"$ne": r.UserID},
	}
	update := bson.M{
		"$push": bson.M{"readBy": r},
		"$set":  bson.M{"isRead": true},
	}
	_, err := s.col.UpdateOne(ctx, filter, update)
	return err
}

// Recent returns up to limit messages for a booking in chronological order.
func (s *MessageStore) Recent(ctx context.Context, bookingID string, limit int64) ([]*chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	cur, err := s.col.Find(ctx, bson.M{"bookingId": bookingID}, options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(limit))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*chat.Message
	for cur.Next(ctx) {
		var m chat.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// DistinctSenders lists every userId that has sent a message in a booking.
func (s *MessageStore) DistinctSenders(ctx context.Context, bookingID string) ([]string, error) {
	raw, err := s.col.Distinct(ctx, "senderId", bson.M{"bookingId": bookingID})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}
