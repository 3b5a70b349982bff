package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ADY0404/ArtisanConnect-sub002/internal/chat"
)

// PresenceStore upserts per-user online state. It is diagnostic data; the
// protocol handler never reads it to decide delivery.
type PresenceStore struct {
	col *mongo.Collection
}

type presenceRecord struct {
	UserID    string    `bson:"userId"`
	IsOnline  bool      `bson:"isOnline"`
	LastSeen  time.Time `bson:"lastSeen"`
	Role      chat.Role `bson:"role,omitempty"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func NewPresenceStore(db *mongo.Database) *PresenceStore {
	col := db.Collection(CollPresence)
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("presence_user_idx"),
	}
	_, _ = col.Indexes().CreateOne(context.Background(), idx)
	return &PresenceStore{col: col}
}

func (s *PresenceStore) SetOnline(ctx context.Context, userID string, role chat.Role) error {
	now := time.Now().UTC()
	return s.upsert(ctx, userID, bson.M{
		"isOnline":  true,
		"lastSeen":  now,
		"role":      role,
		"updatedAt": now,
	})
}

func (s *PresenceStore) SetOffline(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	return s.upsert(ctx, userID, bson.M{
		"isOnline":  false,
		"lastSeen":  now,
		"updatedAt": now,
	})
}

// Get returns the stored record for a user, ErrNotFound if none exists.
func (s *PresenceStore) Get(ctx context.Context, userID string) (bool, time.Time, error) {
	var rec presenceRecord
	err := s.col.FindOne(ctx, bson.M{"userId": userID}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return false, time.Time{}, ErrNotFound
	}
	if err != nil {
		return false, time.Time{}, err
	}
	return rec.IsOnline, rec.LastSeen, nil
}

func (s *PresenceStore) upsert(ctx context.Context, userID string, set bson.M) error {
	_, err := s.col.UpdateOne(ctx,
		bson.M{"userId": userID},
		bson.M{"$set": set},
		options.Update().SetUpsert(true))
	return err
}
