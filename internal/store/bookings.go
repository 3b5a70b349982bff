package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ParticipantDirectory resolves a booking's canonical conversation
// participants from the marketplace's booking records plus the booking's own
// message history. Synthetic direct-message ids have no booking record; for
// those only history applies.
type ParticipantDirectory struct {
	bookings *mongo.Collection
	messages *MessageStore
}

type bookingRecord struct {
	CustomerEmail string `bson:"customerEmail"`
	ProviderEmail string `bson:"providerEmail"`
}

func NewParticipantDirectory(db *mongo.Database, messages *MessageStore) *ParticipantDirectory {
	return &ParticipantDirectory{
		bookings: db.Collection(CollBookings),
		messages: messages,
	}
}

func (d *ParticipantDirectory) Participants(ctx context.Context, bookingID string) ([]string, error) {
	seen := make(map[string]struct{})

	var rec bookingRecord
	err := d.bookings.FindOne(ctx, bson.M{"bookingId": bookingID}).Decode(&rec)
	switch err {
	case nil:
		if rec.CustomerEmail != "" {
			seen[rec.CustomerEmail] = struct{}{}
		}
		if rec.ProviderEmail != "" {
			seen[rec.ProviderEmail] = struct{}{}
		}
	case mongo.ErrNoDocuments:
		// direct-message conversation, no booking record
	default:
		return nil, err
	}

	senders, err := d.messages.DistinctSenders(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	for _, s := range senders {
		seen[s] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	return out, nil
}
