package chat

import (
	"context"
	"time"
)

// Delivery status of a message. "delivered" means at least one live recipient
// received the room broadcast, not a per-recipient acknowledgment.
const (
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
)

const MessageTypeText = "text"

// Receipt records that a user has read a message.
type Receipt struct {
	UserID string    `bson:"userId" json:"userId"`
	ReadAt time.Time `bson:"readAt" json:"readAt"`
}

// Message is the durable chat record. Created once at send time; after that
// only read receipts and the edit/delete flags may change, never the body.
type Message struct {
	MessageID      string    `bson:"messageId" json:"messageId"`
	BookingID      string    `bson:"bookingId" json:"bookingId"`
	SenderID       string    `bson:"senderId" json:"senderId"`
	SenderName     string    `bson:"senderName" json:"senderName"`
	SenderRole     Role      `bson:"senderRole" json:"senderRole"`
	Body           string    `bson:"body" json:"body"`
	MessageType    string    `bson:"messageType" json:"messageType"`
	Timestamp      time.Time `bson:"timestamp" json:"timestamp"`
	IsRead         bool      `bson:"isRead" json:"isRead"`
	ReadBy         []Receipt `bson:"readBy" json:"readBy"`
	DeliveryStatus string    `bson:"deliveryStatus" json:"deliveryStatus"`
	Edited         bool      `bson:"edited" json:"edited"`
	Deleted        bool      `bson:"deleted" json:"deleted"`
}

// PendingDelivery queues a message for a recipient who was offline at send
// time. Records are flagged delivered rather than removed, for audit.
type PendingDelivery struct {
	PendingID   string     `bson:"pendingId" json:"pendingId"`
	BookingID   string     `bson:"bookingId" json:"bookingId"`
	RecipientID string     `bson:"recipientId" json:"recipientId"`
	Message     *Message   `bson:"message" json:"message"`
	Delivered   bool       `bson:"delivered" json:"delivered"`
	CreatedAt   time.Time  `bson:"createdAt" json:"createdAt"`
	DeliveredAt *time.Time `bson:"deliveredAt,omitempty" json:"deliveredAt,omitempty"`
}

// MessageStore persists chat messages independent of delivery.
type MessageStore interface {
	Insert(ctx context.Context, m *Message) error
	// AppendReadReceipt adds a receipt to the message's readBy list. It must
	// be idempotent: a second receipt from the same user is a no-op.
	AppendReadReceipt(ctx context.Context, messageID string, r Receipt) error
	Recent(ctx context.Context, bookingID string, limit int64) ([]*Message, error)
}

// PendingQueue persists deliveries addressed to offline recipients.
//
// MarkDelivered must be an atomic false->true flip: it reports true only for
// the single caller that performed the transition, so two redelivery paths
// racing on the same record cannot both push it to the client.
type PendingQueue interface {
	Enqueue(ctx context.Context, p *PendingDelivery) error
	Undelivered(ctx context.Context, userID string) ([]*PendingDelivery, error)
	UndeliveredForBooking(ctx context.Context, bookingID, userID string) ([]*PendingDelivery, error)
	MarkDelivered(ctx context.Context, pendingID string, at time.Time) (bool, error)
}

// PresenceStore records online/offline status per user. It is a diagnostic
// signal only; delivery decisions use the in-process Registry.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID string, role Role) error
	SetOffline(ctx context.Context, userID string) error
}

// ParticipantDirectory resolves a booking's canonical conversation
// participants: the booking record's customer and provider plus every distinct
// sender seen in the booking's message history. This is deliberately broader
// than live room membership so offline queuing does not depend on who happened
// to have the chat window open.
type ParticipantDirectory interface {
	Participants(ctx context.Context, bookingID string) ([]string, error)
}

// Publisher fans persisted messages out to the event bus for downstream
// consumers (notifications, analytics). Best-effort.
type Publisher interface {
	MessageSent(ctx context.Context, m *Message) error
}
