package chat

import "time"

// Wire event names. The protocol is symmetric-named: the same event string is
// never reused across directions, and direction is fixed per event.
const (
	// client -> server
	EventUserJoin    = "user:join"
	EventBookingJoin = "booking:join"
	EventSendMessage = "chat:send_message"
	EventTypingStart = "chat:typing_start"
	EventTypingStop  = "chat:typing_stop"
	EventMarkRead    = "chat:mark_read"
	EventRoomStatus  = "room:status"
	EventPing        = "ping"

	// server -> client
	EventAuthenticated           = "user:authenticated"
	EventConnectionCount         = "server:connection_count"
	EventRoomJoined              = "booking:room_joined"
	EventRoomMembers             = "booking:room_members"
	EventUserJoined              = "booking:user_joined"
	EventUserLeft                = "booking:user_left"
	EventNewMessage              = "chat:new_message"
	EventMessageSent             = "chat:message_sent"
	EventMessageDelivered        = "chat:message_delivered"
	EventOfflineMessageDelivered = "chat:offline_message_delivered"
	EventUserTyping              = "chat:user_typing"
	EventMessageRead             = "chat:message_read"
	EventRoomStatusResponse      = "room:status_response"
	EventError                   = "error"
	EventPong                    = "pong"
)

// Client -> server payloads.

type AuthPayload struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

type JoinPayload struct {
	BookingID string `json:"bookingId"`
	UserRole  string `json:"userRole"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
}

type SendPayload struct {
	BookingID   string `json:"bookingId"`
	Message     string `json:"message"`
	MessageType string `json:"messageType"`
}

type TypingPayload struct {
	BookingID string `json:"bookingId"`
}

type MarkReadPayload struct {
	MessageID string `json:"messageId"`
	BookingID string `json:"bookingId"`
}

type StatusPayload struct {
	BookingID string `json:"bookingId"`
}

// Server -> client payloads.

type AuthenticatedPayload struct {
	UserID    string    `json:"userId"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

type ConnectionCountPayload struct {
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

type RoomJoinedPayload struct {
	BookingID   string       `json:"bookingId"`
	RoomName    string       `json:"roomName"`
	MemberCount int          `json:"memberCount"`
	Members     []RoomMember `json:"members"`
}

type RoomMembersPayload struct {
	BookingID string       `json:"bookingId"`
	Members   []RoomMember `json:"members"`
}

type MembershipChangePayload struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	UserRole  Role      `json:"userRole"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageSentPayload struct {
	MessageID      string    `json:"messageId"`
	Timestamp      time.Time `json:"timestamp"`
	DeliveryStatus string    `json:"deliveryStatus"`
}

type MessageDeliveredPayload struct {
	MessageID   string    `json:"messageId"`
	DeliveredTo string    `json:"deliveredTo"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

type OfflineDeliveredPayload struct {
	Message     *Message  `json:"message"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

type UserTypingPayload struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	UserRole  Role      `json:"userRole"`
	IsTyping  bool      `json:"isTyping"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageReadPayload struct {
	MessageID string    `json:"messageId"`
	ReadBy    string    `json:"readBy"`
	UserName  string    `json:"userName"`
	UserRole  Role      `json:"userRole"`
	Timestamp time.Time `json:"timestamp"`
}

type RoomStatusResponsePayload struct {
	BookingID   string       `json:"bookingId"`
	RoomName    string       `json:"roomName"`
	IsJoined    bool         `json:"isJoined"`
	MemberCount int          `json:"memberCount"`
	Members     []RoomMember `json:"members"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type PongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}
