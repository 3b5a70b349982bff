package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ADY0404/ArtisanConnect-sub002/internal/metrics"
)

// Handler is the chat protocol state machine. Each connection moves
// UNAUTHENTICATED -> AUTHENTICATED and may then enter rooms; all mutable state
// lives in the injected Registry and Rooms, both scoped to this process.
// Presence and room membership are therefore only accurate within one
// instance; horizontal scaling needs a shared registry and is out of scope
// here.
type Handler struct {
	registry  *Registry
	rooms     *Rooms
	messages  MessageStore
	pending   PendingQueue
	presence  PresenceStore
	directory ParticipantDirectory
	publisher Publisher // nil when the event bus is disabled
	log       *zap.SugaredLogger
}

func NewHandler(
	registry *Registry,
	rooms *Rooms,
	messages MessageStore,
	pending PendingQueue,
	presence PresenceStore,
	directory ParticipantDirectory,
	publisher Publisher,
	log *zap.SugaredLogger,
) *Handler {
	return &Handler{
		registry:  registry,
		rooms:     rooms,
		messages:  messages,
		pending:   pending,
		presence:  presence,
		directory: directory,
		publisher: publisher,
		log:       log,
	}
}

// Authenticate handles user:join. Re-authenticating an already-registered
// connection refreshes its identity. Every successful authentication drains
// the user's pending deliveries across all bookings, so messages queued while
// they were offline arrive before any further interaction.
func (h *Handler) Authenticate(ctx context.Context, sess Session, p AuthPayload) {
	id := Identity{
		UserID:      strings.TrimSpace(p.UserID),
		DisplayName: strings.TrimSpace(p.Name),
		Role:        ParseRole(p.Role),
	}
	if id.UserID == "" {
		id.UserID = strings.TrimSpace(p.Email)
	}
	if !id.Valid() {
		h.emitError(sess, "authentication requires a userId or email")
		return
	}

	_, refreshed := h.registry.IdentityOf(sess.ID())
	h.registry.Register(sess, id)
	if !refreshed {
		metrics.ActiveConnections.Inc()
	}

	if err := h.presence.SetOnline(ctx, id.UserID, id.Role); err != nil {
		h.log.Warnw("presence update failed", "userId", id.UserID, "error", err)
	}

	sess.Emit(EventAuthenticated, AuthenticatedPayload{
		UserID:    id.UserID,
		Role:      id.Role,
		Timestamp: time.Now().UTC(),
	})
	h.broadcastCount()

	items, err := h.pending.Undelivered(ctx, id.UserID)
	if err != nil {
		h.log.Warnw("pending lookup failed", "userId", id.UserID, "error", err)
		return
	}
	h.deliverPending(ctx, id.UserID, items)
}

// JoinRoom handles booking:join. The joiner gets the room snapshot, existing
// members get a join notification, and any pending deliveries queued for this
// exact booking are drained. Both this drain and the authenticate-time drain
// must run: a user may authenticate long before any booking context exists.
func (h *Handler) JoinRoom(ctx context.Context, sess Session, p JoinPayload) {
	id, ok := h.requireIdentity(sess)
	if !ok {
		return
	}
	if p.BookingID == "" {
		h.emitError(sess, "bookingId is required")
		return
	}

	member := RoomMember{UserID: id.UserID, UserName: id.DisplayName, UserRole: id.Role}
	snap := h.rooms.Join(p.BookingID, sess.ID(), member)

	sess.Emit(EventRoomJoined, RoomJoinedPayload{
		BookingID:   p.BookingID,
		RoomName:    roomName(p.BookingID),
		MemberCount: snap.MemberCount,
		Members:     snap.Members,
	})
	sess.Emit(EventRoomMembers, RoomMembersPayload{
		BookingID: p.BookingID,
		Members:   snap.Members,
	})
	h.broadcastToRoomExcept(p.BookingID, sess.ID(), EventUserJoined, MembershipChangePayload{
		UserID:    id.UserID,
		UserName:  id.DisplayName,
		UserRole:  id.Role,
		Timestamp: time.Now().UTC(),
	})

	items, err := h.pending.UndeliveredForBooking(ctx, p.BookingID, id.UserID)
	if err != nil {
		h.log.Warnw("pending lookup failed", "bookingId", p.BookingID, "userId", id.UserID, "error", err)
		return
	}
	h.deliverPending(ctx, id.UserID, items)
}

// SendMessage handles chat:send_message. Room membership is not required:
// a sender who never joined the live room is still treated as a room
// participant for fan-out purposes. Fan-out to connected members happens
// before persistence so a slow store never stalls live chat.
func (h *Handler) SendMessage(ctx context.Context, sess Session, p SendPayload) {
	id, ok := h.requireIdentity(sess)
	if !ok {
		return
	}
	body := strings.TrimSpace(p.Message)
	if body == "" {
		h.emitError(sess, "message cannot be empty")
		return
	}
	if p.BookingID == "" {
		h.emitError(sess, "bookingId is required")
		return
	}
	msgType := p.MessageType
	if msgType == "" {
		msgType = MessageTypeText
	}

	now := time.Now().UTC()
	msg := &Message{
		MessageID:      uuid.NewString(),
		BookingID:      p.BookingID,
		SenderID:       id.UserID,
		SenderName:     id.DisplayName,
		SenderRole:     id.Role,
		Body:           body,
		MessageType:    msgType,
		Timestamp:      now,
		ReadBy:         []Receipt{{UserID: id.UserID, ReadAt: now}},
		DeliveryStatus: DeliverySent,
	}

	conns := h.rooms.ConnsOf(p.BookingID)
	if len(conns) > 0 {
		msg.DeliveryStatus = DeliveryDelivered
		senderInRoom := false
		for _, connID := range conns {
			if connID == sess.ID() {
				senderInRoom = true
			}
			if s, ok := h.registry.Session(connID); ok {
				s.Emit(EventNewMessage, msg)
			}
		}
		if !senderInRoom {
			sess.Emit(EventNewMessage, msg)
		}
	}

	h.persistMessage(ctx, msg)
	h.queueOffline(ctx, msg)

	sess.Emit(EventMessageSent, MessageSentPayload{
		MessageID:      msg.MessageID,
		Timestamp:      msg.Timestamp,
		DeliveryStatus: msg.DeliveryStatus,
	})
	metrics.MessagesSent.Inc()

	if h.publisher != nil {
		if err := h.publisher.MessageSent(ctx, msg); err != nil {
			h.log.Warnw("event bus publish failed", "messageId", msg.MessageID, "error", err)
		}
	}
}

// Typing relays chat:typing_start / chat:typing_stop to the other room
// members. Signals from connections that are not authenticated room members
// are dropped without an error event. There is no server-side expiry timer;
// recipients age the indicator out themselves.
func (h *Handler) Typing(sess Session, p TypingPayload, isTyping bool) {
	id, ok := h.registry.IdentityOf(sess.ID())
	if !ok {
		return
	}
	if !h.rooms.IsMember(p.BookingID, sess.ID()) {
		return
	}
	h.broadcastToRoomExcept(p.BookingID, sess.ID(), EventUserTyping, UserTypingPayload{
		UserID:    id.UserID,
		UserName:  id.DisplayName,
		UserRole:  id.Role,
		IsTyping:  isTyping,
		Timestamp: time.Now().UTC(),
	})
}

// MarkRead handles chat:mark_read. The receipt append is idempotent at the
// store layer; the read event always goes to the other room members.
func (h *Handler) MarkRead(ctx context.Context, sess Session, p MarkReadPayload) {
	id, ok := h.requireIdentity(sess)
	if !ok {
		return
	}
	if p.MessageID == "" {
		h.emitError(sess, "messageId is required")
		return
	}
	now := time.Now().UTC()
	if err := h.messages.AppendReadReceipt(ctx, p.MessageID, Receipt{UserID: id.UserID, ReadAt: now}); err != nil {
		h.log.Warnw("read receipt persist failed", "messageId", p.MessageID, "userId", id.UserID, "error", err)
	}
	h.broadcastToRoomExcept(p.BookingID, sess.ID(), EventMessageRead, MessageReadPayload{
		MessageID: p.MessageID,
		ReadBy:    id.UserID,
		UserName:  id.DisplayName,
		UserRole:  id.Role,
		Timestamp: now,
	})
}

// RoomStatus answers room:status for any connection, authenticated or not.
func (h *Handler) RoomStatus(sess Session, p StatusPayload) {
	members := h.rooms.MembersOf(p.BookingID)
	sess.Emit(EventRoomStatusResponse, RoomStatusResponsePayload{
		BookingID:   p.BookingID,
		RoomName:    roomName(p.BookingID),
		IsJoined:    h.rooms.IsMember(p.BookingID, sess.ID()),
		MemberCount: len(members),
		Members:     members,
	})
}

// Ping answers the protocol-level heartbeat.
func (h *Handler) Ping(sess Session) {
	sess.Emit(EventPong, PongPayload{Timestamp: time.Now().UTC()})
}

// Disconnect runs the teardown cascade for a closed transport, clean or not:
// presence offline, leave all rooms (with member-left notifications and empty
// room cleanup), unregister, connection count broadcast. After it returns the
// connection id is absent from every room and from the registry.
func (h *Handler) Disconnect(ctx context.Context, sess Session) {
	id, authed := h.registry.IdentityOf(sess.ID())
	if authed {
		if err := h.presence.SetOffline(ctx, id.UserID); err != nil {
			h.log.Warnw("presence update failed", "userId", id.UserID, "error", err)
		}
	}

	left := h.rooms.Leave(sess.ID())
	if authed {
		notice := MembershipChangePayload{
			UserID:    id.UserID,
			UserName:  id.DisplayName,
			UserRole:  id.Role,
			Timestamp: time.Now().UTC(),
		}
		for _, bookingID := range left {
			h.broadcastToRoomExcept(bookingID, sess.ID(), EventUserLeft, notice)
		}
	}

	h.registry.Unregister(sess.ID())
	if authed {
		metrics.ActiveConnections.Dec()
		h.broadcastCount()
	}
}

// deliverPending pushes undelivered queue entries to the user's live
// sessions, oldest first. The delivered flag is flipped through the store's
// conditional update before pushing, so when the authenticate-time and
// join-time drains race on the same record only one of them emits it.
func (h *Handler) deliverPending(ctx context.Context, userID string, items []*PendingDelivery) {
	for _, pd := range items {
		now := time.Now().UTC()
		won, err := h.pending.MarkDelivered(ctx, pd.PendingID, now)
		if err != nil {
			h.log.Warnw("pending flag update failed", "pendingId", pd.PendingID, "error", err)
			continue
		}
		if !won {
			continue
		}
		sessions := h.registry.SessionsFor(userID)
		if len(sessions) == 0 {
			h.log.Warnw("recipient disconnected before redelivery push", "pendingId", pd.PendingID, "userId", userID)
			continue
		}
		for _, s := range sessions {
			s.Emit(EventNewMessage, pd.Message)
			s.Emit(EventOfflineMessageDelivered, OfflineDeliveredPayload{Message: pd.Message, DeliveredAt: now})
		}
		metrics.MessagesRedelivered.Inc()

		if pd.Message != nil {
			for _, s := range h.registry.SessionsFor(pd.Message.SenderID) {
				s.Emit(EventMessageDelivered, MessageDeliveredPayload{
					MessageID:   pd.Message.MessageID,
					DeliveredTo: userID,
					DeliveredAt: now,
				})
			}
		}
	}
}

// queueOffline creates pending deliveries for every conversation participant
// who is not online right now. The participant set is the union of current
// live room members and the booking's canonical participants, because the
// conversation's true membership is broader than whoever has the chat window
// open.
func (h *Handler) queueOffline(ctx context.Context, msg *Message) {
	participants := make(map[string]struct{})
	for _, m := range h.rooms.MembersOf(msg.BookingID) {
		participants[m.UserID] = struct{}{}
	}
	canonical, err := h.directory.Participants(ctx, msg.BookingID)
	if err != nil {
		h.log.Warnw("participant lookup failed", "bookingId", msg.BookingID, "error", err)
	}
	for _, p := range canonical {
		participants[p] = struct{}{}
	}

	for userID := range participants {
		if userID == "" || h.registry.IsOnline(userID) {
			continue
		}
		pd := &PendingDelivery{
			PendingID:   uuid.NewString(),
			BookingID:   msg.BookingID,
			RecipientID: userID,
			Message:     msg,
			CreatedAt:   time.Now().UTC(),
		}
		if err := h.pending.Enqueue(ctx, pd); err != nil {
			h.log.Warnw("pending enqueue failed", "bookingId", msg.BookingID, "recipientId", userID, "error", err)
		}
	}
}

// persistMessage is the single call site for best-effort message durability.
// Availability wins over durability for live chat: a store outage is counted
// and logged, and delivery continues on in-memory state.
func (h *Handler) persistMessage(ctx context.Context, m *Message) {
	if err := h.messages.Insert(ctx, m); err != nil {
		metrics.PersistFailures.Inc()
		h.log.Warnw("message persist failed, delivering from memory only",
			"messageId", m.MessageID, "bookingId", m.BookingID, "error", err)
	}
}

func (h *Handler) requireIdentity(sess Session) (Identity, bool) {
	id, ok := h.registry.IdentityOf(sess.ID())
	if !ok {
		h.emitError(sess, "authentication required")
		return Identity{}, false
	}
	return id, true
}

func (h *Handler) broadcastToRoomExcept(bookingID, exceptConnID, event string, payload any) {
	for _, connID := range h.rooms.ConnsOf(bookingID) {
		if connID == exceptConnID {
			continue
		}
		if s, ok := h.registry.Session(connID); ok {
			s.Emit(event, payload)
		}
	}
}

func (h *Handler) broadcastCount() {
	h.registry.Broadcast(EventConnectionCount, ConnectionCountPayload{
		Total:     h.registry.CountAll(),
		Timestamp: time.Now().UTC(),
	})
}

func (h *Handler) emitError(sess Session, message string) {
	sess.Emit(EventError, ErrorPayload{Message: message})
}

func roomName(bookingID string) string {
	return "booking_" + bookingID
}
