package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	h        *Handler
	registry *Registry
	rooms    *Rooms
	messages *memMessages
	pending  *memPending
	presence *memPresence
	dir      *staticDirectory
}

func newFixture() *fixture {
	f := &fixture{
		registry: NewRegistry(),
		rooms:    NewRooms(),
		messages: newMemMessages(),
		pending:  newMemPending(),
		presence: newMemPresence(),
		dir:      &staticDirectory{participants: make(map[string][]string)},
	}
	f.h = NewHandler(f.registry, f.rooms, f.messages, f.pending, f.presence, f.dir, nil, zap.NewNop().Sugar())
	return f
}

func (f *fixture) connect(connID, userID, name, role string) *fakeSession {
	sess := newFakeSession(connID)
	f.h.Authenticate(context.Background(), sess, AuthPayload{UserID: userID, Name: name, Role: role})
	return sess
}

func TestAuthenticate(t *testing.T) {
	f := newFixture()
	sess := f.connect("conn-1", "c@example.com", "Carol", "customer")

	ack, ok := sess.last(EventAuthenticated)
	require.True(t, ok)
	payload := ack.(AuthenticatedPayload)
	assert.Equal(t, "c@example.com", payload.UserID)
	assert.Equal(t, RoleCustomer, payload.Role)

	assert.True(t, f.registry.IsOnline("c@example.com"))
	assert.True(t, f.presence.isOnline("c@example.com"))

	count, ok := sess.last(EventConnectionCount)
	require.True(t, ok)
	assert.Equal(t, 1, count.(ConnectionCountPayload).Total)
}

func TestAuthenticateFallsBackToEmail(t *testing.T) {
	f := newFixture()
	sess := newFakeSession("conn-1")
	f.h.Authenticate(context.Background(), sess, AuthPayload{Email: "p@example.com", Name: "Pat", Role: "provider"})

	ack, ok := sess.last(EventAuthenticated)
	require.True(t, ok)
	assert.Equal(t, "p@example.com", ack.(AuthenticatedPayload).UserID)
}

func TestAuthenticateMalformedIdentity(t *testing.T) {
	f := newFixture()
	sess := newFakeSession("conn-1")
	f.h.Authenticate(context.Background(), sess, AuthPayload{Name: "Nobody"})

	assert.Equal(t, 1, sess.count(EventError))
	assert.Equal(t, 0, sess.count(EventAuthenticated))
	assert.Equal(t, 0, f.registry.CountAll())
}

func TestUnknownRoleStaysUnknown(t *testing.T) {
	f := newFixture()
	sess := f.connect("conn-1", "provider-looking@example.com", "X", "wizard")

	ack, _ := sess.last(EventAuthenticated)
	assert.Equal(t, RoleUnknown, ack.(AuthenticatedPayload).Role)
}

func TestJoinRequiresAuthentication(t *testing.T) {
	f := newFixture()
	sess := newFakeSession("conn-1")
	f.h.JoinRoom(context.Background(), sess, JoinPayload{BookingID: "B1"})

	assert.Equal(t, 1, sess.count(EventError))
	assert.False(t, f.rooms.IsMember("B1", "conn-1"))
}

func TestJoinRoom(t *testing.T) {
	f := newFixture()
	c := f.connect("conn-c", "c@example.com", "Carol", "customer")
	f.h.JoinRoom(context.Background(), c, JoinPayload{BookingID: "B1"})

	p := f.connect("conn-p", "p@example.com", "Pat", "provider")
	f.h.JoinRoom(context.Background(), p, JoinPayload{BookingID: "B1"})

	joined, ok := p.last(EventRoomJoined)
	require.True(t, ok)
	snap := joined.(RoomJoinedPayload)
	assert.Equal(t, "B1", snap.BookingID)
	assert.Equal(t, "booking_B1", snap.RoomName)
	assert.Equal(t, 2, snap.MemberCount)
	assert.Len(t, snap.Members, 2)
	assert.Equal(t, 1, p.count(EventRoomMembers))

	// existing member is told, with identity fields only
	notice, ok := c.last(EventUserJoined)
	require.True(t, ok)
	change := notice.(MembershipChangePayload)
	assert.Equal(t, "p@example.com", change.UserID)
	assert.Equal(t, "Pat", change.UserName)
	assert.Equal(t, RoleProvider, change.UserRole)

	// the joiner does not get its own join notification
	assert.Equal(t, 0, p.count(EventUserJoined))
}

func TestSendMessageDeliveredToRoom(t *testing.T) {
	f := newFixture()
	c := f.connect("conn-c", "c@example.com", "Carol", "customer")
	p := f.connect("conn-p", "p@example.com", "Pat", "provider")
	f.h.JoinRoom(context.Background(), c, JoinPayload{BookingID: "B1"})
	f.h.JoinRoom(context.Background(), p, JoinPayload{BookingID: "B1"})

	f.h.SendMessage(context.Background(), c, SendPayload{BookingID: "B1", Message: "Hello"})

	for _, sess := range []*fakeSession{c, p} {
		got, ok := sess.last(EventNewMessage)
		require.True(t, ok, "session %s missing new_message", sess.ID())
		msg := got.(*Message)
		assert.Equal(t, "Hello", msg.Body)
		assert.Equal(t, "c@example.com", msg.SenderID)
		assert.Equal(t, DeliveryDelivered, msg.DeliveryStatus)
		assert.Equal(t, MessageTypeText, msg.MessageType)
	}

	conf, ok := c.last(EventMessageSent)
	require.True(t, ok)
	assert.Equal(t, DeliveryDelivered, conf.(MessageSentPayload).DeliveryStatus)

	// persisted with the sender's auto receipt
	stored, ok := f.messages.get(conf.(MessageSentPayload).MessageID)
	require.True(t, ok)
	require.Len(t, stored.ReadBy, 1)
	assert.Equal(t, "c@example.com", stored.ReadBy[0].UserID)

	// both participants online, nothing queued
	assert.Empty(t, f.pending.all())
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture()
	c := f.connect("conn-c", "c@example.com", "Carol", "customer")

	f.h.SendMessage(context.Background(), c, SendPayload{BookingID: "B1", Message: "   "})
	assert.Equal(t, 1, c.count(EventError))

	f.h.SendMessage(context.Background(), c, SendPayload{Message: "hi"})
	assert.Equal(t, 2, c.count(EventError))

	assert.Equal(t, 0, c.count(EventMessageSent))
}

func TestSendMessageWithoutJoiningStillFansOut(t *testing.T) {
	f := newFixture()
	c := f.connect("conn-c", "c@example.com", "Carol", "customer")
	p := f.connect("conn-p", "p@example.com", "Pat", "provider")
	f.h.JoinRoom(context.Background(), p, JoinPayload{BookingID: "B1"})

	// sender never joined B1's live room
	f.h.SendMessage(context.Background(), c, SendPayload{BookingID: "B1", Message: "hello from outside"})

	got, ok := p.last(EventNewMessage)
	require.True(t, ok)
	assert.Equal(t, "hello from outside", got.(*Message).Body)

	// sender still gets the echo and the confirmation
	assert.Equal(t, 1, c.count(EventNewMessage))
	conf, _ := c.last(EventMessageSent)
	assert.Equal(t, DeliveryDelivered, conf.(MessageSentPayload).DeliveryStatus)
}

func TestSendMessagePersistFailureStillDelivers(t *testing.T) {
	f := newFixture()
	f.messages.failInsert = true
	c := f.connect("conn-c", "c@example.com", "Carol", "customer")
	p := f.connect("conn-p", "p@example.com", "Pat", "provider")
	f.h.JoinRoom(context.Background(), c, JoinPayload{BookingID: "B1"})
	f.h.JoinRoom(context.Background(), p, JoinPayload{BookingID: "B1"})

	f.h.SendMessage(context.Background(), c, SendPayload{BookingID: "B1", Message: "still here?"})

	assert.Equal(t, 1, p.count(EventNewMessage))
	assert.Equal(t, 1, c.count(EventMessageSent))
	assert.Equal(t, 0, c.count(EventError))
}

func TestOfflineRecipientGetsPendingDelivery(t *testing.T) {
	f := newFixture()
	f.dir.participants["B1"] = []string{"c@example.com", "p@example.com"}

	c := f.connect("conn-c", "c@example.com", "Carol", "customer")
	p := f.connect("conn-p", "p@example.com", "Pat", "provider")
	f.h.JoinRoom(context.Background(), c, JoinPayload{BookingID: "B1"})
	f.h.JoinRoom(context.Background(), p, JoinPayload{BookingID: "B1"})

	f.h.Disconnect(context.Background(), p)
	assert.False(t, f.registry.IsOnline("p@example.com"))

	f.h.SendMessage(context.Background(), c, SendPayload{BookingID: "B1", Message: "Are you there?"})

	queued := f.pending.forRecipient("p@example.com")
	require.Len(t, queued, 1)
	assert.Equal(t, "B1", queued[0].BookingID)
	assert.Equal(t, "Are you there?", queued[0].Message.Body)
	assert.False(t, queued[0].Delivered)

	// provider reconnects on a fresh connection and authenticates
	p2 := f.connect("conn-p2", "p@example.com", "Pat", "provider")

	got := p2.named(EventNewMessage)
	require.Len(t, got, 1)
	assert.Equal(t, queued[0].Message.MessageID, got[0].payload.(*Message).MessageID)
	assert.Equal(t, "Are you there?", got[0].payload.(*Message).Body)
	assert.Equal(t, 1, p2.count(EventOfflineMessageDelivered))

	// the record is flagged, never removed
	after := f.pending.forRecipient("p@example.com")
	require.Len(t, after, 1)
	assert.True(t, after[0].Delivered)
	require.NotNil(t, after[0].DeliveredAt)

	// the online sender is told the queued message landed
	delivered, ok := c.last(EventMessageDelivered)
	require.True(t, ok)
	assert.Equal(t, "p@example.com", delivered.(MessageDeliveredPayload).DeliveredTo)
}

func TestJoinOrderIndependence(t *testing.T) {
	f := newFixture()
	f.dir.participants["B9"] = []string{"c@example.com", "p@example.com"}

	// sender is authenticated but never joins the room; recipient has never
	// been online at all
	c := f.connect("conn-c", "c@example.com", "Carol", "customer")
	f.h.SendMessage(context.Background(), c, SendPayload{BookingID: "B9", Message: "early bird"})

	require.Len(t, f.pending.forRecipient("p@example.com"), 1)

	// recipient authenticates first, then joins: the authenticate-time drain
	// already delivers
	p := f.connect("conn-p", "p@example.com", "Pat", "provider")
	require.Equal(t, 1, p.count(EventNewMessage))

	f.h.JoinRoom(context.Background(), p, JoinPayload{BookingID: "B9"})

	// the join-time drain must not deliver the same record again
	assert.Equal(t, 1, p.count(EventNewMessage))
}

func TestBookingScopedRedeliveryAtJoin(t *testing.T) {
	f := newFixture()
	p := f.connect("conn-p", "p@example.com", "Pat", "provider")

	// queued after the user authenticated, before they opened this booking
	msg := &Message{MessageID: uuid.NewString(), BookingID: "B2", SenderID: "c@example.com", Body: "see you at 9", Timestamp: time.Now().UTC()}
	require.NoError(t, f.pending.Enqueue(context.Background(), &PendingDelivery{
		PendingID:   uuid.NewString(),
		BookingID:   "B2",
		RecipientID: "p@example.com",
		Message:     msg,
		CreatedAt:   time.Now().UTC(),
	}))

	f.h.JoinRoom(context.Background(), p, JoinPayload{BookingID: "B2"})

	got := p.named(EventNewMessage)
	require.Len(t, got, 1)
	assert.Equal(t, msg.MessageID, got[0].payload.(*Message).MessageID)
}

func TestNoDuplicateRedeliveryUnderRace(t *testing.T) {
	f := newFixture()
	p := f.connect("conn-p", "p@example.com", "Pat", "provider")
	p.reset()

	msg := &Message{MessageID: uuid.NewString(), BookingID: "B3", SenderID: "c@example.com", Body: "racy", Timestamp: time.Now().UTC()}
	require.NoError(t, f.pending.Enqueue(context.Background(), &PendingDelivery{
		PendingID:   uuid.NewString(),
		BookingID:   "B3",
		RecipientID: "p@example.com",
		Message:     msg,
		CreatedAt:   time.Now().UTC(),
	}))

	// re-authentication and room join race: both paths drain the queue
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.h.Authenticate(context.Background(), p, AuthPayload{UserID: "p@example.com", Name: "Pat", Role: "provider"})
	}()
	go func() {
		defer wg.Done()
		f.h.JoinRoom(context.Background(), p, JoinPayload{BookingID: "B3"})
	}()
	wg.Wait()

	assert.Equal(t, 1, p.count(EventNewMessage))

	items := f.pending.forRecipient("p@example.com")
	require.Len(t, items, 1)
	assert.True(t, items[0].Delivered)
}

func TestDisconnectCleanup(t *testing.T) {
	f := newFixture()
	c := f.connect("conn-c", "c@example.com", "Carol", "customer")
	p := f.connect("conn-p", "p@example.com", "Pat", "provider")
	f.h.JoinRoom(context.Background(), c, JoinPayload{BookingID: "B1"})
	f.h.JoinRoom(context.Background(), p, JoinPayload{BookingID: "B1"})

	f.h.Disconnect(context.Background(), p)

	// membership invariant: the connection is gone from every room at once
	assert.False(t, f.rooms.IsMember("B1", "conn-p"))
	for _, m := range f.rooms.MembersOf("B1") {
		assert.NotEqual(t, "p@example.com", m.UserID)
	}
	assert.False(t, f.registry.IsOnline("p@example.com"))
	assert.False(t, f.presence.isOnline("p@example.com"))

	left, ok := c.last(EventUserLeft)
	require.True(t, ok)
	assert.Equal(t, "p@example.com", left.(MembershipChangePayload).UserID)

	count, ok := c.last(EventConnectionCount)
	require.True(t, ok)
	assert.Equal(t, 1, count.(ConnectionCountPayload).Total)
}

func TestRoomRemovedWhenLastMemberLeaves(t *testing.T) {
	f := newFixture()
	c := f.connect("conn-c", "c@example.com", "Carol", "customer")
	f.h.JoinRoom(context.Background(), c, JoinPayload{BookingID: "B1"})
	require.True(t, f.rooms.Exists("B1"))

	f.h.Disconnect(context.Background(), c)

	assert.False(t, f.rooms.Exists("B1"))
	assert.Nil(t, f.rooms.MembersOf("B1"))
}

func TestTypingIndicators(t *testing.T) {
	f := newFixture()
	c := f.connect("conn-c", "c@example.com", "Carol", "customer")
	p := f.connect("conn-p", "p@example.com", "Pat", "provider")
	f.h.JoinRoom(context.Background(), c, JoinPayload{BookingID: "B1"})
	f.h.JoinRoom(context.Background(), p, JoinPayload{BookingID: "B1"})

	f.h.Typing(c, TypingPayload{BookingID: "B1"}, true)
	got, ok := p.last(EventUserTyping)
	require.True(t, ok)
	typing := got.(UserTypingPayload)
	assert.True(t, typing.IsTyping)
	assert.Equal(t, "c@example.com", typing.UserID)

	f.h.Typing(c, TypingPayload{BookingID: "B1"}, false)
	got, _ = p.last(EventUserTyping)
	assert.False(t, got.(UserTypingPayload).IsTyping)

	// never echoed to the typist
	assert.Equal(t, 0, c.count(EventUserTyping))
}

func TestTypingIgnoredOutsideRoom(t *testing.T) {
	f := newFixture()
	c := f.connect("conn-c", "c@example.com", "Carol", "customer")
	p := f.connect("conn-p", "p@example.com", "Pat", "provider")
	f.h.JoinRoom(context.Background(), p, JoinPayload{BookingID: "B1"})

	f.h.Typing(c, TypingPayload{BookingID: "B1"}, true)

	assert.Equal(t, 0, p.count(EventUserTyping))
	assert.Equal(t, 0, c.count(EventError))
}

func TestMarkRead(t *testing.T) {
	f := newFixture()
	c := f.connect("conn-c", "c@example.com", "Carol", "customer")
	p := f.connect("conn-p", "p@example.com", "Pat", "provider")
	f.h.JoinRoom(context.Background(), c, JoinPayload{BookingID: "B1"})
	f.h.JoinRoom(context.Background(), p, JoinPayload{BookingID: "B1"})

	f.h.SendMessage(context.Background(), c, SendPayload{BookingID: "B1", Message: "read me"})
	conf, _ := c.last(EventMessageSent)
	messageID := conf.(MessageSentPayload).MessageID

	f.h.MarkRead(context.Background(), p, MarkReadPayload{MessageID: messageID, BookingID: "B1"})
	f.h.MarkRead(context.Background(), p, MarkReadPayload{MessageID: messageID, BookingID: "B1"})

	stored, ok := f.messages.get(messageID)
	require.True(t, ok)
	require.Len(t, stored.ReadBy, 2) // sender auto receipt + one reader
	assert.True(t, stored.IsRead)

	reads := c.named(EventMessageRead)
	require.NotEmpty(t, reads)
	read := reads[0].payload.(MessageReadPayload)
	assert.Equal(t, messageID, read.MessageID)
	assert.Equal(t, "p@example.com", read.ReadBy)

	// the reader does not receive its own read event
	assert.Equal(t, 0, p.count(EventMessageRead))
}

func TestRoomStatus(t *testing.T) {
	f := newFixture()
	c := f.connect("conn-c", "c@example.com", "Carol", "customer")
	f.h.JoinRoom(context.Background(), c, JoinPayload{BookingID: "B1"})

	outsider := newFakeSession("conn-x")
	f.h.RoomStatus(outsider, StatusPayload{BookingID: "B1"})

	got, ok := outsider.last(EventRoomStatusResponse)
	require.True(t, ok)
	status := got.(RoomStatusResponsePayload)
	assert.False(t, status.IsJoined)
	assert.Equal(t, 1, status.MemberCount)

	f.h.RoomStatus(c, StatusPayload{BookingID: "B1"})
	got, _ = c.last(EventRoomStatusResponse)
	assert.True(t, got.(RoomStatusResponsePayload).IsJoined)
}

func TestPing(t *testing.T) {
	f := newFixture()
	sess := newFakeSession("conn-1")
	f.h.Ping(sess)
	assert.Equal(t, 1, sess.count(EventPong))
}

func TestConnectionCountBroadcasts(t *testing.T) {
	f := newFixture()
	a := f.connect("conn-a", "a@example.com", "A", "customer")
	b := f.connect("conn-b", "b@example.com", "B", "provider")

	// the first connection saw both register broadcasts
	counts := a.named(EventConnectionCount)
	require.Len(t, counts, 2)
	assert.Equal(t, 1, counts[0].payload.(ConnectionCountPayload).Total)
	assert.Equal(t, 2, counts[1].payload.(ConnectionCountPayload).Total)

	f.h.Disconnect(context.Background(), b)
	last, _ := a.last(EventConnectionCount)
	assert.Equal(t, 1, last.(ConnectionCountPayload).Total)
}
