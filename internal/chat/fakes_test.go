package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type emitted struct {
	event   string
	payload any
}

// fakeSession captures emitted events for assertions.
type fakeSession struct {
	id string

	mu     sync.Mutex
	events []emitted
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id}
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Emit(event string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, emitted{event: event, payload: payload})
}

func (s *fakeSession) named(event string) []emitted {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []emitted
	for _, e := range s.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (s *fakeSession) count(event string) int {
	return len(s.named(event))
}

func (s *fakeSession) last(event string) (any, bool) {
	all := s.named(event)
	if len(all) == 0 {
		return nil, false
	}
	return all[len(all)-1].payload, true
}

func (s *fakeSession) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

var errStoreDown = errors.New("store down")

type memMessages struct {
	mu         sync.Mutex
	msgs       map[string]*Message
	failInsert bool
}

func newMemMessages() *memMessages {
	return &memMessages{msgs: make(map[string]*Message)}
}

func (m *memMessages) Insert(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsert {
		return errStoreDown
	}
	cp := *msg
	m.msgs[msg.MessageID] = &cp
	return nil
}

func (m *memMessages) AppendReadReceipt(_ context.Context, messageID string, r Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[messageID]
	if !ok {
		return nil
	}
	for _, existing := range msg.ReadBy {
		if existing.UserID == r.UserID {
			return nil
		}
	}
	msg.ReadBy = append(msg.ReadBy, r)
	msg.IsRead = true
	return nil
}

func (m *memMessages) Recent(_ context.Context, bookingID string, limit int64) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Message
	for _, msg := range m.msgs {
		if msg.BookingID == bookingID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	}
	return out, nil
}

func (m *memMessages) get(messageID string) (*Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[messageID]
	return msg, ok
}

type memPending struct {
	mu    sync.Mutex
	items []*PendingDelivery
}

func newMemPending() *memPending { return &memPending{} }

func (q *memPending) Enqueue(_ context.Context, p *PendingDelivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := *p
	q.items = append(q.items, &cp)
	return nil
}

func (q *memPending) Undelivered(_ context.Context, userID string) ([]*PendingDelivery, error) {
	return q.filter(func(p *PendingDelivery) bool {
		return p.RecipientID == userID && !p.Delivered
	}), nil
}

func (q *memPending) UndeliveredForBooking(_ context.Context, bookingID, userID string) ([]*PendingDelivery, error) {
	return q.filter(func(p *PendingDelivery) bool {
		return p.BookingID == bookingID && p.RecipientID == userID && !p.Delivered
	}), nil
}

func (q *memPending) MarkDelivered(_ context.Context, pendingID string, at time.Time) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.items {
		if p.PendingID != pendingID {
			continue
		}
		if p.Delivered {
			return false, nil
		}
		p.Delivered = true
		t := at
		p.DeliveredAt = &t
		return true, nil
	}
	return false, nil
}

func (q *memPending) filter(keep func(*PendingDelivery) bool) []*PendingDelivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*PendingDelivery
	for _, p := range q.items {
		if keep(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (q *memPending) all() []*PendingDelivery {
	return q.filter(func(*PendingDelivery) bool { return true })
}

func (q *memPending) forRecipient(userID string) []*PendingDelivery {
	return q.filter(func(p *PendingDelivery) bool { return p.RecipientID == userID })
}

type memPresence struct {
	mu     sync.Mutex
	online map[string]bool
}

func newMemPresence() *memPresence {
	return &memPresence{online: make(map[string]bool)}
}

func (p *memPresence) SetOnline(_ context.Context, userID string, _ Role) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = true
	return nil
}

func (p *memPresence) SetOffline(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = false
	return nil
}

func (p *memPresence) isOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID]
}

// staticDirectory returns fixed canonical participants per booking.
type staticDirectory struct {
	participants map[string][]string
	err          error
}

func (d *staticDirectory) Participants(_ context.Context, bookingID string) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.participants[bookingID], nil
}
