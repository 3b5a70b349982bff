package chat

import (
	"sync"
	"time"
)

// RoomMember is one connection's identity inside a room. Connection ids never
// leave this package through member payloads.
type RoomMember struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	UserRole Role      `json:"userRole"`
	JoinedAt time.Time `json:"joinedAt"`
}

// RoomSnapshot is what a joiner sees at join time.
type RoomSnapshot struct {
	MemberCount int
	Members     []RoomMember
}

// Rooms tracks which live connections are in which booking conversation.
// Rooms are created implicitly on first join and removed when the last member
// leaves. Like the Registry, it is per-process state.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[string]map[string]RoomMember // bookingID -> connID -> member
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]map[string]RoomMember)}
}

// Join adds a connection to a booking's room and returns the resulting
// snapshot. Rejoining with the same connection id updates the member record
// in place rather than duplicating it.
func (r *Rooms) Join(bookingID, connID string, m RoomMember) RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[bookingID]
	if !ok {
		room = make(map[string]RoomMember)
		r.rooms[bookingID] = room
	}
	if existing, ok := room[connID]; ok {
		m.JoinedAt = existing.JoinedAt
	} else if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}
	room[connID] = m
	return RoomSnapshot{MemberCount: len(room), Members: membersLocked(room)}
}

// Leave removes the connection from every room it is part of and deletes any
// room left empty. It returns the booking ids the connection was removed
// from. A connection is in at most one room in practice, but all rooms are
// scanned so a missed cleanup elsewhere cannot strand a stale entry.
func (r *Rooms) Leave(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var left []string
	for bookingID, room := range r.rooms {
		if _, ok := room[connID]; !ok {
			continue
		}
		delete(room, connID)
		left = append(left, bookingID)
		if len(room) == 0 {
			delete(r.rooms, bookingID)
		}
	}
	return left
}

func (r *Rooms) MembersOf(bookingID string) []RoomMember {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[bookingID]
	if !ok {
		return nil
	}
	return membersLocked(room)
}

// ConnsOf returns the connection ids currently in a room.
func (r *Rooms) ConnsOf(bookingID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[bookingID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(room))
	for connID := range room {
		out = append(out, connID)
	}
	return out
}

func (r *Rooms) IsMember(bookingID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[bookingID]
	if !ok {
		return false
	}
	_, ok = room[connID]
	return ok
}

// Exists reports whether a room entry is present at all, empty or not.
func (r *Rooms) Exists(bookingID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[bookingID]
	return ok
}

func membersLocked(room map[string]RoomMember) []RoomMember {
	out := make([]RoomMember, 0, len(room))
	for _, m := range room {
		out = append(out, m)
	}
	return out
}
