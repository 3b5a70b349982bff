package chat

import (
	"sync"
	"time"
)

type client struct {
	session     Session
	identity    Identity
	connectedAt time.Time
}

// Registry maps live connections to authenticated identities. It is an
// explicitly constructed dependency of the protocol handler, scoped to one
// process: in a multi-instance deployment each instance only sees its own
// connections.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*client)}
}

// Register binds a session to an identity. Re-registering the same connection
// overwrites its identity (session refresh).
func (r *Registry) Register(sess Session, id Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clients[sess.ID()]; ok {
		existing.identity = id
		existing.session = sess
		return
	}
	r.clients[sess.ID()] = &client{session: sess, identity: id, connectedAt: time.Now()}
}

// Unregister removes a connection. Unknown ids are a no-op.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connID)
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		if c.identity.UserID == userID {
			return true
		}
	}
	return false
}

func (r *Registry) CountAll() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// IdentityOf returns the identity bound to a connection, if any.
func (r *Registry) IdentityOf(connID string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	if !ok {
		return Identity{}, false
	}
	return c.identity, true
}

// Session returns the live session for a connection id.
func (r *Registry) Session(connID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	if !ok {
		return nil, false
	}
	return c.session, true
}

// SessionsFor returns every live session authenticated as userID. A user may
// hold several connections (multiple tabs/devices).
func (r *Registry) SessionsFor(userID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Session
	for _, c := range r.clients {
		if c.identity.UserID == userID {
			out = append(out, c.session)
		}
	}
	return out
}

// Broadcast emits an event to every registered connection.
func (r *Registry) Broadcast(event string, payload any) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		c.session.Emit(event, payload)
	}
}
