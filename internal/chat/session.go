package chat

// Session is the transport-facing side of one live connection. The ws package
// implements it over a websocket; tests implement it with an in-memory sink.
// Emit must never block the caller: slow consumers are the transport's
// problem, not the protocol handler's.
type Session interface {
	ID() string
	Emit(event string, payload any)
}
