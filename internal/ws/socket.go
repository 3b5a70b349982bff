package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ADY0404/ArtisanConnect-sub002/internal/chat"
)

// Envelope is the wire frame: a named event plus a JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Options struct {
	PingInterval   time.Duration
	WriteDeadline  time.Duration
	MaxMessageSize int64
}

// Server owns the websocket endpoint: it decodes inbound envelopes, routes
// them to the protocol handler, and runs the per-connection write pump and
// heartbeat.
type Server struct {
	handler *chat.Handler
	opts    Options
	log     *zap.SugaredLogger
}

func NewServer(handler *chat.Handler, opts Options, log *zap.SugaredLogger) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteDeadline <= 0 {
		opts.WriteDeadline = 10 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 * 1024
	}
	return &Server{handler: handler, opts: opts, log: log}
}

// Handle returns the connection handler to mount behind the fiber websocket
// middleware.
func (s *Server) Handle() func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		sess := newSession(conn)
		go s.writePump(sess)
		s.readLoop(sess)

		// transport gone, clean or not: run the full teardown cascade
		s.handler.Disconnect(context.Background(), sess)
		sess.close()
		_ = conn.Close()
	}
}

func (s *Server) readLoop(sess *session) {
	conn := sess.conn
	pongWait := 2 * s.opts.PingInterval
	conn.SetReadLimit(s.opts.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			sess.Emit(chat.EventError, chat.ErrorPayload{Message: "malformed frame"})
			continue
		}
		s.dispatch(context.Background(), sess, env)
	}
}

func (s *Server) dispatch(ctx context.Context, sess *session, env Envelope) {
	switch env.Event {
	case chat.EventUserJoin:
		var p chat.AuthPayload
		if !s.decode(sess, env, &p) {
			return
		}
		s.handler.Authenticate(ctx, sess, p)
	case chat.EventBookingJoin:
		var p chat.JoinPayload
		if !s.decode(sess, env, &p) {
			return
		}
		s.handler.JoinRoom(ctx, sess, p)
	case chat.EventSendMessage:
		var p chat.SendPayload
		if !s.decode(sess, env, &p) {
			return
		}
		s.handler.SendMessage(ctx, sess, p)
	case chat.EventTypingStart:
		var p chat.TypingPayload
		if !s.decode(sess, env, &p) {
			return
		}
		s.handler.Typing(sess, p, true)
	case chat.EventTypingStop:
		var p chat.TypingPayload
		if !s.decode(sess, env, &p) {
			return
		}
		s.handler.Typing(sess, p, false)
	case chat.EventMarkRead:
		var p chat.MarkReadPayload
		if !s.decode(sess, env, &p) {
			return
		}
		s.handler.MarkRead(ctx, sess, p)
	case chat.EventRoomStatus:
		var p chat.StatusPayload
		if !s.decode(sess, env, &p) {
			return
		}
		s.handler.RoomStatus(sess, p)
	case chat.EventPing:
		s.handler.Ping(sess)
	default:
		s.log.Debugw("unknown event", "event", env.Event, "connId", sess.ID())
	}
}

func (s *Server) decode(sess *session, env Envelope, v any) bool {
	if len(env.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		sess.Emit(chat.EventError, chat.ErrorPayload{Message: "malformed payload", Details: env.Event})
		return false
	}
	return true
}

func (s *Server) writePump(sess *session) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = sess.conn.Close()
	}()
	for {
		select {
		case b, ok := <-sess.send:
			if !ok {
				_ = sess.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
			_ = sess.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteDeadline))
			if err := sess.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteDeadline))
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}

// session adapts one websocket connection to chat.Session.
type session struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newSession(conn *websocket.Conn) *session {
	return &session{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 256),
	}
}

func (s *session) ID() string { return s.id }

// Emit queues an event for the write pump. A full buffer drops the frame
// rather than blocking the protocol handler on a slow client. Emit on a
// closed session is a no-op: a broadcast may race connection teardown.
func (s *session) Emit(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	b, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- b:
	default:
	}
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}
