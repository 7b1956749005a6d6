package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/skypro1111/voice-relay/internal/session"
	"github.com/skypro1111/voice-relay/internal/store"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Peers only send control frames.
	maxMessageSize = 4 * 1024

	subscriberBuffer = 64
)

// The default origin check admits requests without an Origin header and
// same-host pages only.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// FeedEvent is one frame of the live feed
type FeedEvent struct {
	Type    string         `json:"type"` // "message" or "session"
	Message *store.Message `json:"message,omitempty"`
	Session *SessionEvent  `json:"session,omitempty"`
	Time    time.Time      `json:"time"`
}

// SessionEvent is the wire form of a recording controller event
type SessionEvent struct {
	Event     string `json:"event"`
	State     string `json:"state"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Feed fans chat messages and recording events out to websocket subscribers.
// A nil Feed drops everything.
type Feed struct {
	logger *slog.Logger

	subscribers map[string]*subscriber
	closed      bool
	mu          sync.Mutex
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewFeed creates an empty feed
func NewFeed(logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		logger:      logger,
		subscribers: make(map[string]*subscriber),
	}
}

// PublishMessage sends a history record to every subscriber
func (f *Feed) PublishMessage(m store.Message) {
	f.publish(FeedEvent{Type: "message", Message: &m, Time: time.Now().UTC()})
}

// PublishSession sends a recording controller event to every subscriber
func (f *Feed) PublishSession(ev session.Event) {
	se := &SessionEvent{
		Event:     ev.Type.String(),
		State:     ev.State.String(),
		SessionID: ev.SessionID,
	}
	if ev.Err != nil {
		se.Error = ev.Err.Error()
	}
	f.publish(FeedEvent{Type: "session", Session: se, Time: ev.Time.UTC()})
}

// Subscribers returns the number of connected peers
func (f *Feed) Subscribers() int {
	if f == nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

func (f *Feed) publish(ev FeedEvent) {
	if f == nil {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		f.logger.Error("Failed to encode feed event", "error", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for id, s := range f.subscribers {
		select {
		case s.send <- payload:
		default:
			// Slow peers are disconnected rather than blocking publishers.
			f.logger.Warn("Dropping slow feed subscriber", "subscriber", id)
			delete(f.subscribers, id)
			close(s.send)
		}
	}
}

// ServeHTTP upgrades the request and streams events until the peer leaves.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("Feed upgrade failed", "error", err)
		return
	}

	s := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, subscriberBuffer),
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		_ = conn.Close()
		return
	}
	f.subscribers[s.id] = s
	f.mu.Unlock()

	f.logger.Info("Feed subscriber connected", "subscriber", s.id)

	go f.writePump(s)
	f.readPump(s)
}

// Close disconnects every subscriber
func (f *Feed) Close() {
	if f == nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	for id, s := range f.subscribers {
		delete(f.subscribers, id)
		close(s.send)
	}
}

func (f *Feed) remove(s *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.subscribers[s.id]; ok {
		delete(f.subscribers, s.id)
		close(s.send)
	}
}

// readPump consumes control frames so pongs and close frames are handled.
func (f *Feed) readPump(s *subscriber) {
	defer func() {
		f.remove(s)
		_ = s.conn.Close()
		f.logger.Info("Feed subscriber disconnected", "subscriber", s.id)
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.logger.Debug("Feed read error", "subscriber", s.id, "error", err)
			}
			return
		}
	}
}

func (f *Feed) writePump(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
