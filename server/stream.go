package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// EventMessage is one event on the stream.
type EventMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// SubscribeMessage filters a subscriber's feed. An empty session list
// subscribes to every session.
type SubscribeMessage struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Sessions []string `json:"sessions,omitempty"`
}

type subscriber struct {
	conn    *websocket.Conn
	send    chan []byte
	writeMu sync.Mutex

	mu       sync.RWMutex
	sessions map[string]struct{} // empty means all sessions

	ctx    context.Context
	cancel context.CancelFunc
}

func (s *subscriber) wants(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.sessions) == 0 {
		return true
	}
	if sessionID == "" {
		return false
	}
	_, ok := s.sessions[sessionID]
	return ok
}

func (s *subscriber) update(msg SubscribeMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, id := range msg.Sessions {
			s.sessions[id] = struct{}{}
		}
	case "unsubscribe":
		if len(msg.Sessions) == 0 {
			s.sessions = make(map[string]struct{})
			return
		}
		for _, id := range msg.Sessions {
			delete(s.sessions, id)
		}
	}
}

// Stream fans session lifecycle events out to WebSocket subscribers.
// Slow subscribers drop events rather than stall the publisher.
type Stream struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	closed      bool
}

func newStream(log *slog.Logger) *Stream {
	return &Stream{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Publish sends an event to every subscriber interested in the session.
func (st *Stream) Publish(eventType, sessionID string, data any) {
	msg := EventMessage{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		st.log.Warn("event marshal", "type", eventType, "error", err)
		return
	}

	st.mu.RLock()
	defer st.mu.RUnlock()
	for sub := range st.subscribers {
		if !sub.wants(sessionID) {
			continue
		}
		select {
		case sub.send <- payload:
		default:
			// Backpressure: drop rather than block the publisher.
			st.log.Debug("subscriber lagging, event dropped", "type", eventType)
		}
	}
}

// SubscriberCount reports the number of connected subscribers.
func (st *Stream) SubscriberCount() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.subscribers)
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects.
func (st *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st.mu.RLock()
	closed := st.closed
	st.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := st.upgrader.Upgrade(w, r, nil)
	if err != nil {
		st.log.Warn("websocket upgrade", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscriber{
		conn:     conn,
		send:     make(chan []byte, 100),
		sessions: make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	st.mu.Lock()
	st.subscribers[sub] = struct{}{}
	st.mu.Unlock()

	go st.writePump(sub)
	st.readPump(sub)

	st.mu.Lock()
	delete(st.subscribers, sub)
	st.mu.Unlock()
	cancel()
	conn.Close()
}

func (st *Stream) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-sub.ctx.Done():
			return
		case payload := <-sub.send:
			sub.writeMu.Lock()
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := sub.conn.WriteMessage(websocket.TextMessage, payload)
			sub.writeMu.Unlock()
			if err != nil {
				sub.cancel()
				return
			}
		case <-ticker.C:
			sub.writeMu.Lock()
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := sub.conn.WriteMessage(websocket.PingMessage, nil)
			sub.writeMu.Unlock()
			if err != nil {
				sub.cancel()
				return
			}
		}
	}
}

func (st *Stream) readPump(sub *subscriber) {
	sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg SubscribeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			st.log.Debug("bad subscribe message", "error", err)
			continue
		}
		sub.update(msg)
	}
}

// Shutdown disconnects every subscriber.
func (st *Stream) Shutdown() {
	st.mu.Lock()
	st.closed = true
	subs := make([]*subscriber, 0, len(st.subscribers))
	for sub := range st.subscribers {
		subs = append(subs, sub)
	}
	st.subscribers = make(map[*subscriber]struct{})
	st.mu.Unlock()

	for _, sub := range subs {
		sub.writeMu.Lock()
		sub.conn.SetWriteDeadline(time.Now().Add(time.Second))
		sub.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
		sub.writeMu.Unlock()
		sub.cancel()
		sub.conn.Close()
	}
}
