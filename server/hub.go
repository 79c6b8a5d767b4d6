package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const sendBuffer = 64

// Session is one websocket connection of an authenticated user.
type Session struct {
	UserID string
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
	closed chan struct{}
}

func newSession(userID string, conn *websocket.Conn) *Session {
	return &Session{
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
}

// enqueue queues frame for the writer. A session that cannot keep up is
// closed rather than allowed to stall the sender.
func (sess *Session) enqueue(frame []byte) bool {
	select {
	case <-sess.closed:
		return false
	default:
	}
	select {
	case sess.send <- frame:
		return true
	default:
		sess.close()
		return false
	}
}

func (sess *Session) close() {
	sess.once.Do(func() { close(sess.closed) })
}

// writePump owns all writes to the connection.
func (sess *Session) writePump(writeTimeout, pingInterval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		sess.conn.Close()
	}()

	for {
		select {
		case frame := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sess.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug("write failed", zap.String("user_id", sess.UserID), zap.Error(err))
				sess.close()
				return
			}
		case <-ticker.C:
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				sess.close()
				return
			}
		case <-sess.closed:
			sess.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

// Hub tracks open sessions by user.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[string]map[*Session]struct{})}
}

func (h *Hub) add(sess *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[sess.UserID]
	if !ok {
		set = make(map[*Session]struct{})
		h.sessions[sess.UserID] = set
	}
	set[sess] = struct{}{}
}

func (h *Hub) remove(sess *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.sessions[sess.UserID]; ok {
		delete(set, sess)
		if len(set) == 0 {
			delete(h.sessions, sess.UserID)
		}
	}
}

// SendTo delivers frame to every session of userID.
func (h *Hub) SendTo(userID string, frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for sess := range h.sessions[userID] {
		if sess.enqueue(frame) {
			n++
		}
	}
	return n
}

// Broadcast delivers frame to every session.
func (h *Hub) Broadcast(frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.sessions {
		for sess := range set {
			sess.enqueue(frame)
		}
	}
}

// CloseAll ends every session.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.sessions {
		for sess := range set {
			sess.close()
		}
	}
}

// Stats returns the number of open connections and the connected user ids.
func (h *Hub) Stats() (int, []string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := 0
	users := make([]string, 0, len(h.sessions))
	for id, set := range h.sessions {
		conns += len(set)
		users = append(users, id)
	}
	return conns, users
}
