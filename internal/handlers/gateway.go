package handlers

import (
	"sync"

	"linguachat-backend/internal/metrics"
	"linguachat-backend/internal/models"

	"github.com/rs/zerolog/log"
)

// wsConn is the write half of a websocket connection. Kept as an
// interface so hub and orchestration tests run against fakes.
type wsConn interface {
	WriteJSON(v interface{}) error
}

// Session is one authenticated connection. Writes are serialized with a
// per-connection mutex; the underlying websocket is not safe for
// concurrent writers.
type Session struct {
	ID       string
	UserID   int
	Username string

	conn wsConn
	mu   sync.Mutex
}

// Send writes one event frame to this connection.
func (s *Session) Send(ev models.ServerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(models.NewFrame(ev))
}

// Hub tracks connections and the multicast group of each room.
// Operations from different connections run concurrently; there is no
// lock held across a room's message pipeline, only around membership of
// these maps.
type Hub struct {
	mu sync.RWMutex
	// roomID -> connID -> session
	rooms map[string]map[string]*Session
	// connID -> session
	conns map[string]*Session
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[string]*Session),
		conns: make(map[string]*Session),
	}
}

// Register attaches an authenticated identity to a new connection.
func (h *Hub) Register(connID string, userID int, username string, conn wsConn) *Session {
	sess := &Session{ID: connID, UserID: userID, Username: username, conn: conn}
	h.mu.Lock()
	h.conns[connID] = sess
	h.mu.Unlock()
	metrics.WsConnections.Inc()
	return sess
}

// Unregister drops the connection and removes it from every room.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return
	}
	delete(h.conns, connID)
	for roomID, conns := range h.rooms {
		if _, ok := conns[connID]; ok {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	metrics.WsConnections.Dec()
}

// Join adds the connection to a room's multicast group.
func (h *Hub) Join(roomID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.conns[connID]
	if !ok {
		return
	}
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]*Session)
	}
	h.rooms[roomID][connID] = sess
}

// Leave removes the connection from a room's multicast group.
func (h *Hub) Leave(roomID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[roomID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Broadcast sends an event to every connection joined to the room.
// Write failures are logged; the failing connection is cleaned up by
// its own read loop.
func (h *Hub) Broadcast(roomID string, ev models.ServerEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sess := range h.rooms[roomID] {
		if err := sess.Send(ev); err != nil {
			log.Warn().Err(err).Str("conn_id", sess.ID).Str("event", ev.EventName()).Msg("broadcast write")
		}
	}
}

// ConnectedUserIDs returns the users currently represented in the
// room's multicast group. The fan-out uses this to find offline
// members.
func (h *Hub) ConnectedUserIDs(roomID string) map[int]struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[int]struct{})
	for _, sess := range h.rooms[roomID] {
		out[sess.UserID] = struct{}{}
	}
	return out
}

// IsUserJoined reports whether any of the user's connections is joined
// to the room.
func (h *Hub) IsUserJoined(roomID string, userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sess := range h.rooms[roomID] {
		if sess.UserID == userID {
			return true
		}
	}
	return false
}
