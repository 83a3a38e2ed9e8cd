package backend

import (
	"log/slog"
	"sync"

	"github.com/gofiber/websocket/v2"

	"chatsync/internal/models"
)

// connEntry is one live WebSocket connection. The write mutex serializes
// writes; the fiber websocket conn is not safe for concurrent writers.
type connEntry struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	userID  string
	name    string
}

func (e *connEntry) write(env models.Envelope) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.conn.WriteJSON(env)
}

// Hub tracks connections and their room membership. Rooms mirror
// conversation IDs; membership is per connection and does not survive a
// reconnect, which clients compensate for by re-joining.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*connEntry // room -> connID -> entry
	conns map[string]*connEntry            // connID -> entry
	log   *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		rooms: make(map[string]map[string]*connEntry),
		conns: make(map[string]*connEntry),
		log:   log,
	}
}

func (h *Hub) Register(connID, userID, name string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[connID] = &connEntry{conn: conn, userID: userID, name: name}
}

// Unregister drops the connection and removes it from every room.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, conns := range h.rooms {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.conns, connID)
}

func (h *Hub) Join(room, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.conns[connID]
	if !ok {
		return
	}
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[string]*connEntry)
	}
	h.rooms[room][connID] = entry
}

func (h *Hub) Leave(room, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[room]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Broadcast writes an envelope to every connection in a room, optionally
// excluding one connection (typically the sender).
func (h *Hub) Broadcast(room string, env models.Envelope, excludeConnID string) {
	h.mu.RLock()
	entries := make([]*connEntry, 0, len(h.rooms[room]))
	for id, e := range h.rooms[room] {
		if id == excludeConnID {
			continue
		}
		entries = append(entries, e)
	}
	h.mu.RUnlock()

	for _, e := range entries {
		if err := e.write(env); err != nil {
			h.log.Debug("broadcast write failed", "room", room, "err", err)
		}
	}
}

// SendToUser writes an envelope to every connection a user holds; used to
// notify participants who are online but not in the room.
func (h *Hub) SendToUser(userID string, env models.Envelope) {
	h.mu.RLock()
	var entries []*connEntry
	for _, e := range h.conns {
		if e.userID == userID {
			entries = append(entries, e)
		}
	}
	h.mu.RUnlock()

	for _, e := range entries {
		if err := e.write(env); err != nil {
			h.log.Debug("user write failed", "user", userID, "err", err)
		}
	}
}

// SendToConn writes an envelope to one specific connection; used for acks.
func (h *Hub) SendToConn(connID string, env models.Envelope) {
	h.mu.RLock()
	e, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if err := e.write(env); err != nil {
		h.log.Debug("ack write failed", "conn", connID, "err", err)
	}
}

// IsUserInRoom reports whether any of a user's connections joined the room.
func (h *Hub) IsUserInRoom(userID, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, e := range h.rooms[room] {
		if e.userID == userID {
			return true
		}
	}
	return false
}

// IsUserOnline reports whether the user holds any connection at all.
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, e := range h.conns {
		if e.userID == userID {
			return true
		}
	}
	return false
}
