package ws

import "sync"

// Hub is the in-process fan-out registry: docID -> set of connections. Rooms
// hold connections rather than users because one user can have several tabs
// open, and each needs its own copy of every frame. The hub's lock is
// independent of the engine's per-document locks, so connects and
// disconnects never block edits.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Conn]struct{})}
}

func (h *Hub) Join(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[docID] == nil {
		h.rooms[docID] = make(map[*Conn]struct{})
	}
	h.rooms[docID][c] = struct{}{}
}

// Leave removes c from the room and reports how many connections remain on
// the document. After Leave returns no broadcast can reach c, so the caller
// may safely close its send channel.
func (h *Hub) Leave(docID string, c *Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.rooms[docID]
	if !ok {
		return 0
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.rooms, docID)
		return 0
	}
	return len(conns)
}

// BroadcastToOthers fans msg out to every connection on the document except
// sender. Enqueueing happens under the read lock and never blocks (a full
// send queue drops the frame), which is what makes Leave's guarantee hold.
func (h *Hub) BroadcastToOthers(docID string, sender *Conn, msg ServerMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[docID] {
		if c == sender {
			continue
		}
		c.enqueue(msg)
	}
}

// UserConnCount reports how many of the room's connections belong to userID.
func (h *Hub) UserConnCount(docID string, userID uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.rooms[docID] {
		if c.userID == userID {
			n++
		}
	}
	return n
}

// ConnCount reports the number of connections on the document.
func (h *Hub) ConnCount(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[docID])
}
