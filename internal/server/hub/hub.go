// Package hub tracks which websocket sessions joined which conversation
// room and fans frames out to them.
package hub

import "sync"

// Subscriber is one connected session. Enqueue must not block; it reports
// whether the frame was accepted (a slow consumer may drop).
type Subscriber interface {
	SocketID() string
	Enqueue(frame []byte) bool
}

type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[Subscriber]struct{}
	sessions map[Subscriber]struct{}
}

func New() *Hub {
	return &Hub{
		rooms:    make(map[string]map[Subscriber]struct{}),
		sessions: make(map[Subscriber]struct{}),
	}
}

func (h *Hub) Register(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s] = struct{}{}
}

// Unregister drops the session and every room membership it holds.
func (h *Hub) Unregister(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s)
	for room, members := range h.rooms {
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) Join(room string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[Subscriber]struct{})
	}
	h.rooms[room][s] = struct{}{}
}

func (h *Hub) Leave(room string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// RoomSize is the number of sessions currently joined to room. The
// delivery heuristic keys off it.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Broadcast sends frame to every member of room except the excluded
// session (pass nil to reach everyone in the room).
func (h *Hub) Broadcast(room string, frame []byte, except Subscriber) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.rooms[room] {
		if s == except {
			continue
		}
		s.Enqueue(frame)
	}
}

// BroadcastAll sends frame to every connected session, room or not.
func (h *Hub) BroadcastAll(frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		s.Enqueue(frame)
	}
}

func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
