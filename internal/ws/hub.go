package ws

import (
	"sync"
)

// Hub tracks open sockets per topic and per user.
type Hub struct {
	rooms map[string]map[*Client]struct{}
	users map[string]int
	mu    sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
		users: make(map[string]int),
	}
}

// Add registers a client under its topic.
func (h *Hub) Add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	topic := client.info.Topic
	if _, ok := h.rooms[topic]; !ok {
		h.rooms[topic] = make(map[*Client]struct{})
	}
	if _, dup := h.rooms[topic][client]; dup {
		return
	}
	h.rooms[topic][client] = struct{}{}
	h.users[client.info.UserID]++
}

// Remove forgets a client. Removing twice is a no-op.
func (h *Hub) Remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	topic := client.info.Topic
	conns, ok := h.rooms[topic]
	if !ok {
		return
	}
	if _, ok := conns[client]; !ok {
		return
	}
	delete(conns, client)
	if len(conns) == 0 {
		delete(h.rooms, topic)
	}
	if h.users[client.info.UserID]--; h.users[client.info.UserID] <= 0 {
		delete(h.users, client.info.UserID)
	}
}

// UserConnections returns how many sockets a user has open across topics.
func (h *Hub) UserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.users[userID]
}

// Stats returns the number of open sockets per topic.
func (h *Hub) Stats() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, len(h.rooms))
	for topic, conns := range h.rooms {
		out[topic] = len(conns)
	}
	return out
}
