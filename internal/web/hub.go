package web

import (
	"sync"

	"github.com/codefionn/appforge/internal/logger"
)

// Hub tracks the websocket clients of every project
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*Client]struct{})}
}

// Register adds a client to its project
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.projectID]
	if set == nil {
		set = make(map[*Client]struct{})
		h.clients[c.projectID] = set
	}
	set[c] = struct{}{}
	logger.Debug("web: client %s registered for project %s", c.ID, c.projectID)
}

// Unregister removes a client
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.projectID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.projectID)
	}
	logger.Debug("web: client %s unregistered", c.ID)
}

// CloseProject disconnects every client of a project
func (h *Hub) CloseProject(projectID string) {
	h.mu.Lock()
	set := h.clients[projectID]
	delete(h.clients, projectID)
	h.mu.Unlock()

	for c := range set {
		c.Close()
	}
}

// CloseAll disconnects every client
func (h *Hub) CloseAll() {
	h.mu.Lock()
	all := h.clients
	h.clients = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, set := range all {
		for c := range set {
			c.Close()
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// BusyCount returns the number of clients with a turn in flight
func (h *Hub) BusyCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		for c := range set {
			if c.Busy() {
				n++
			}
		}
	}
	return n
}
