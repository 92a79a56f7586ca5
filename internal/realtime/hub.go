package realtime

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// Envelope is the JSON frame sent to app sessions.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Hub tracks live app sessions per user and fans messages out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]bool
	logger  logrus.FieldLogger
}

func NewHub(logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		clients: make(map[string]map[*Client]bool),
		logger:  logger.WithField("component", "realtime"),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]bool)
		h.clients[c.userID] = set
	}
	set[c] = true
	h.logger.WithFields(logrus.Fields{"user_id": c.userID, "remote": c.conn.RemoteAddr().String()}).Debug("websocket client registered")
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	set, ok := h.clients[c.userID]
	if !ok || !set[c] {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	h.logger.WithField("user_id", c.userID).Debug("websocket client unregistered")
}

// Online reports whether the user has at least one live session.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Connections returns the number of live sessions.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// SendToUser queues {"type": kind, "payload": payload} on every session of
// userID and returns how many accepted it. Sessions with a full buffer are
// dropped.
func (h *Hub) SendToUser(userID, kind string, payload interface{}) int {
	msg, err := json.Marshal(Envelope{Type: kind, Payload: payload})
	if err != nil {
		h.logger.WithError(err).Error("marshal websocket message")
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for c := range h.clients[userID] {
		select {
		case c.send <- msg:
			delivered++
		default:
			h.logger.WithField("user_id", userID).Warn("websocket send buffer full, removing client")
			h.removeLocked(c)
		}
	}
	return delivered
}

// Close drops every session.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for c := range set {
			h.removeLocked(c)
		}
	}
}
