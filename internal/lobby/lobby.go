// Package lobby relays player presence and position updates between everyone
// connected to the trading lobby. The hub holds no game state beyond the last
// known position per connection.
package lobby

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the wire format for lobby events.
type Message struct {
	Type     string  `json:"type"` // "join", "leave", "pos"
	PlayerID string  `json:"id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

type wsClient struct {
	conn     *websocket.Conn
	playerID string
	x, y     float64
	mu       sync.Mutex // serializes writes to conn
}

func (c *wsClient) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks connected lobby clients and broadcasts their movement.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*wsClient]bool
}

// NewHub creates an empty lobby hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, clients: make(map[*wsClient]bool)}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP lets the hub be mounted directly as an http.Handler.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleWS(w, r)
}

// HandleWS upgrades the request and runs the connection until it closes.
// The player identifier comes from the pid query parameter.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	playerID := r.URL.Query().Get("pid")
	if playerID == "" {
		playerID = "player_" + conn.RemoteAddr().String()
	}

	client := &wsClient{conn: conn, playerID: playerID, x: 400, y: 300}
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	h.logger.Info("player joined lobby", "player_id", playerID)
	h.broadcast(client, Message{Type: "join", PlayerID: playerID, X: client.x, Y: client.y})
	h.sendRoster(client)

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		conn.Close()
		h.logger.Info("player left lobby", "player_id", playerID)
		h.broadcast(client, Message{Type: "leave", PlayerID: playerID})
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "pos" {
			continue
		}

		client.mu.Lock()
		client.x, client.y = msg.X, msg.Y
		client.mu.Unlock()

		msg.PlayerID = playerID
		h.broadcast(client, msg)
	}
}

// sendRoster tells a newly joined client where everyone already is.
func (h *Hub) sendRoster(to *wsClient) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c == to {
			continue
		}
		c.mu.Lock()
		x, y := c.x, c.y
		c.mu.Unlock()
		data, err := json.Marshal(Message{Type: "join", PlayerID: c.playerID, X: x, Y: y})
		if err != nil {
			continue
		}
		if err := to.send(data); err != nil {
			return
		}
	}
}

// broadcast sends msg to every client except the originator. Dead
// connections are dropped from the hub.
func (h *Hub) broadcast(from *wsClient, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal lobby message", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		if c != from {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	var dead []*wsClient
	for _, c := range targets {
		if err := c.send(data); err != nil {
			dead = append(dead, c)
		}
	}

	if len(dead) > 0 {
		h.mu.Lock()
		for _, c := range dead {
			delete(h.clients, c)
			c.conn.Close()
		}
		h.mu.Unlock()
	}
}
