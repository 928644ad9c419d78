package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 5 * time.Second

// WSMessage is the envelope for messages that are not acquisition events
// (the initial status frame). Events are sent as models.Event, which carries
// its own `type`.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// WSClient wraps a websocket connection with a per-connection write mutex.
// Gorilla WebSocket requires that writes are not concurrent on the same Conn.
type WSClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Send writes v as JSON to this client.
func (c *WSClient) Send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

// WSHub is a broadcast hub for the acquisition event stream.
//
// Broadcast marshals once per message and fans the raw bytes out to each
// client.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

func NewWSHub() *WSHub {
	return &WSHub{clients: make(map[*WSClient]struct{})}
}

// Add registers a connection with the hub and returns the WSClient wrapper.
func (h *WSHub) Add(conn *websocket.Conn) *WSClient {
	c := &WSClient{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// Remove unregisters a client and closes its connection.
func (h *WSHub) Remove(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Len reports the number of connected clients.
func (h *WSHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends v to all connected clients.
//
// Write failures are ignored; the read loop in handleWS notices the
// disconnect and removes the client.
func (h *WSHub) Broadcast(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.mu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		_ = c.conn.WriteMessage(websocket.TextMessage, b)
		c.mu.Unlock()
	}
	return nil
}

// CloseAll sends a close frame to every client and drops them.
func (h *WSHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for c := range h.clients {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.mu.Unlock()
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}
