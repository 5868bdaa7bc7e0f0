package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/scribe/backend/internal/modules/transcription"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 4096
)

// Message represents a WebSocket message
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Recorder receives connection and message counts
type Recorder interface {
	RecordWebSocketConnection(connected bool)
	RecordWebSocketMessage(messageType string)
}

// Client represents a WebSocket client. A client only ever receives events
// for its own user; subscribing to file ids narrows that further.
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	userID        string
	send          chan []byte
	subscriptions map[string]bool
	closed        bool // send is closed; guarded by mu
	mu            sync.RWMutex
}

// Hub manages WebSocket connections
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns
	upgrader   websocket.Upgrader
	recorder   Recorder
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewHub creates a new WebSocket hub. allowedOrigins of ["*"] accepts any origin.
func NewHub(allowedOrigins []string, recorder Recorder, logger *zap.Logger) *Hub {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins["*"] || origins[origin]
			},
		},
		recorder: recorder,
		logger:   logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			if h.recorder != nil {
				h.recorder.RecordWebSocketConnection(true)
			}
			h.logger.Debug("Client connected", zap.String("user_id", client.userID), zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
				if h.recorder != nil {
					h.recorder.RecordWebSocketConnection(false)
				}
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client disconnected", zap.String("user_id", client.userID), zap.Int("total_clients", total))
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleConnection upgrades the request and registers a client for userID
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		userID:        userID,
		send:          make(chan []byte, 64),
		subscriptions: make(map[string]bool),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// Dispatch sends a transcription status event to the owning user's clients
func (h *Hub) Dispatch(event transcription.StatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Message{Type: "transcription:status", Payload: payload})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.userID != event.UserID || !client.wants(event.FileID) {
			continue
		}
		if !client.enqueue(msg) {
			h.logger.Warn("WebSocket client buffer full, dropping event", zap.String("user_id", client.userID))
			continue
		}
		if h.recorder != nil {
			h.recorder.RecordWebSocketMessage("transcription:status")
		}
	}
	return nil
}

// Relay forwards events published on the transcription status channel until ctx ends
func (h *Hub) Relay(ctx context.Context, sub *redis.PubSub) {
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event transcription.StatusEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.logger.Warn("Invalid transcription status event", zap.Error(err))
				continue
			}
			if err := h.Dispatch(event); err != nil {
				h.logger.Warn("Failed to dispatch transcription status", zap.Error(err))
			}
		}
	}
}

func (c *Client) wants(fileID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[fileID]
}

// enqueue queues msg without blocking. It reports false when the buffer is
// full or the client is already closed.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Warn("Invalid WebSocket message", zap.Error(err))
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("WebSocket write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg Message) {
	var payload struct {
		FileID string `json:"fileId"`
	}

	switch msg.Type {
	case "subscribe":
		if err := json.Unmarshal(msg.Payload, &payload); err == nil && payload.FileID != "" {
			c.mu.Lock()
			c.subscriptions[payload.FileID] = true
			c.mu.Unlock()
			c.hub.logger.Debug("Client subscribed to file", zap.String("file_id", payload.FileID))
		}

	case "unsubscribe":
		if err := json.Unmarshal(msg.Payload, &payload); err == nil {
			c.mu.Lock()
			delete(c.subscriptions, payload.FileID)
			c.mu.Unlock()
			c.hub.logger.Debug("Client unsubscribed from file", zap.String("file_id", payload.FileID))
		}

	case "ping":
		response, _ := json.Marshal(Message{Type: "pong"})
		c.enqueue(response)
	}
}
