package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// DefaultPongWait is how long a silent peer is presumed alive
	DefaultPongWait = 30 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 65536

	// Outbound frames buffered per connection before new ones drop
	sendBufferSize = 256
)

// Client is one live socket. A user may hold several.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	id       string
	send     chan []byte
	pongWait time.Duration
	logger   *slog.Logger

	mu         sync.RWMutex
	authUserID string // from the handshake token, empty when anonymous
	userID     string // from user_add
	username   string
	closed     bool

	// rooms is guarded by hub.mu so it always agrees with the hub's index
	rooms map[string]struct{}
}

// NewClient creates a client with a fresh socket id
func NewClient(hub *Hub, conn *websocket.Conn, pongWait time.Duration, logger *slog.Logger) (*Client, error) {
	id, err := nanoid.New()
	if err != nil {
		return nil, err
	}
	if pongWait <= 0 {
		pongWait = DefaultPongWait
	}
	return &Client{
		hub:      hub,
		conn:     conn,
		id:       id,
		send:     make(chan []byte, sendBufferSize),
		pongWait: pongWait,
		rooms:    make(map[string]struct{}),
		logger:   logger.With("socket_id", id),
	}, nil
}

// ID returns the socket id
func (c *Client) ID() string {
	return c.id
}

// SetAuthUser pins the identity proven by the handshake token
func (c *Client) SetAuthUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authUserID = userID
}

// AuthUserID returns the token identity, empty for anonymous sockets
func (c *Client) AuthUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authUserID
}

func (c *Client) setUser(userID, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.username = username
}

// UserID returns the user registered through user_add
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Username returns the username registered through user_add
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// ReadPump pumps messages from the WebSocket connection to the hub. A missed
// heartbeat surfaces as a read error and takes the regular disconnect path.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					c.logger.Warn("websocket read error", "error", err, "user_id", c.UserID())
				}
				return
			}

			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				c.sendError("invalid_message", "Failed to parse message")
				continue
			}

			c.hub.HandleMessage(ctx, c, &msg)
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection, one
// frame per event.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(c.pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send queues a message for the client. Delivery is fire-and-forget: a full
// buffer or a closed client drops the message.
func (c *Client) Send(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.enqueue(data)
	return nil
}

func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("client send buffer full, dropping message", "user_id", c.userID)
		return false
	}
}

// close stops further sends and lets WritePump finish
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// sendError sends an error frame to the client
func (c *Client) sendError(code, message string) {
	msg, _ := NewMessage(EventError, ErrorPayload{
		Code:    code,
		Message: message,
	})
	_ = c.Send(msg)
}
