package ws

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/cardbridge/internal/hub"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Front-ends only listen; anything they send is read and discarded.
	maxMessageSize = 4 * 1024

	// Send buffer size per client.
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Kiosk front-ends are served from other origins
}

// Handler upgrades HTTP requests to WebSocket subscribers of a hub.
type Handler struct {
	hub    *hub.Hub
	logger *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(h *hub.Hub, logger *zap.Logger) *Handler {
	return &Handler{hub: h, logger: logger}
}

// Client is a WebSocket subscriber.
type Client struct {
	hub    *hub.Hub
	conn   *websocket.Conn
	send   chan hub.Message
	connID string
	logger *zap.Logger

	// Safe close handling - prevents send-on-closed-channel panics
	mu        sync.RWMutex
	closed    atomic.Bool
	closeOnce sync.Once
}

// ServeHTTP handles the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:    h.hub,
		conn:   conn,
		send:   make(chan hub.Message, sendBufferSize),
		connID: uuid.New().String(),
		logger: h.logger,
	}

	h.logger.Info("front-end connected",
		zap.String("connID", client.connID),
		zap.String("remote", r.RemoteAddr),
	)

	go client.writePump()

	// Join queues the current reader status before any broadcast.
	if err := h.hub.Join(client); err != nil {
		h.logger.Debug("hub rejected subscriber",
			zap.String("connID", client.connID),
			zap.Error(err),
		)
		return
	}

	go client.readPump()
}

// ID implements hub.Subscriber.
func (c *Client) ID() string {
	return c.connID
}

// Send implements hub.Subscriber. It never blocks.
func (c *Client) Send(msg hub.Message) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close implements hub.Subscriber. The write pump sends a close frame and
// releases the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed.Store(true)
		close(c.send)
		c.mu.Unlock()
	})
}

// readPump keeps the read side alive for control frames and detects
// disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.Leave(c)
		_ = c.conn.Close()
		c.logger.Info("front-end disconnected", zap.String("connID", c.connID))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
			}
			return
		}
	}
}

// writePump writes messages to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed, send close message
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.Payload); err != nil {
				c.logger.Debug("websocket write error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
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
