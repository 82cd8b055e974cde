package relay

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1 << 20, // session snapshots carry whole map descriptors
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// Display clients are served from other origins on the LAN
			return true
		},
	}
}

// Connection pumps frames between one websocket and its hub client
type Connection struct {
	client *Client
	conn   *websocket.Conn
	hub    *Hub
	config ConnectionConfig
}

func newConnection(hub *Hub, client *Client, conn *websocket.Conn, config ConnectionConfig) *Connection {
	return &Connection{client: client, conn: conn, hub: hub, config: config}
}

// writePump drains the client's outbound queue onto the socket. It also
// sends protocol-level pings so the read deadline keeps moving.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.Unregister(c.client)
	}()

	for {
		select {
		case message := <-c.client.Outbound():
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("client_id", c.client.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-c.client.Done():
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("client_id", c.client.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump hands every inbound frame to the hub's dispatch loop
func (c *Connection) readPump() {
	defer func() {
		c.hub.Unregister(c.client)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("client_id", c.client.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		if !c.hub.Submit(c.client, message) {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
}
