package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Inbound is a frame received from a client.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EventHandler handles the events a client sends. It runs on the client's
// read goroutine, so events from one session are handled in order.
type EventHandler interface {
	HandleEvent(ctx context.Context, c *Client, in Inbound)
}

// Client is one websocket session of an authenticated user.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	username string

	// Buffered channel of outbound messages. Closed by the hub.
	send chan []byte

	// Rooms joined by this client. Owned by the hub goroutine.
	rooms map[string]bool
}

func newClient(hub *Hub, conn *websocket.Conn, username string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		username: username,
		send:     make(chan []byte, 256),
		rooms:    make(map[string]bool),
	}
}

func (c *Client) Username() string { return c.username }

// readPump pumps messages from the websocket connection to the handler.
// Leaving it unregisters the client, which removes it from every room
// before the next hub request is served.
func (c *Client) readPump(ctx context.Context, handler EventHandler) {
	defer func() {
		submit(c.hub, c.hub.unregister, c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read", "user", c.username, "err", err)
			}
			return
		}
		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil || in.Event == "" {
			c.hub.Reply(c, "error", map[string]any{"success": false, "message": "malformed event"})
			continue
		}
		handler.HandleEvent(ctx, c, in)
	}
}

// writePump pumps messages from the hub to the websocket connection.
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
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// ServeWs upgrades the request and registers a session for username.
func ServeWs(hub *Hub, handler EventHandler, w http.ResponseWriter, r *http.Request, username string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade", "err", err)
		return
	}
	client := newClient(hub, conn, username)
	if !submit(hub, hub.register, client) {
		conn.Close()
		return
	}
	slog.Debug("websocket connected", "user", username)

	// The request context ends when the handler returns, so events run on a
	// context detached from it.
	ctx := context.WithoutCancel(r.Context())
	go client.writePump()
	go client.readPump(ctx, handler)
}
