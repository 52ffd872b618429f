package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const snapshotTimeout = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	// gone is owned by the hub goroutine.
	gone bool
}

type wsMessage struct {
	Action  string   `json:"action"`
	UserIDs []string `json:"user_ids"`
}

func (c *Client) readPump() {
	defer func() {
		enqueue(c.hub, c.hub.unregister, c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(envelope{Type: "error", Error: "invalid message"})
			continue
		}
		for _, raw := range msg.UserIDs {
			userID, err := uuid.Parse(raw)
			if err != nil {
				c.reply(envelope{Type: "error", Error: "invalid user id " + raw})
				continue
			}
			queued := true
			switch msg.Action {
			case "subscribe":
				queued = enqueue(c.hub, c.hub.subscribe, subscription{client: c, userID: userID, snapshot: c.snapshot(userID)})
			case "unsubscribe":
				queued = enqueue(c.hub, c.hub.unsubscribe, subscription{client: c, userID: userID})
			}
			if !queued {
				return
			}
		}
	}
}

// snapshot loads the cached latest change so a new subscriber starts
// from current state. Lookup errors only cost the snapshot.
func (c *Client) snapshot(userID uuid.UUID) []byte {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	data, err := c.hub.feed.LastSnapshot(ctx, userID)
	if err != nil {
		c.logger.Warn("portfolio snapshot lookup failed", "user_id", userID, "err", err)
		return nil
	}
	return data
}

// reply is only called from readPump, before unregister can close send.
func (c *Client) reply(msg envelope) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func ServeWS(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("ws upgrade failed", "err", err)
			return
		}
		client := &Client{
			hub:    hub,
			conn:   conn,
			send:   make(chan []byte, 256),
			logger: logger,
		}
		if !enqueue(hub, hub.register, client) {
			conn.Close()
			return
		}
		go client.writePump()
		go client.readPump()
	}
}
