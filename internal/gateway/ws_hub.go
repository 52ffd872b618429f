package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
)

// ChangeFeed is the source of portfolio change payloads for the hub.
type ChangeFeed interface {
	LastSnapshot(ctx context.Context, userID uuid.UUID) ([]byte, error)
	Changes(ctx context.Context, userID uuid.UUID) (<-chan []byte, error)
}

type subscription struct {
	client   *Client
	userID   uuid.UUID
	snapshot []byte
}

type delivery struct {
	userID uuid.UUID
	data   []byte
}

type envelope struct {
	Type   string          `json:"type"`
	UserID string          `json:"user_id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Hub fans portfolio changes out to websocket clients subscribed by user
// id. One feed subscription is held per user while any client listens.
type Hub struct {
	clients     map[*Client]bool
	subs        map[uuid.UUID]map[*Client]bool
	feedCancels map[uuid.UUID]context.CancelFunc

	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscription
	unsubscribe chan subscription
	broadcast   chan delivery
	// done is closed when Run returns.
	done chan struct{}

	feed   ChangeFeed
	logger *slog.Logger
}

func NewHub(feed ChangeFeed, logger *slog.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		subs:        make(map[uuid.UUID]map[*Client]bool),
		feedCancels: make(map[uuid.UUID]context.CancelFunc),
		register:    make(chan *Client, 64),
		unregister:  make(chan *Client, 64),
		subscribe:   make(chan subscription, 64),
		unsubscribe: make(chan subscription, 64),
		broadcast:   make(chan delivery, 256),
		done:        make(chan struct{}),
		feed:        feed,
		logger:      logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, cancel := range h.feedCancels {
				cancel()
			}
			return
		case client := <-h.register:
			if !client.gone {
				h.clients[client] = true
			}
		case client := <-h.unregister:
			// register, subscribe and unregister arrive on separate
			// channels, so a client may be seen here first.
			if !client.gone {
				client.gone = true
				delete(h.clients, client)
				for userID := range h.subs {
					h.drop(userID, client)
				}
				close(client.send)
			}
		case sub := <-h.subscribe:
			if sub.client.gone {
				continue
			}
			h.clients[sub.client] = true
			if sub.snapshot != nil {
				h.deliver(sub.client, envelope{Type: "snapshot", UserID: sub.userID.String(), Data: sub.snapshot})
			}
			if _, ok := h.subs[sub.userID]; !ok {
				h.subs[sub.userID] = make(map[*Client]bool)
				subCtx, cancel := context.WithCancel(ctx)
				h.feedCancels[sub.userID] = cancel
				go h.pump(subCtx, sub.userID)
			}
			h.subs[sub.userID][sub.client] = true
		case sub := <-h.unsubscribe:
			h.drop(sub.userID, sub.client)
		case d := <-h.broadcast:
			for client := range h.subs[d.userID] {
				h.deliver(client, envelope{Type: "change", UserID: d.userID.String(), Data: d.data})
			}
		}
	}
}

// enqueue hands v to Run. It reports false once Run has returned, so
// callers never block on a stopped hub.
func enqueue[T any](h *Hub, ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-h.done:
		return false
	}
}

// drop removes client from userID's subscribers and releases the feed
// subscription once nobody is left.
func (h *Hub) drop(userID uuid.UUID, client *Client) {
	clients, ok := h.subs[userID]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) > 0 {
		return
	}
	if cancel, ok := h.feedCancels[userID]; ok {
		cancel()
		delete(h.feedCancels, userID)
	}
	delete(h.subs, userID)
}

func (h *Hub) pump(ctx context.Context, userID uuid.UUID) {
	ch, err := h.feed.Changes(ctx, userID)
	if err != nil {
		h.logger.Error("portfolio feed subscribe failed", "user_id", userID, "err", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			if !json.Valid(data) {
				h.logger.Warn("dropping malformed portfolio change", "user_id", userID)
				continue
			}
			select {
			case h.broadcast <- delivery{userID: userID, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// deliver never blocks the hub; slow clients miss messages.
func (h *Hub) deliver(client *Client, msg envelope) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
		h.logger.Warn("websocket client too slow, dropping message", "user_id", msg.UserID)
	}
}
