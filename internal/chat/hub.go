package chat

import (
	"context"
	"encoding/json"
	"log/slog"

	"go-smarttalk/internal/feed"
)

// Hub fans live feed events out to every connected websocket client. Only
// the Run goroutine touches the client set.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte  // From feed -> Clients
	Register   chan *Client // New client joins
	Unregister chan *Client // Client leaves
	events     feed.Subscriber
	metrics    *Metrics
	done       chan struct{}
}

func NewHub(events feed.Subscriber, metrics *Metrics) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 64),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		events:     events,
		metrics:    metrics,
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
				h.metrics.clientLeft()
			}
			return

		case client := <-h.Register:
			h.clients[client] = true
			h.metrics.clientJoined()

		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.metrics.clientLeft()
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					// Slow consumer: drop it, it will re-seed on reconnect.
					close(client.Send)
					delete(h.clients, client)
					h.metrics.clientLeft()
				}
			}
		}
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

// SubscribeToFeed subscribes before returning, then forwards events
// published by any instance to local clients until ctx ends.
func (h *Hub) SubscribeToFeed(ctx context.Context) error {
	ch, err := h.events.Subscribe(ctx)
	if err != nil {
		return err
	}
	go h.pump(ctx, ch)
	return nil
}

func (h *Hub) pump(ctx context.Context, ch <-chan feed.Event) {
	for ev := range ch {
		payload, err := json.Marshal(ev)
		if err != nil {
			slog.Error("encode live event", "id", ev.ID, "err", err)
			h.metrics.feedEvent("deliver", "error")
			continue
		}
		h.metrics.feedEvent("deliver", "ok")
		select {
		case h.broadcast <- payload:
		case <-h.done:
			return
		case <-ctx.Done():
			return
		}
	}
	slog.Warn("live feed subscription closed")
}
