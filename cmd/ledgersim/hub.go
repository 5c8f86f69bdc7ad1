package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// gatewayFrame mirrors the frame the client transport sends.
type gatewayFrame struct {
	Action  string          `json:"action,omitempty"`
	Channel string          `json:"channel"`
	Event   json.RawMessage `json:"event,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
	subs map[string]bool
}

func (c *wsClient) send(f gatewayFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(f)
}

// hub fans published frames out to every connection subscribed to the
// channel, the publisher included.
type hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]bool
}

func newHub(log *slog.Logger) *hub {
	return &hub{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]bool),
	}
}

func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err.Error())
		return
	}

	c := &wsClient{conn: conn, subs: make(map[string]bool)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f gatewayFrame
		if err := json.Unmarshal(raw, &f); err != nil || f.Channel == "" {
			continue
		}

		switch f.Action {
		case "subscribe":
			h.mu.Lock()
			c.subs[f.Channel] = true
			h.mu.Unlock()
		case "unsubscribe":
			h.mu.Lock()
			delete(c.subs, f.Channel)
			h.mu.Unlock()
		case "publish":
			h.broadcast(f)
		}
	}
}

func (h *hub) broadcast(f gatewayFrame) {
	out := gatewayFrame{Channel: f.Channel, Event: f.Event}

	h.mu.Lock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		if c.subs[f.Channel] {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.send(out); err != nil {
			h.log.Debug("dropping slow subscriber", "channel", f.Channel)
		}
	}
}
