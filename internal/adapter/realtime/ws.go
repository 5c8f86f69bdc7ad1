package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/panashe-dev/kombi-go/internal/domain/models"
	"github.com/panashe-dev/kombi-go/pkg/logger"
)

// Gateway frame actions.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	framePublish     = "publish"
)

// frame is the wire format spoken with the realtime gateway.
type frame struct {
	Action  string        `json:"action,omitempty"`
	Channel string        `json:"channel"`
	Event   *models.Event `json:"event,omitempty"`
}

// WSTransport speaks to the realtime gateway over a single websocket
// connection. Writes are serialized under a mutex; inbound frames are
// dispatched from one read goroutine.
type WSTransport struct {
	url string
	log logger.Logger

	mu       sync.Mutex // guards conn writes and handler map
	conn     *websocket.Conn
	handlers map[string]Handler

	doneCtx context.Context
	cancel  context.CancelFunc
}

func NewWSTransport(url string, log logger.Logger) *WSTransport {
	return &WSTransport{
		url:      url,
		log:      log,
		handlers: make(map[string]Handler),
	}
}

func (t *WSTransport) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial realtime gateway: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.doneCtx, t.cancel = context.WithCancel(context.Background())
	t.mu.Unlock()

	go t.readLoop()
	return nil
}

func (t *WSTransport) Subscribe(ctx context.Context, channel string, h Handler) error {
	t.mu.Lock()
	t.handlers[channel] = h
	t.mu.Unlock()

	return t.write(frame{Action: frameSubscribe, Channel: channel})
}

func (t *WSTransport) Unsubscribe(ctx context.Context, channel string) error {
	t.mu.Lock()
	delete(t.handlers, channel)
	t.mu.Unlock()

	return t.write(frame{Action: frameUnsubscribe, Channel: channel})
}

func (t *WSTransport) Publish(ctx context.Context, channel string, e models.Event) error {
	return t.write(frame{Action: framePublish, Channel: channel, Event: &e})
}

func (t *WSTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}
	if t.conn != nil {
		err := t.conn.Close()
		t.conn = nil
		return err
	}
	return nil
}

func (t *WSTransport) write(f frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return ErrNotConnected
	}
	t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return t.conn.WriteJSON(f)
}

func (t *WSTransport) readLoop() {
	for {
		t.mu.Lock()
		conn := t.conn
		done := t.doneCtx
		t.mu.Unlock()

		if conn == nil {
			return
		}
		select {
		case <-done.Done():
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if done.Err() == nil {
				t.log.Error(done, "realtime read failed", err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.log.Warn(context.Background(), "dropping malformed realtime frame", "err", err.Error())
			continue
		}
		if f.Event == nil {
			continue
		}

		t.mu.Lock()
		h, ok := t.handlers[f.Channel]
		t.mu.Unlock()
		if ok {
			h(f.Channel, *f.Event)
		}
	}
}
