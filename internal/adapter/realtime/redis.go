package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/panashe-dev/kombi-go/internal/domain/models"
	"github.com/panashe-dev/kombi-go/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RedisTransport maps channels directly onto Redis pub/sub channels.
type RedisTransport struct {
	client *redis.Client
	log    logger.Logger

	mu       sync.Mutex
	pubsub   *redis.PubSub
	handlers map[string]Handler
}

func NewRedisTransport(addr, password string, log logger.Logger) *RedisTransport {
	return &RedisTransport{
		client:   redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		log:      log,
		handlers: make(map[string]Handler),
	}
}

func (t *RedisTransport) Connect(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}

	t.mu.Lock()
	// Subscribe with no channels yet; channels are added dynamically.
	t.pubsub = t.client.Subscribe(ctx)
	t.mu.Unlock()

	go t.readLoop()
	return nil
}

func (t *RedisTransport) Subscribe(ctx context.Context, channel string, h Handler) error {
	t.mu.Lock()
	pubsub := t.pubsub
	t.handlers[channel] = h
	t.mu.Unlock()

	if pubsub == nil {
		return ErrNotConnected
	}
	return pubsub.Subscribe(ctx, channel)
}

func (t *RedisTransport) Unsubscribe(ctx context.Context, channel string) error {
	t.mu.Lock()
	pubsub := t.pubsub
	delete(t.handlers, channel)
	t.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	return pubsub.Unsubscribe(ctx, channel)
}

func (t *RedisTransport) Publish(ctx context.Context, channel string, e models.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return t.client.Publish(ctx, channel, payload).Err()
}

func (t *RedisTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	pubsub := t.pubsub
	t.pubsub = nil
	t.mu.Unlock()

	if pubsub != nil {
		if err := pubsub.Close(); err != nil {
			return err
		}
	}
	return t.client.Close()
}

func (t *RedisTransport) readLoop() {
	t.mu.Lock()
	pubsub := t.pubsub
	t.mu.Unlock()
	if pubsub == nil {
		return
	}

	for msg := range pubsub.Channel() {
		var e models.Event
		if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
			t.log.Warn(context.Background(), "dropping malformed redis message",
				"channel", msg.Channel,
				"err", err.Error(),
			)
			continue
		}

		t.mu.Lock()
		h, ok := t.handlers[msg.Channel]
		t.mu.Unlock()
		if ok {
			h(msg.Channel, e)
		}
	}
}
