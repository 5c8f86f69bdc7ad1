package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panashe-dev/kombi-go/internal/domain/models"
	"github.com/panashe-dev/kombi-go/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

const realtimeExchange = "kombi.realtime"

// RabbitTransport maps channels onto routing keys of a topic exchange
// (colons become dots: trip:42:events -> trip.42.events).
type RabbitTransport struct {
	dsn string
	log logger.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	consumers map[string]string // channel name -> queue name
}

func NewRabbitTransport(dsn string, log logger.Logger) *RabbitTransport {
	return &RabbitTransport{
		dsn:       dsn,
		log:       log,
		consumers: make(map[string]string),
	}
}

func (t *RabbitTransport) Connect(ctx context.Context) error {
	conn, err := amqp.DialConfig(t.dsn, amqp.Config{
		Heartbeat: 10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		realtimeExchange,
		"topic",
		false, // durable: realtime traffic is ephemeral
		true,  // auto-delete
		false,
		false,
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.channel = channel
	t.mu.Unlock()

	return nil
}

func (t *RabbitTransport) Subscribe(ctx context.Context, channel string, h Handler) error {
	t.mu.Lock()
	ch := t.channel
	t.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}

	// Exclusive auto-deleted queue per subscription
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey(channel), realtimeExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, q.Name, true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}

	t.mu.Lock()
	t.consumers[channel] = q.Name
	t.mu.Unlock()

	go func() {
		for d := range deliveries {
			var e models.Event
			if err := json.Unmarshal(d.Body, &e); err != nil {
				t.log.Warn(context.Background(), "dropping malformed rabbit message",
					"channel", channel,
					"err", err.Error(),
				)
				continue
			}
			h(channel, e)
		}
	}()

	return nil
}

func (t *RabbitTransport) Unsubscribe(ctx context.Context, channel string) error {
	t.mu.Lock()
	ch := t.channel
	queue, ok := t.consumers[channel]
	delete(t.consumers, channel)
	t.mu.Unlock()

	if !ok || ch == nil {
		return nil
	}
	return ch.Cancel(queue, false)
}

func (t *RabbitTransport) Publish(ctx context.Context, channel string, e models.Event) error {
	t.mu.Lock()
	ch := t.channel
	t.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}

	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx, realtimeExchange, routingKey(channel), false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

func (t *RabbitTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	ch := t.channel
	conn := t.conn
	t.channel = nil
	t.conn = nil
	t.mu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil && conn != nil {
			conn.Close()
			return err
		}
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func routingKey(channel string) string {
	return strings.ReplaceAll(channel, ":", ".")
}
