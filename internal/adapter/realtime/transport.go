package realtime

import (
	"context"
	"errors"

	"github.com/panashe-dev/kombi-go/internal/domain/models"
)

var (
	ErrNotConnected = errors.New("realtime transport is not connected")
)

// Handler receives events delivered on a channel. Handlers run on the
// transport's read goroutine and must not block.
type Handler func(channel string, e models.Event)

// Transport is the pub/sub backend behind the Router. Implementations:
// websocket gateway (default), Redis pub/sub, RabbitMQ topic exchange.
type Transport interface {
	Connect(ctx context.Context) error

	// Subscribe registers the single delivery handler for a channel.
	// The Router owns fan-out to individual subscription owners.
	Subscribe(ctx context.Context, channel string, h Handler) error
	Unsubscribe(ctx context.Context, channel string) error

	Publish(ctx context.Context, channel string, e models.Event) error

	Close(ctx context.Context) error
}
