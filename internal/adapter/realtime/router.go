package realtime

import (
	"context"
	"sync"

	"github.com/panashe-dev/kombi-go/internal/domain/models"
	"github.com/panashe-dev/kombi-go/internal/domain/types"
	"github.com/panashe-dev/kombi-go/pkg/logger"
	wrap "github.com/panashe-dev/kombi-go/pkg/logger/wrapper"
	"github.com/panashe-dev/kombi-go/pkg/metrics"
)

/*
Router translates role/context into channel names and manages the subscribe
lifecycle on top of a Transport.

The component that opened a subscription exclusively owns its teardown; the
router never unsubscribes on behalf of an unrelated owner. Subscriptions are
idempotent per owner: re-subscribing an active descriptor is a no-op, and
unsubscribing an inactive one never fails.
*/
type Router struct {
	transport Transport
	log       logger.Logger

	mu       sync.Mutex
	handlers map[string]map[string]Handler // channel -> owner -> handler

	presenceCity  string
	presenceIdent models.PresenceEvent
	presenceOn    bool
}

func NewRouter(transport Transport, log logger.Logger) *Router {
	return &Router{
		transport: transport,
		log:       log,
		handlers:  make(map[string]map[string]Handler),
	}
}

// Connect establishes the underlying transport connection.
func (r *Router) Connect(ctx context.Context) error {
	if err := r.transport.Connect(ctx); err != nil {
		return wrap.Error(ctx, err)
	}
	metrics.RealtimeConnected.Set(1)
	r.log.Info(wrap.WithAction(ctx, types.ActionRealtimeConnected), "realtime transport connected")
	return nil
}

// Subscribe attaches owner's handler to the channel. The transport is only
// subscribed when the first owner arrives.
func (r *Router) Subscribe(ctx context.Context, owner, channel string, h Handler) error {
	ctx = wrap.WithChannel(wrap.WithAction(ctx, types.ActionChannelSubscribe), channel)

	r.mu.Lock()
	owners, ok := r.handlers[channel]
	if ok {
		if _, active := owners[owner]; active {
			r.mu.Unlock()
			return nil // already subscribed, no-op
		}
		owners[owner] = h
		r.mu.Unlock()
		metrics.RealtimeSubscriptions.Inc()
		return nil
	}

	r.handlers[channel] = map[string]Handler{owner: h}
	r.mu.Unlock()

	if err := r.transport.Subscribe(ctx, channel, r.dispatch); err != nil {
		r.mu.Lock()
		delete(r.handlers, channel)
		r.mu.Unlock()
		return wrap.Error(ctx, err)
	}

	metrics.RealtimeSubscriptions.Inc()
	r.log.Debug(ctx, "subscribed to channel", "owner", owner)
	return nil
}

// Unsubscribe detaches owner's handler. The transport subscription is torn
// down only when the last owner leaves. Unsubscribing an inactive descriptor
// is a no-op.
func (r *Router) Unsubscribe(ctx context.Context, owner, channel string) error {
	ctx = wrap.WithChannel(wrap.WithAction(ctx, types.ActionChannelUnsubscribe), channel)

	r.mu.Lock()
	owners, ok := r.handlers[channel]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if _, active := owners[owner]; !active {
		r.mu.Unlock()
		return nil
	}
	delete(owners, owner)
	last := len(owners) == 0
	if last {
		delete(r.handlers, channel)
	}
	r.mu.Unlock()

	metrics.RealtimeSubscriptions.Dec()

	if last {
		if err := r.transport.Unsubscribe(ctx, channel); err != nil {
			return wrap.Error(ctx, err)
		}
	}

	r.log.Debug(ctx, "unsubscribed from channel", "owner", owner)
	return nil
}

// TeardownOwner releases every subscription held by owner. Used on role
// switch, trip teardown and logout.
func (r *Router) TeardownOwner(ctx context.Context, owner string) {
	r.mu.Lock()
	channels := make([]string, 0)
	for channel, owners := range r.handlers {
		if _, ok := owners[owner]; ok {
			channels = append(channels, channel)
		}
	}
	r.mu.Unlock()

	for _, channel := range channels {
		_ = r.Unsubscribe(ctx, owner, channel)
	}
}

// Publish is fire-and-forget from the router's perspective; the caller owns
// any optimistic local update and its reconciliation.
func (r *Router) Publish(ctx context.Context, channel, kind string, data any) error {
	e, err := models.NewEvent(kind, data)
	if err != nil {
		return wrap.Error(ctx, err)
	}

	err = r.transport.Publish(ctx, channel, e)
	metrics.RecordPublish(ChannelKind(channel), err)
	if err != nil {
		return wrap.Error(wrap.WithChannel(ctx, channel), err)
	}
	return nil
}

// EnterPresence declares the driver online in a city, broadcasting identity
// and last known coordinate.
func (r *Router) EnterPresence(ctx context.Context, city string, ident models.PresenceEvent) error {
	ctx = wrap.WithAction(ctx, types.ActionPresenceEnter)

	if err := r.Publish(ctx, PresenceChannel(city), models.EventPresenceEnter, ident); err != nil {
		return err
	}

	r.mu.Lock()
	r.presenceCity = city
	r.presenceIdent = ident
	r.presenceOn = true
	r.mu.Unlock()

	r.log.Info(ctx, "entered presence", "city", city)
	return nil
}

// ExitPresence removes the driver from the city presence set.
func (r *Router) ExitPresence(ctx context.Context) error {
	r.mu.Lock()
	if !r.presenceOn {
		r.mu.Unlock()
		return nil
	}
	city := r.presenceCity
	ident := r.presenceIdent
	r.presenceOn = false
	r.mu.Unlock()

	ctx = wrap.WithAction(ctx, types.ActionPresenceExit)
	if err := r.Publish(ctx, PresenceChannel(city), models.EventPresenceExit, ident); err != nil {
		return err
	}

	r.log.Info(ctx, "exited presence", "city", city)
	return nil
}

// Close exits presence first, then tears down the transport. Presence exit
// must reach the wire before the connection goes away.
func (r *Router) Close(ctx context.Context) error {
	_ = r.ExitPresence(ctx)

	r.mu.Lock()
	r.handlers = make(map[string]map[string]Handler)
	r.mu.Unlock()

	err := r.transport.Close(ctx)
	metrics.RealtimeConnected.Set(0)
	r.log.Info(wrap.WithAction(ctx, types.ActionRealtimeDisconnected), "realtime transport closed")
	return err
}

// dispatch fans one delivery out to every owner's handler.
func (r *Router) dispatch(channel string, e models.Event) {
	r.mu.Lock()
	owners := r.handlers[channel]
	hs := make([]Handler, 0, len(owners))
	for _, h := range owners {
		hs = append(hs, h)
	}
	r.mu.Unlock()

	metrics.RealtimeMessagesReceived.WithLabelValues(ChannelKind(channel)).Inc()
	for _, h := range hs {
		h(channel, e)
	}
}
