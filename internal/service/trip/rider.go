package trip

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/panashe-dev/kombi-go/config"
	"github.com/panashe-dev/kombi-go/internal/adapter/ledger"
	"github.com/panashe-dev/kombi-go/internal/adapter/realtime"
	"github.com/panashe-dev/kombi-go/internal/domain/models"
	"github.com/panashe-dev/kombi-go/internal/domain/types"
	"github.com/panashe-dev/kombi-go/pkg/logger"
	wrap "github.com/panashe-dev/kombi-go/pkg/logger/wrapper"
	"github.com/panashe-dev/kombi-go/pkg/metrics"
)

// Identity is the slice of the session manager the trip services need.
type Identity interface {
	CurrentUser() *models.User
}

/*
Rider drives the trip lifecycle from the passenger side: it issues trip
requests through the ledger client, consumes bid/status events from the
channel router, and exposes the current trip view-state to the presentation
layer.

The rider never originates ARRIVING/IN_PROGRESS/COMPLETED transitions; those
are driver-side and arrive here purely as events or poll results.
*/
type Rider struct {
	client   *ledger.Client
	router   *realtime.Router
	identity Identity
	cfg      config.TripConfig
	log      logger.Logger

	mu     sync.Mutex
	active *models.Trip

	poller *Poller

	onUpdate func(*models.Trip)
	onChat   func(models.ChatMessage)
}

func NewRider(client *ledger.Client, router *realtime.Router, identity Identity, cfg config.TripConfig, log logger.Logger) *Rider {
	r := &Rider{
		client:   client,
		router:   router,
		identity: identity,
		cfg:      cfg,
		log:      log,
	}
	r.poller = NewPoller(cfg.PollInterval, r.pollActive)
	return r
}

// OnUpdate registers the view-state callback, invoked whenever the active
// trip changes.
func (r *Rider) OnUpdate(fn func(*models.Trip)) {
	r.mu.Lock()
	r.onUpdate = fn
	r.mu.Unlock()
}

// OnChat registers the chat callback.
func (r *Rider) OnChat(fn func(models.ChatMessage)) {
	r.mu.Lock()
	r.onChat = fn
	r.mu.Unlock()
}

// ActiveTrip returns a copy of the current trip view-state, or nil.
func (r *Rider) ActiveTrip() *models.Trip {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil
	}
	cp := *r.active
	cp.Bids = append([]models.Bid(nil), r.active.Bids...)
	return &cp
}

// RequestTrip creates a trip on the Ledger, begins listening on its event
// channel immediately, broadcasts it to drivers in the city, and starts the
// fallback poll.
func (r *Rider) RequestTrip(ctx context.Context, req models.TripRequest) (*models.Trip, error) {
	ctx = wrap.WithAction(ctx, types.ActionTripRequest)

	r.mu.Lock()
	if r.active != nil && !r.active.Status.Terminal() {
		r.mu.Unlock()
		return nil, types.ErrTripAlreadyActive
	}
	r.mu.Unlock()

	payload, err := r.client.Send(ctx, http.MethodPost, ledger.EndpointTrips, req)
	if err != nil {
		return nil, err
	}

	trip, err := ledger.DecodeAs[models.Trip](payload)
	if err != nil {
		return nil, wrap.Error(ctx, err)
	}
	if trip.Status == types.StatusPending {
		trip.Status = types.StatusBidding
	}

	r.mu.Lock()
	r.active = &trip
	r.mu.Unlock()

	ctx = wrap.WithTripID(ctx, trip.ID)
	if err := r.router.Subscribe(ctx, types.RoleRider.String(), realtime.TripEventsChannel(trip.ID), r.handleTripEvent); err != nil {
		r.log.Warn(ctx, "could not subscribe to trip events, relying on polling", "err", err.Error())
	}
	_ = r.router.Subscribe(ctx, types.RoleRider.String(), realtime.TripChatChannel(trip.ID), r.handleChat)

	// Fire-and-forget broadcast; drivers also discover the trip via the Ledger.
	if err := r.router.Publish(ctx, realtime.PresenceChannel(r.cfg.City), models.EventTripRequested, models.TripBroadcast{Trip: trip}); err != nil {
		r.log.Warn(ctx, "trip broadcast failed", "err", err.Error())
	}

	r.poller.Start()
	metrics.TripsTotal.WithLabelValues(string(trip.Type)).Inc()
	r.log.Info(ctx, "trip requested", "proposed_price", trip.ProposedPrice)

	r.notify()
	return r.ActiveTrip(), nil
}

// AcceptBid accepts a specific driver's bid. On success the trip moves to
// ACCEPTED with the bid's driver committed. A 409 means another acceptance
// won the race; local state is refreshed from the Ledger instead.
func (r *Rider) AcceptBid(ctx context.Context, bidID string) error {
	ctx = wrap.WithAction(ctx, types.ActionBidAccept)

	r.mu.Lock()
	active := r.active
	r.mu.Unlock()

	if active == nil {
		return types.ErrNoActiveTrip
	}
	if active.Status != types.StatusBidding {
		return types.ErrInvalidTransition
	}
	bid := active.FindBid(bidID)
	if bid == nil {
		return types.ErrBidNotFound
	}

	ctx = wrap.WithTripID(ctx, active.ID)
	_, err := r.client.Send(ctx, http.MethodPost, ledger.EndpointTripAccept(active.ID), map[string]string{"bid_id": bidID})
	if err != nil {
		var apiErr *ledger.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
			// First accepted write wins at the Ledger; resync.
			r.pollActive(ctx)
			return types.ErrTripAlreadyTaken
		}
		// Leave status unchanged; the caller may retry.
		return err
	}

	r.mu.Lock()
	if r.active != nil && r.active.ID == active.ID {
		applyStatus(r.active, models.StatusEvent{
			TripID:     active.ID,
			Status:     types.StatusAccepted,
			DriverID:   bid.DriverID,
			FinalPrice: bid.Amount,
		})
		accepted := bidID
		r.active.AcceptedBidID = &accepted
	}
	r.mu.Unlock()

	r.log.Info(ctx, "bid accepted", "bid_id", bidID, "driver_id", bid.DriverID)
	r.notify()
	return nil
}

// Cancel cancels the active trip. Only possible while no driver is committed.
// There is no optimistic local cancellation: if the Ledger call fails the
// trip stays active and the caller is told.
func (r *Rider) Cancel(ctx context.Context) error {
	ctx = wrap.WithAction(ctx, types.ActionTripCancel)

	r.mu.Lock()
	active := r.active
	r.mu.Unlock()

	if active == nil {
		return types.ErrNoActiveTrip
	}
	if active.Status != types.StatusPending && active.Status != types.StatusBidding {
		return types.ErrTripCannotBeCancelled
	}

	ctx = wrap.WithTripID(ctx, active.ID)
	if _, err := r.client.Send(ctx, http.MethodPost, ledger.EndpointTripCancel(active.ID), nil); err != nil {
		return err
	}

	r.mu.Lock()
	if r.active != nil && r.active.ID == active.ID {
		r.active.Status = types.StatusCancelled
	}
	r.mu.Unlock()

	r.releaseTrip(ctx, active.ID)
	r.log.Info(ctx, "trip cancelled")
	r.notify()
	return nil
}

// SubmitReview posts the post-trip rating. Separate from the active-ride
// flow; valid once the trip completed.
func (r *Rider) SubmitReview(ctx context.Context, tripID string, review models.Review) error {
	_, err := r.client.Send(ctx, http.MethodPost, ledger.EndpointTripReview(tripID), review)
	return err
}

// History returns past trips, served from the TTL cache when fresh.
func (r *Rider) History(ctx context.Context) ([]models.Trip, error) {
	payload, err := r.client.CachedGet(ctx, ledger.EndpointTripHistory, r.cfg.PollInterval*5)
	if err != nil {
		return nil, err
	}
	return ledger.DecodeAs[[]models.Trip](payload)
}

// SendChat publishes a message on the trip's chat channel.
func (r *Rider) SendChat(ctx context.Context, text string) error {
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	if active == nil {
		return types.ErrNoActiveTrip
	}

	user := r.identity.CurrentUser()
	senderID := ""
	if user != nil {
		senderID = user.ID
	}

	return r.router.Publish(ctx, realtime.TripChatChannel(active.ID), models.EventChat, models.ChatMessage{
		TripID:   active.ID,
		SenderID: senderID,
		Text:     text,
	})
}

// ViewHidden pauses the fallback poll while the view is not visible.
func (r *Rider) ViewHidden() { r.poller.Pause() }

// ViewVisible resumes the fallback poll.
func (r *Rider) ViewVisible() { r.poller.Resume() }

// Teardown releases every subscription and stops the poller. Invoked on
// logout, role switch or component teardown.
func (r *Rider) Teardown(ctx context.Context) {
	r.poller.Stop()
	r.router.TeardownOwner(ctx, types.RoleRider.String())

	r.mu.Lock()
	r.active = nil
	r.mu.Unlock()
}

// handleTripEvent consumes bid/status/cancellation events for the active trip.
func (r *Rider) handleTripEvent(channel string, e models.Event) {
	ctx := wrap.WithChannel(context.Background(), channel)

	switch e.Kind {
	case models.EventBid:
		var ev models.BidEvent
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			r.log.Warn(ctx, "dropping malformed bid event", "err", err.Error())
			return
		}
		r.applyBid(ctx, ev)

	case models.EventStatus:
		var ev models.StatusEvent
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			r.log.Warn(ctx, "dropping malformed status event", "err", err.Error())
			return
		}
		r.applyStatusEvent(ctx, ev)

	case models.EventCancelled:
		var ev models.StatusEvent
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			return
		}
		ev.Status = types.StatusCancelled
		r.applyStatusEvent(ctx, ev)
	}
}

// applyBid inserts a bid at most once by id; duplicate delivery from the
// transport (or the echo of an optimistic insert) is tolerated silently.
func (r *Rider) applyBid(ctx context.Context, ev models.BidEvent) {
	r.mu.Lock()
	inserted := false
	if r.active != nil && r.active.ID == ev.TripID && r.active.Status == types.StatusBidding {
		inserted = r.active.UpsertBid(ev.Bid)
	}
	r.mu.Unlock()

	if inserted {
		metrics.BidsReceivedTotal.Inc()
		r.log.Debug(wrap.WithAction(ctx, types.ActionBidReceived), "bid received",
			"bid_id", ev.Bid.ID,
			"amount", ev.Bid.Amount,
		)
		r.notify()
	}
}

func (r *Rider) applyStatusEvent(ctx context.Context, ev models.StatusEvent) {
	r.mu.Lock()
	changed := false
	var tripID string
	if r.active != nil && r.active.ID == ev.TripID {
		changed = applyStatus(r.active, ev)
		tripID = r.active.ID
	}
	terminal := r.active != nil && r.active.Status.Terminal()
	r.mu.Unlock()

	if !changed {
		return
	}

	r.log.Info(wrap.WithAction(wrap.WithTripID(ctx, tripID), types.ActionTripStatusUpdate),
		"trip status changed", "status", string(ev.Status))

	if terminal {
		r.releaseTrip(ctx, tripID)
	}
	r.notify()
}

// pollActive is the fallback to event delivery: fetch the active trip and
// merge it without regressing locally known progress.
func (r *Rider) pollActive(ctx context.Context) {
	ctx = wrap.WithAction(ctx, types.ActionTripPoll)

	payload, err := r.client.Send(ctx, http.MethodGet, ledger.EndpointActiveTrip, nil)
	if err != nil {
		r.log.Debug(ctx, "active trip poll failed", "err", err.Error())
		return
	}
	if payload == nil {
		return
	}

	polled, err := ledger.DecodeAs[models.Trip](payload)
	if err != nil || polled.ID == "" {
		return
	}

	r.mu.Lock()
	merged, changed := mergeSnapshot(r.active, &polled)
	r.active = merged
	r.mu.Unlock()

	if changed {
		r.notify()
	}
}

// releaseTrip tears down the trip-scoped subscriptions and the poller once
// the trip leaves the active flow.
func (r *Rider) releaseTrip(ctx context.Context, tripID string) {
	r.poller.Stop()
	_ = r.router.Unsubscribe(ctx, types.RoleRider.String(), realtime.TripEventsChannel(tripID))
	_ = r.router.Unsubscribe(ctx, types.RoleRider.String(), realtime.TripChatChannel(tripID))
}

func (r *Rider) handleChat(channel string, e models.Event) {
	if e.Kind != models.EventChat {
		return
	}
	var msg models.ChatMessage
	if err := json.Unmarshal(e.Data, &msg); err != nil {
		return
	}

	r.mu.Lock()
	fn := r.onChat
	r.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (r *Rider) notify() {
	r.mu.Lock()
	fn := r.onUpdate
	r.mu.Unlock()
	if fn != nil {
		fn(r.ActiveTrip())
	}
}
