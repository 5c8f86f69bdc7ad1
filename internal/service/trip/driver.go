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
	"github.com/panashe-dev/kombi-go/internal/service/dispatch"
	"github.com/panashe-dev/kombi-go/pkg/logger"
	wrap "github.com/panashe-dev/kombi-go/pkg/logger/wrapper"
)

/*
Driver runs the trip lifecycle from the driver side: presence in a city,
proximity-filtered candidate discovery, bidding, the fast-path acceptance of
the suggested price, and the forward status transitions of an active ride.
*/
type Driver struct {
	client   *ledger.Client
	router   *realtime.Router
	identity Identity
	cfg      config.TripConfig
	radiusKm float64
	log      logger.Logger

	mu         sync.Mutex
	online     bool
	location   models.Location
	candidates map[string]models.Trip
	arrival    []string // candidate ids in arrival order, for stable ranking
	active     *models.Trip

	onCandidates func([]dispatch.Match)
	onUpdate     func(*models.Trip)
	onChat       func(models.ChatMessage)
}

func NewDriver(client *ledger.Client, router *realtime.Router, identity Identity, cfg config.TripConfig, dispatchCfg config.DispatchConfig, log logger.Logger) *Driver {
	return &Driver{
		client:     client,
		router:     router,
		identity:   identity,
		cfg:        cfg,
		radiusKm:   dispatchCfg.RadiusKm,
		log:        log,
		candidates: make(map[string]models.Trip),
	}
}

// OnCandidates registers the callback fired when the ranked candidate list changes.
func (d *Driver) OnCandidates(fn func([]dispatch.Match)) {
	d.mu.Lock()
	d.onCandidates = fn
	d.mu.Unlock()
}

// OnUpdate registers the active-trip view-state callback.
func (d *Driver) OnUpdate(fn func(*models.Trip)) {
	d.mu.Lock()
	d.onUpdate = fn
	d.mu.Unlock()
}

// OnChat registers the chat callback.
func (d *Driver) OnChat(fn func(models.ChatMessage)) {
	d.mu.Lock()
	d.onChat = fn
	d.mu.Unlock()
}

// GoOnline declares presence in the configured city with the last known
// coordinate and starts listening for trip broadcasts.
func (d *Driver) GoOnline(ctx context.Context, loc models.Location) error {
	user := d.identity.CurrentUser()
	if user == nil {
		return types.ErrNotAuthenticated
	}

	d.mu.Lock()
	if d.online {
		d.mu.Unlock()
		return nil
	}
	d.location = loc
	d.mu.Unlock()

	channel := realtime.PresenceChannel(d.cfg.City)
	if err := d.router.Subscribe(ctx, types.RoleDriver.String(), channel, d.handleCityEvent); err != nil {
		return err
	}

	if err := d.router.EnterPresence(ctx, d.cfg.City, models.PresenceEvent{
		DriverID: user.ID,
		Name:     user.Name,
		Location: loc,
	}); err != nil {
		_ = d.router.Unsubscribe(ctx, types.RoleDriver.String(), channel)
		return err
	}

	d.mu.Lock()
	d.online = true
	d.mu.Unlock()
	return nil
}

// GoOffline exits presence and drops candidate discovery. Presence exit goes
// out before the subscription is released.
func (d *Driver) GoOffline(ctx context.Context) error {
	d.mu.Lock()
	if !d.online {
		d.mu.Unlock()
		return nil
	}
	d.online = false
	d.candidates = make(map[string]models.Trip)
	d.arrival = nil
	d.mu.Unlock()

	if err := d.router.ExitPresence(ctx); err != nil {
		d.log.Warn(ctx, "presence exit failed", "err", err.Error())
	}
	return d.router.Unsubscribe(ctx, types.RoleDriver.String(), realtime.PresenceChannel(d.cfg.City))
}

// UpdateLocation records the driver's position and, during an active ride,
// streams it on the trip's location channel (fire-and-forget).
func (d *Driver) UpdateLocation(ctx context.Context, loc models.Location, heading float64) {
	d.mu.Lock()
	d.location = loc
	active := d.active
	d.mu.Unlock()

	if active == nil || active.Status.Terminal() {
		return
	}

	if err := d.router.Publish(ctx, realtime.TripLocationChannel(active.ID), models.EventLocation, models.DriverLocation{
		TripID:   active.ID,
		Location: loc,
		Heading:  heading,
	}); err != nil {
		d.log.Debug(ctx, "location publish failed", "err", err.Error())
	}
}

// Candidates returns open trips within the dispatch radius, ranked strictly
// by ascending great-circle distance from the driver's position.
func (d *Driver) Candidates() []dispatch.Match {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rankedLocked()
}

// rankedLocked must be called with the lock held.
func (d *Driver) rankedLocked() []dispatch.Match {
	cands := make([]dispatch.Candidate, 0, len(d.arrival))
	for _, id := range d.arrival {
		t, ok := d.candidates[id]
		if !ok {
			continue
		}
		cands = append(cands, dispatch.Candidate{ID: t.ID, Location: t.Pickup})
	}
	return dispatch.FilterByProximity(d.location, cands, d.radiusKm)
}

// SubmitBid offers a price/ETA against a candidate trip. The bid is created
// by the Ledger and echoed to the rider on the trip's event channel; nothing
// is fabricated locally, so a failure leaves no trace.
func (d *Driver) SubmitBid(ctx context.Context, tripID string, amount float64, etaMinutes int) (*models.Bid, error) {
	ctx = wrap.WithTripID(wrap.WithAction(ctx, types.ActionBidSubmit), tripID)

	payload, err := d.client.Send(ctx, http.MethodPost, ledger.EndpointTripOffers(tripID), map[string]any{
		"amount":      amount,
		"eta_minutes": etaMinutes,
	})
	if err != nil {
		return nil, err
	}

	bid, err := ledger.DecodeAs[models.Bid](payload)
	if err != nil {
		return nil, wrap.Error(ctx, err)
	}

	d.log.Info(ctx, "bid submitted", "bid_id", bid.ID, "amount", amount)
	return &bid, nil
}

// AcceptSuggested is the fast path: the driver takes the trip at the rider's
// proposed price, bypassing bidding. First accepted write wins at the Ledger;
// a 409 means another driver got there first.
func (d *Driver) AcceptSuggested(ctx context.Context, tripID string) (*models.Trip, error) {
	ctx = wrap.WithTripID(wrap.WithAction(ctx, types.ActionBidAccept), tripID)

	payload, err := d.client.Send(ctx, http.MethodPost, ledger.EndpointTripAccept(tripID), nil)
	if err != nil {
		var apiErr *ledger.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
			d.dropCandidate(tripID)
			return nil, types.ErrTripAlreadyTaken
		}
		return nil, err
	}

	trip, err := ledger.DecodeAs[models.Trip](payload)
	if err != nil {
		return nil, wrap.Error(ctx, err)
	}

	d.adoptActive(ctx, &trip)
	d.log.Info(ctx, "trip accepted at suggested price", "final_price", trip.ProposedPrice)
	return d.ActiveTrip(), nil
}

// BidAccepted adopts a trip the rider assigned to this driver. The driver has
// no subscription on the trip before assignment, so the app surfaces the
// acceptance here after it learns of it from the Ledger.
func (d *Driver) BidAccepted(ctx context.Context, trip *models.Trip) {
	if trip == nil || trip.DriverID == nil {
		return
	}
	user := d.identity.CurrentUser()
	if user == nil || *trip.DriverID != user.ID {
		return
	}
	d.adoptActive(ctx, trip)
}

func (d *Driver) adoptActive(ctx context.Context, trip *models.Trip) {
	d.mu.Lock()
	d.active = trip
	delete(d.candidates, trip.ID)
	d.mu.Unlock()

	_ = d.router.Subscribe(ctx, types.RoleDriver.String(), realtime.TripEventsChannel(trip.ID), d.handleTripEvent)
	_ = d.router.Subscribe(ctx, types.RoleDriver.String(), realtime.TripChatChannel(trip.ID), d.handleChat)
	d.notifyTrip()
}

// UpdateStatus advances the active ride: ACCEPTED → ARRIVING → IN_PROGRESS →
// COMPLETED. Only the driver side originates these transitions.
func (d *Driver) UpdateStatus(ctx context.Context, status types.TripStatus) error {
	d.mu.Lock()
	active := d.active
	d.mu.Unlock()

	if active == nil {
		return types.ErrNoActiveTrip
	}
	if status.Rank() <= active.Status.Rank() || status == types.StatusCancelled {
		return types.ErrInvalidTransition
	}

	ctx = wrap.WithTripID(wrap.WithAction(ctx, types.ActionTripStatusUpdate), active.ID)
	_, err := d.client.Send(ctx, http.MethodPost, ledger.EndpointTripStatus(active.ID), map[string]string{
		"status": string(status),
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	changed := applyStatus(d.active, models.StatusEvent{TripID: active.ID, Status: status})
	terminal := d.active != nil && d.active.Status.Terminal()
	d.mu.Unlock()

	d.log.Info(ctx, "trip status advanced", "status", string(status))
	if terminal {
		d.releaseTrip(ctx, active.ID)
	}
	if changed {
		d.notifyTrip()
	}
	return nil
}

// ActiveTrip returns a copy of the driver's active trip, or nil.
func (d *Driver) ActiveTrip() *models.Trip {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return nil
	}
	cp := *d.active
	return &cp
}

// SendChat publishes a message on the active trip's chat channel.
func (d *Driver) SendChat(ctx context.Context, text string) error {
	d.mu.Lock()
	active := d.active
	d.mu.Unlock()
	if active == nil {
		return types.ErrNoActiveTrip
	}

	user := d.identity.CurrentUser()
	senderID := ""
	if user != nil {
		senderID = user.ID
	}

	return d.router.Publish(ctx, realtime.TripChatChannel(active.ID), models.EventChat, models.ChatMessage{
		TripID:   active.ID,
		SenderID: senderID,
		Text:     text,
	})
}

// Teardown exits presence and releases every driver-owned subscription.
func (d *Driver) Teardown(ctx context.Context) {
	_ = d.GoOffline(ctx)
	d.router.TeardownOwner(ctx, types.RoleDriver.String())

	d.mu.Lock()
	d.active = nil
	d.mu.Unlock()
}

// handleCityEvent consumes trip broadcasts and cancellations on the city
// presence channel.
func (d *Driver) handleCityEvent(channel string, e models.Event) {
	switch e.Kind {
	case models.EventTripRequested:
		var ev models.TripBroadcast
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			return
		}
		d.addCandidate(ev.Trip)

	case models.EventCancelled:
		var ev models.StatusEvent
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			return
		}
		d.dropCandidate(ev.TripID)
	}
}

// addCandidate records a broadcast trip at most once by id; duplicates from
// the transport are tolerated silently.
func (d *Driver) addCandidate(t models.Trip) {
	d.mu.Lock()
	if _, seen := d.candidates[t.ID]; seen || !d.online {
		d.mu.Unlock()
		return
	}
	d.candidates[t.ID] = t
	d.arrival = append(d.arrival, t.ID)
	ranked := d.rankedLocked()
	fn := d.onCandidates
	d.mu.Unlock()

	if fn != nil {
		fn(ranked)
	}
}

func (d *Driver) dropCandidate(tripID string) {
	d.mu.Lock()
	_, existed := d.candidates[tripID]
	delete(d.candidates, tripID)
	ranked := d.rankedLocked()
	fn := d.onCandidates
	d.mu.Unlock()

	if existed && fn != nil {
		fn(ranked)
	}
}

// handleTripEvent watches the active trip for rider-side cancellation and
// acceptance confirmation.
func (d *Driver) handleTripEvent(channel string, e models.Event) {
	ctx := wrap.WithChannel(context.Background(), channel)

	var ev models.StatusEvent
	switch e.Kind {
	case models.EventStatus:
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			return
		}
	case models.EventCancelled:
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			return
		}
		ev.Status = types.StatusCancelled
	default:
		return
	}

	d.mu.Lock()
	changed := false
	var tripID string
	if d.active != nil && d.active.ID == ev.TripID {
		changed = applyStatus(d.active, ev)
		tripID = d.active.ID
	}
	terminal := d.active != nil && d.active.Status.Terminal()
	d.mu.Unlock()

	if !changed {
		return
	}
	if terminal {
		d.releaseTrip(ctx, tripID)
	}
	d.notifyTrip()
}

func (d *Driver) releaseTrip(ctx context.Context, tripID string) {
	_ = d.router.Unsubscribe(ctx, types.RoleDriver.String(), realtime.TripEventsChannel(tripID))
	_ = d.router.Unsubscribe(ctx, types.RoleDriver.String(), realtime.TripChatChannel(tripID))
}

func (d *Driver) handleChat(channel string, e models.Event) {
	if e.Kind != models.EventChat {
		return
	}
	var msg models.ChatMessage
	if err := json.Unmarshal(e.Data, &msg); err != nil {
		return
	}

	d.mu.Lock()
	fn := d.onChat
	d.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (d *Driver) notifyTrip() {
	d.mu.Lock()
	fn := d.onUpdate
	d.mu.Unlock()
	if fn != nil {
		fn(d.ActiveTrip())
	}
}
