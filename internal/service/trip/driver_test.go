package trip

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/panashe-dev/kombi-go/config"
	"github.com/panashe-dev/kombi-go/internal/adapter/ledger"
	"github.com/panashe-dev/kombi-go/internal/adapter/realtime"
	"github.com/panashe-dev/kombi-go/internal/domain/models"
	"github.com/panashe-dev/kombi-go/internal/domain/types"
)

func newTestDriver(baseURL string) (*Driver, *fakeTransport) {
	client := ledger.New(config.LedgerConfig{
		BaseURL:        baseURL,
		RequestTimeout: 2 * time.Second,
		MaxRetries:     1,
		RetryBaseDelay: time.Millisecond,
		CacheCapacity:  16,
	}, testLog)

	ft := newFakeTransport()
	router := realtime.NewRouter(ft, testLog)
	identity := &fakeIdentity{user: &models.User{ID: "d1", Name: "Tawanda", Role: types.RoleDriver}}

	d := NewDriver(client, router, identity, testTripConfig(), config.DispatchConfig{RadiusKm: 25}, testLog)
	return d, ft
}

var harareCBD = models.Location{Lat: -17.8252, Lng: 31.0335}

func goOnline(t *testing.T, d *Driver) {
	t.Helper()
	if err := d.GoOnline(context.Background(), harareCBD); err != nil {
		t.Fatalf("GoOnline() = %v", err)
	}
}

func broadcastTrip(ft *fakeTransport, id string, pickup models.Location) {
	e, _ := models.NewEvent(models.EventTripRequested, models.TripBroadcast{
		Trip: models.Trip{ID: id, Status: types.StatusPending, Pickup: pickup, ProposedPrice: 10},
	})
	ft.inject("presence:harare", e)
}

func TestGoOnlinePresenceLifecycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	}))
	defer srv.Close()
	d, ft := newTestDriver(srv.URL)

	goOnline(t, d)
	goOnline(t, d) // second call is a no-op

	if !ft.subscribed("presence:harare") {
		t.Error("presence channel not subscribed")
	}
	if got := ft.published("presence:harare", models.EventPresenceEnter); got != 1 {
		t.Errorf("presence enter published %d times, want 1", got)
	}

	if err := d.GoOffline(context.Background()); err != nil {
		t.Fatalf("GoOffline() = %v", err)
	}
	if got := ft.published("presence:harare", models.EventPresenceExit); got != 1 {
		t.Errorf("presence exit published %d times, want 1", got)
	}
	if ft.subscribed("presence:harare") {
		t.Error("presence channel still subscribed after going offline")
	}

	if err := d.GoOffline(context.Background()); err != nil {
		t.Errorf("second GoOffline() = %v, want nil", err)
	}
}

func TestCandidateDiscoveryFiltersAndRanks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	d, ft := newTestDriver(srv.URL)
	goOnline(t, d)

	broadcastTrip(ft, "mid", models.Location{Lat: -17.9152, Lng: 31.0335})  // ~10 km
	broadcastTrip(ft, "far", models.Location{Lat: -18.0552, Lng: 31.0335})  // ~25.6 km, outside
	broadcastTrip(ft, "near", models.Location{Lat: -17.8452, Lng: 31.0335}) // ~2.2 km
	broadcastTrip(ft, "near", models.Location{Lat: -17.8452, Lng: 31.0335}) // duplicate

	matches := d.Candidates()
	if len(matches) != 2 {
		t.Fatalf("candidates = %d, want 2 (outside radius and duplicates dropped)", len(matches))
	}
	if matches[0].ID != "near" || matches[1].ID != "mid" {
		t.Errorf("order = [%s %s], want distance-ascending [near mid]", matches[0].ID, matches[1].ID)
	}
}

func TestCancelledBroadcastDropsCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	d, ft := newTestDriver(srv.URL)
	goOnline(t, d)

	broadcastTrip(ft, "t1", models.Location{Lat: -17.8452, Lng: 31.0335})
	ft.inject("presence:harare", mustEvent(t, models.EventCancelled,
		models.StatusEvent{TripID: "t1", Status: types.StatusCancelled}))

	if got := d.Candidates(); len(got) != 0 {
		t.Errorf("candidates = %d, want 0 after rider cancelled", len(got))
	}
}

func TestSubmitBidFailureFabricatesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()
	d, _ := newTestDriver(srv.URL)

	bid, err := d.SubmitBid(context.Background(), "t1", 4.5, 7)
	if err == nil {
		t.Fatal("SubmitBid() = nil, want rejection surfaced")
	}
	if bid != nil {
		t.Errorf("bid = %+v, want nil on failure", bid)
	}
}

func TestSubmitBidReturnsLedgerBid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trips/t1/offers" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": "b1", "driver_id": "d1", "amount": 4.5, "eta_minutes": 7}`))
	}))
	defer srv.Close()
	d, _ := newTestDriver(srv.URL)

	bid, err := d.SubmitBid(context.Background(), "t1", 4.5, 7)
	if err != nil {
		t.Fatalf("SubmitBid() = %v", err)
	}
	if bid.ID != "b1" || bid.DriverID != "d1" || bid.EtaMinutes != 7 {
		t.Errorf("bid = %+v", bid)
	}
}

func TestAcceptSuggestedFastPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trips/t1/accept" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"id": "t1", "status": "ACCEPTED", "driver_id": "d1", "proposed_price": 10, "final_price": 10}`))
	}))
	defer srv.Close()
	d, ft := newTestDriver(srv.URL)

	trip, err := d.AcceptSuggested(context.Background(), "t1")
	if err != nil {
		t.Fatalf("AcceptSuggested() = %v", err)
	}
	if trip.Status != types.StatusAccepted {
		t.Errorf("status = %v", trip.Status)
	}
	if trip.FinalPrice == nil || *trip.FinalPrice != 10 {
		t.Errorf("FinalPrice = %v, want the proposed price", trip.FinalPrice)
	}
	if !ft.subscribed("trip:t1:events") || !ft.subscribed("trip:t1:chat") {
		t.Error("trip channels not subscribed after acceptance")
	}
}

func TestAcceptSuggestedConflictDropsCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusConflict)
		}
	}))
	defer srv.Close()
	d, ft := newTestDriver(srv.URL)
	goOnline(t, d)
	broadcastTrip(ft, "t1", models.Location{Lat: -17.8452, Lng: 31.0335})

	_, err := d.AcceptSuggested(context.Background(), "t1")
	if !errors.Is(err, types.ErrTripAlreadyTaken) {
		t.Fatalf("AcceptSuggested() = %v, want ErrTripAlreadyTaken", err)
	}
	if got := d.Candidates(); len(got) != 0 {
		t.Errorf("lost race left the trip in the candidate list: %d", len(got))
	}
	if d.ActiveTrip() != nil {
		t.Error("lost race produced an active trip")
	}
}

func TestUpdateStatusForwardOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/trips/t1/accept":
			w.Write([]byte(`{"id": "t1", "status": "ACCEPTED", "driver_id": "d1", "proposed_price": 10}`))
		default:
			w.Write([]byte(`{"id": "t1"}`))
		}
	}))
	defer srv.Close()
	d, ft := newTestDriver(srv.URL)
	if _, err := d.AcceptSuggested(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}

	if err := d.UpdateStatus(context.Background(), types.StatusArriving); err != nil {
		t.Fatalf("UpdateStatus(ARRIVING) = %v", err)
	}
	if err := d.UpdateStatus(context.Background(), types.StatusArriving); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("repeated ARRIVING = %v, want ErrInvalidTransition", err)
	}
	if err := d.UpdateStatus(context.Background(), types.StatusCancelled); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("driver-side CANCELLED = %v, want ErrInvalidTransition", err)
	}

	if err := d.UpdateStatus(context.Background(), types.StatusInProgress); err != nil {
		t.Fatal(err)
	}
	if err := d.UpdateStatus(context.Background(), types.StatusCompleted); err != nil {
		t.Fatal(err)
	}

	if got := d.ActiveTrip().Status; got != types.StatusCompleted {
		t.Errorf("status = %v", got)
	}
	if ft.subscribed("trip:t1:events") {
		t.Error("trip channels still subscribed after completion")
	}
}

func TestUpdateStatusWithoutActiveTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	d, _ := newTestDriver(srv.URL)

	if err := d.UpdateStatus(context.Background(), types.StatusArriving); !errors.Is(err, types.ErrNoActiveTrip) {
		t.Errorf("UpdateStatus() = %v, want ErrNoActiveTrip", err)
	}
}

func TestBidAcceptedAdoptsOnlyOwnAssignment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	d, ft := newTestDriver(srv.URL)

	other := "d-other"
	d.BidAccepted(context.Background(), &models.Trip{ID: "t1", Status: types.StatusAccepted, DriverID: &other})
	if d.ActiveTrip() != nil {
		t.Fatal("adopted a trip assigned to another driver")
	}

	mine := "d1"
	d.BidAccepted(context.Background(), &models.Trip{ID: "t2", Status: types.StatusAccepted, DriverID: &mine})
	if got := d.ActiveTrip(); got == nil || got.ID != "t2" {
		t.Errorf("ActiveTrip = %+v, want own assignment adopted", got)
	}
	if !ft.subscribed("trip:t2:events") {
		t.Error("trip events not subscribed after assignment")
	}
}

func TestUpdateLocationStreamsOnlyDuringRide(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "t1", "status": "ACCEPTED", "driver_id": "d1"}`))
	}))
	defer srv.Close()
	d, ft := newTestDriver(srv.URL)

	d.UpdateLocation(context.Background(), harareCBD, 90)
	if got := ft.published("trip:t1:location", models.EventLocation); got != 0 {
		t.Fatalf("location published %d times with no active trip", got)
	}

	if _, err := d.AcceptSuggested(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	d.UpdateLocation(context.Background(), harareCBD, 90)
	if got := ft.published("trip:t1:location", models.EventLocation); got != 1 {
		t.Errorf("location published %d times, want 1", got)
	}
}
