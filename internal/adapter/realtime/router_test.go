package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/panashe-dev/kombi-go/internal/domain/models"
	"github.com/panashe-dev/kombi-go/pkg/logger"
)

var testLog = logger.InitLogger("test", logger.LevelError)

// fakeTransport records every operation and lets tests inject deliveries.
type fakeTransport struct {
	mu       sync.Mutex
	ops      []string
	handlers map[string]Handler
	events   map[string][]models.Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers: make(map[string]Handler),
		events:   make(map[string][]models.Event),
	}
}

func (f *fakeTransport) record(op string) {
	f.mu.Lock()
	f.ops = append(f.ops, op)
	f.mu.Unlock()
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.record("connect")
	return nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, channel string, h Handler) error {
	f.mu.Lock()
	f.handlers[channel] = h
	f.mu.Unlock()
	f.record("subscribe:" + channel)
	return nil
}

func (f *fakeTransport) Unsubscribe(ctx context.Context, channel string) error {
	f.mu.Lock()
	delete(f.handlers, channel)
	f.mu.Unlock()
	f.record("unsubscribe:" + channel)
	return nil
}

func (f *fakeTransport) Publish(ctx context.Context, channel string, e models.Event) error {
	f.mu.Lock()
	f.events[channel] = append(f.events[channel], e)
	f.mu.Unlock()
	f.record("publish:" + channel + ":" + e.Kind)
	return nil
}

func (f *fakeTransport) Close(ctx context.Context) error {
	f.record("close")
	return nil
}

// inject simulates a delivery from the wire.
func (f *fakeTransport) inject(channel string, e models.Event) {
	f.mu.Lock()
	h := f.handlers[channel]
	f.mu.Unlock()
	if h != nil {
		h(channel, e)
	}
}

func (f *fakeTransport) opCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.ops {
		if o == op {
			n++
		}
	}
	return n
}

func TestChannelNaming(t *testing.T) {
	if got := PresenceChannel("Harare"); got != "presence:harare" {
		t.Errorf("PresenceChannel = %q", got)
	}
	if got := TripEventsChannel("t1"); got != "trip:t1:events" {
		t.Errorf("TripEventsChannel = %q", got)
	}
	if got := TripLocationChannel("t1"); got != "trip:t1:location" {
		t.Errorf("TripLocationChannel = %q", got)
	}
	if got := TripChatChannel("t1"); got != "trip:t1:chat" {
		t.Errorf("TripChatChannel = %q", got)
	}
}

func TestSubscribeIsIdempotentPerOwner(t *testing.T) {
	ft := newFakeTransport()
	r := NewRouter(ft, testLog)
	ctx := context.Background()

	h := func(channel string, e models.Event) {}
	ch := TripEventsChannel("t1")

	if err := r.Subscribe(ctx, "rider", ch, h); err != nil {
		t.Fatalf("Subscribe() = %v", err)
	}
	if err := r.Subscribe(ctx, "rider", ch, h); err != nil {
		t.Fatalf("re-Subscribe() = %v", err)
	}

	if got := ft.opCount("subscribe:" + ch); got != 1 {
		t.Errorf("transport subscribed %d times, want 1", got)
	}
}

func TestTransportSubscriptionIsRefcountedByOwner(t *testing.T) {
	ft := newFakeTransport()
	r := NewRouter(ft, testLog)
	ctx := context.Background()
	ch := TripEventsChannel("t1")

	h := func(channel string, e models.Event) {}
	if err := r.Subscribe(ctx, "rider", ch, h); err != nil {
		t.Fatal(err)
	}
	if err := r.Subscribe(ctx, "driver", ch, h); err != nil {
		t.Fatal(err)
	}
	if got := ft.opCount("subscribe:" + ch); got != 1 {
		t.Fatalf("two owners caused %d transport subscribes, want 1", got)
	}

	if err := r.Unsubscribe(ctx, "rider", ch); err != nil {
		t.Fatal(err)
	}
	if got := ft.opCount("unsubscribe:" + ch); got != 0 {
		t.Error("transport unsubscribed while an owner remained")
	}

	if err := r.Unsubscribe(ctx, "driver", ch); err != nil {
		t.Fatal(err)
	}
	if got := ft.opCount("unsubscribe:" + ch); got != 1 {
		t.Errorf("transport unsubscribe count = %d, want 1 after last owner left", got)
	}
}

func TestUnsubscribeInactiveIsNoOp(t *testing.T) {
	ft := newFakeTransport()
	r := NewRouter(ft, testLog)

	if err := r.Unsubscribe(context.Background(), "rider", TripEventsChannel("ghost")); err != nil {
		t.Errorf("Unsubscribe of inactive descriptor = %v, want nil", err)
	}
	if got := ft.opCount("unsubscribe:" + TripEventsChannel("ghost")); got != 0 {
		t.Error("transport touched for inactive descriptor")
	}
}

func TestDispatchFansOutToEveryOwner(t *testing.T) {
	ft := newFakeTransport()
	r := NewRouter(ft, testLog)
	ctx := context.Background()
	ch := TripEventsChannel("t1")

	var mu sync.Mutex
	got := map[string]int{}
	mkHandler := func(name string) Handler {
		return func(channel string, e models.Event) {
			mu.Lock()
			got[name]++
			mu.Unlock()
		}
	}

	if err := r.Subscribe(ctx, "rider", ch, mkHandler("rider")); err != nil {
		t.Fatal(err)
	}
	if err := r.Subscribe(ctx, "driver", ch, mkHandler("driver")); err != nil {
		t.Fatal(err)
	}

	e, _ := models.NewEvent(models.EventStatus, models.StatusEvent{TripID: "t1"})
	ft.inject(ch, e)

	mu.Lock()
	defer mu.Unlock()
	if got["rider"] != 1 || got["driver"] != 1 {
		t.Errorf("fan-out = %v, want each owner delivered once", got)
	}
}

func TestTeardownOwnerReleasesOnlyThatOwner(t *testing.T) {
	ft := newFakeTransport()
	r := NewRouter(ft, testLog)
	ctx := context.Background()

	h := func(channel string, e models.Event) {}
	shared := TripEventsChannel("t1")
	driverOnly := PresenceChannel("harare")

	if err := r.Subscribe(ctx, "rider", shared, h); err != nil {
		t.Fatal(err)
	}
	if err := r.Subscribe(ctx, "driver", shared, h); err != nil {
		t.Fatal(err)
	}
	if err := r.Subscribe(ctx, "driver", driverOnly, h); err != nil {
		t.Fatal(err)
	}

	r.TeardownOwner(ctx, "driver")

	if got := ft.opCount("unsubscribe:" + driverOnly); got != 1 {
		t.Error("driver-only channel not released")
	}
	if got := ft.opCount("unsubscribe:" + shared); got != 0 {
		t.Error("shared channel released while rider still owns it")
	}
}

func TestPresenceLifecycle(t *testing.T) {
	ft := newFakeTransport()
	r := NewRouter(ft, testLog)
	ctx := context.Background()

	ident := models.PresenceEvent{DriverID: "d1", Location: models.Location{Lat: -17.82, Lng: 31.03}}
	if err := r.EnterPresence(ctx, "Harare", ident); err != nil {
		t.Fatalf("EnterPresence() = %v", err)
	}

	events := ft.events["presence:harare"]
	if len(events) != 1 || events[0].Kind != models.EventPresenceEnter {
		t.Fatalf("enter published %v", events)
	}
	var got models.PresenceEvent
	if err := json.Unmarshal(events[0].Data, &got); err != nil || got.DriverID != "d1" {
		t.Errorf("presence payload = %+v, err %v", got, err)
	}

	if err := r.ExitPresence(ctx); err != nil {
		t.Fatalf("ExitPresence() = %v", err)
	}
	if err := r.ExitPresence(ctx); err != nil {
		t.Fatalf("second ExitPresence() = %v", err)
	}

	exits := 0
	for _, e := range ft.events["presence:harare"] {
		if e.Kind == models.EventPresenceExit {
			exits++
		}
	}
	if exits != 1 {
		t.Errorf("exit published %d times, want 1 (exit is idempotent)", exits)
	}
}

func TestCloseExitsPresenceBeforeTransportClose(t *testing.T) {
	ft := newFakeTransport()
	r := NewRouter(ft, testLog)
	ctx := context.Background()

	if err := r.EnterPresence(ctx, "harare", models.PresenceEvent{DriverID: "d1"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()
	exitIdx, closeIdx := -1, -1
	for i, op := range ft.ops {
		switch op {
		case "publish:presence:harare:" + models.EventPresenceExit:
			exitIdx = i
		case "close":
			closeIdx = i
		}
	}
	if exitIdx == -1 || closeIdx == -1 || exitIdx > closeIdx {
		t.Errorf("ops = %v, want presence exit before transport close", ft.ops)
	}
}
