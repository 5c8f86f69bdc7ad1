package models

import (
	"encoding/json"
	"time"

	"github.com/panashe-dev/kombi-go/internal/domain/types"
)

// Realtime event kinds carried on trip event channels.
const (
	EventBid       = "bid"
	EventStatus    = "status"
	EventCancelled = "cancelled"
	EventChat      = "chat"
	EventLocation  = "location"

	EventPresenceEnter = "presence_enter"
	EventPresenceExit  = "presence_exit"

	// EventTripRequested broadcasts a new trip to drivers in a city.
	EventTripRequested = "trip_request"
)

// Event is the envelope for every message on a realtime channel.
// Delivery order is not guaranteed by the transport; consumers key off the
// payload content, never off arrival order.
type Event struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals data into an envelope. Errors only on unmarshalable data.
func NewEvent(kind string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: kind, Data: raw}, nil
}

// BidEvent announces a driver's bid on trip:{id}:events.
type BidEvent struct {
	TripID string `json:"trip_id"`
	Bid    Bid    `json:"bid"`
}

// StatusEvent announces a trip status change on trip:{id}:events.
type StatusEvent struct {
	TripID     string           `json:"trip_id"`
	Status     types.TripStatus `json:"status"`
	DriverID   string           `json:"driver_id,omitempty"`
	FinalPrice float64          `json:"final_price,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// PresenceEvent announces a driver going online/offline on presence:{city}.
type PresenceEvent struct {
	DriverID string   `json:"driver_id"`
	Name     string   `json:"name,omitempty"`
	Location Location `json:"location"`
}

// DriverLocation is the continuous position stream on trip:{id}:location.
type DriverLocation struct {
	TripID   string   `json:"trip_id"`
	Location Location `json:"location"`
	Heading  float64  `json:"heading"`
}

// TripBroadcast carries a freshly requested trip on presence:{city}.
type TripBroadcast struct {
	Trip Trip `json:"trip"`
}

// ChatMessage flows on trip:{id}:chat.
type ChatMessage struct {
	TripID   string    `json:"trip_id"`
	SenderID string    `json:"sender_id"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}
