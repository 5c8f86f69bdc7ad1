package models

import (
	"time"

	"github.com/panashe-dev/kombi-go/internal/domain/types"
)

// Location is an address with its coordinate.
// JSON tags follow the client naming convention (camelCase), which is what the
// ledger adapter normalizes wire payloads into.
type Location struct {
	Address string  `json:"address,omitempty"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// Bid is a driver's offer against a trip in BIDDING. Immutable once created.
type Bid struct {
	ID           string  `json:"id"`
	DriverID     string  `json:"driverId"`
	DriverName   string  `json:"driverName"`
	DriverRating float64 `json:"driverRating"`
	Amount       float64 `json:"amount"`
	EtaMinutes   int     `json:"etaMinutes"`
	VehicleInfo  string  `json:"vehicleInfo"`
}

// Trip is the full lifecycle record of a transport request.
//
// DriverID and FinalPrice are only present once the status has a committed
// driver; Bids is only meaningfully populated while status is BIDDING.
type Trip struct {
	ID            string           `json:"id"`
	Status        types.TripStatus `json:"status"`
	Type          types.TripType   `json:"type"`
	Category      string           `json:"category"`
	Pickup        Location         `json:"pickup"`
	Dropoff       Location         `json:"dropoff"`
	ProposedPrice float64          `json:"proposedPrice"`
	FinalPrice    *float64         `json:"finalPrice,omitempty"`
	Bids          []Bid            `json:"bids,omitempty"`
	AcceptedBidID *string          `json:"acceptedBidId,omitempty"`
	DriverID      *string          `json:"driverId,omitempty"`
	RiderID       string           `json:"riderId"`
	CreatedAt     time.Time        `json:"createdAt"`
	CompletedAt   *time.Time       `json:"completedAt,omitempty"`
}

// FindBid returns the bid with the given id, or nil.
func (t *Trip) FindBid(id string) *Bid {
	for i := range t.Bids {
		if t.Bids[i].ID == id {
			return &t.Bids[i]
		}
	}
	return nil
}

// UpsertBid inserts the bid if its id is not already present. Duplicate
// delivery from the transport is tolerated silently; insertion order is
// preserved (arrival order, not price order). Reports whether it inserted.
func (t *Trip) UpsertBid(b Bid) bool {
	if t.FindBid(b.ID) != nil {
		return false
	}
	t.Bids = append(t.Bids, b)
	return true
}

// TripRequest is the outbound payload for creating a trip. Wire convention
// is snake_case, matching what the Ledger Service accepts.
type TripRequest struct {
	Type          types.TripType `json:"type"`
	Category      string         `json:"category"`
	Pickup        Location       `json:"pickup"`
	Dropoff       Location       `json:"dropoff"`
	ProposedPrice float64        `json:"proposed_price"`
}

// Review is the post-trip rating payload.
type Review struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}
