package trip

import (
	"time"

	"github.com/panashe-dev/kombi-go/internal/domain/models"
	"github.com/panashe-dev/kombi-go/internal/domain/types"
)

// applyStatus merges a status observation (event or poll result) into the
// trip. Delivery order is not guaranteed, so the decision keys off content:
// a trip never regresses to an earlier status, terminal statuses stick, and
// CANCELLED is only reachable while no driver is committed. Reports whether
// the trip changed.
func applyStatus(t *models.Trip, ev models.StatusEvent) bool {
	if t == nil || t.Status.Terminal() {
		return false
	}

	if ev.Status == types.StatusCancelled {
		if t.Status != types.StatusPending && t.Status != types.StatusBidding {
			return false
		}
		t.Status = types.StatusCancelled
		return true
	}

	if ev.Status.Rank() <= t.Status.Rank() {
		return false
	}

	t.Status = ev.Status
	if ev.DriverID != "" {
		t.DriverID = &ev.DriverID
	}
	if ev.FinalPrice > 0 {
		t.FinalPrice = &ev.FinalPrice
	}
	if ev.Status == types.StatusCompleted {
		completed := ev.Timestamp
		if completed.IsZero() {
			completed = time.Now()
		}
		t.CompletedAt = &completed
	}

	return true
}

// mergeSnapshot reconciles a polled trip snapshot with local state,
// last-write-wins on content but never regressing the status. Returns the
// trip to keep and whether anything changed.
func mergeSnapshot(local *models.Trip, polled *models.Trip) (*models.Trip, bool) {
	if polled == nil {
		return local, false
	}
	if local == nil || local.ID != polled.ID {
		return polled, true
	}

	// Keep locally known bids the snapshot may lag behind on.
	for _, b := range local.Bids {
		polled.UpsertBid(b)
	}

	if polled.Status.Rank() < local.Status.Rank() || (local.Status.Terminal() && !polled.Status.Terminal()) {
		// Stale snapshot: keep the more advanced local status and the
		// fields that travel with it.
		polled.Status = local.Status
		if local.DriverID != nil {
			polled.DriverID = local.DriverID
		}
		if local.FinalPrice != nil {
			polled.FinalPrice = local.FinalPrice
		}
		if local.AcceptedBidID != nil {
			polled.AcceptedBidID = local.AcceptedBidID
		}
		if local.CompletedAt != nil {
			polled.CompletedAt = local.CompletedAt
		}
	}

	return polled, true
}
