package types

// Role of the current session. The client runs as exactly one role at a time;
// switching roles is a session mutation, not a per-request choice.
type Role string

func (r Role) String() string {
	return string(r)
}

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

// Trip type
type TripType string

const (
	TripPassenger TripType = "passenger"
	TripFreight   TripType = "freight"
)

// Trip lifecycle status
type TripStatus string

const (
	StatusPending    TripStatus = "PENDING"
	StatusBidding    TripStatus = "BIDDING"
	StatusAccepted   TripStatus = "ACCEPTED"
	StatusArriving   TripStatus = "ARRIVING"
	StatusInProgress TripStatus = "IN_PROGRESS"
	StatusCompleted  TripStatus = "COMPLETED"
	StatusCancelled  TripStatus = "CANCELLED"
)

// statusRank orders statuses along the forward lifecycle. Poll results and
// delayed events must never move a trip backwards along this order.
var statusRank = map[TripStatus]int{
	StatusPending:    0,
	StatusBidding:    1,
	StatusAccepted:   2,
	StatusArriving:   3,
	StatusInProgress: 4,
	StatusCompleted:  5,
}

// Rank returns the forward-lifecycle position of the status.
// CANCELLED and unknown statuses report -1, they are handled separately.
func (s TripStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Terminal reports whether no further transitions are possible.
func (s TripStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// DriverAssigned reports whether a driver is committed at this status.
func (s TripStatus) DriverAssigned() bool {
	switch s {
	case StatusAccepted, StatusArriving, StatusInProgress, StatusCompleted:
		return true
	default:
		return false
	}
}

// Session lifecycle state
type SessionState string

const (
	SessionInitializing    SessionState = "initializing"
	SessionUnauthenticated SessionState = "unauthenticated"
	SessionAuthenticated   SessionState = "authenticated"
	SessionExpiring        SessionState = "session_expiring"
	SessionRefreshing      SessionState = "refreshing"
	SessionExpired         SessionState = "session_expired"
)
