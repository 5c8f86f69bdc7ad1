package types

import "errors"

var (
	ErrTripNotFound          = errors.New("trip not found")
	ErrNoActiveTrip          = errors.New("no active trip")
	ErrTripAlreadyActive     = errors.New("another trip is already active")
	ErrTripCannotBeCancelled = errors.New("trip can no longer be cancelled")
	ErrBidNotFound           = errors.New("bid not found")
	ErrTripAlreadyTaken      = errors.New("trip was already accepted by another driver")
	ErrInvalidTransition     = errors.New("invalid trip status transition")

	ErrNotAuthenticated = errors.New("not authenticated")
	ErrSessionExpired   = errors.New("your session has expired, please sign in again")

	ErrNotFound = errors.New("requested item not found")
)
