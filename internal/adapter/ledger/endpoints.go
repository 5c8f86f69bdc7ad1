package ledger

import (
	"fmt"
	"strings"
)

// Ledger Service endpoints.
const (
	EndpointLogin                 = "/auth/login"
	EndpointSignup                = "/auth/signup"
	EndpointMe                    = "/auth/me"
	EndpointRefresh               = "/auth/refresh"
	EndpointRevoke                = "/auth/revoke"
	EndpointRequestPasswordReset  = "/auth/request-password-reset"
	EndpointCompletePasswordReset = "/auth/complete-password-reset"
	EndpointProfile               = "/auth/profile"
	EndpointSwitchRole            = "/switch-role"
	EndpointTrips                 = "/trips"
	EndpointActiveTrip            = "/trips/active"
	EndpointTripHistory           = "/trips/history"
)

func EndpointTripOffers(tripID string) string {
	return fmt.Sprintf("/trips/%s/offers", tripID)
}

func EndpointTripAccept(tripID string) string {
	return fmt.Sprintf("/trips/%s/accept", tripID)
}

func EndpointTripStatus(tripID string) string {
	return fmt.Sprintf("/trips/%s/status", tripID)
}

func EndpointTripCancel(tripID string) string {
	return fmt.Sprintf("/trips/%s/cancel", tripID)
}

func EndpointTripReview(tripID string) string {
	return fmt.Sprintf("/trips/%s/review", tripID)
}

// isAuthEndpoint marks credential-mutation endpoints. A 401 here means bad
// credentials, not an expired session, and retrying one of these can create
// duplicate side effects, so they are excluded from the retry loop.
func isAuthEndpoint(endpoint string) bool {
	switch endpoint {
	case EndpointLogin, EndpointSignup, EndpointRequestPasswordReset, EndpointCompletePasswordReset:
		return true
	default:
		return false
	}
}

// isTripMutation marks writes that must invalidate the trip cache partition.
func isTripMutation(method, endpoint string) bool {
	return method != "GET" && strings.Contains(endpoint, "trips")
}
