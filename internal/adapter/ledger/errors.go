package ledger

import (
	"errors"
	"fmt"
)

// Distinguished session-affecting errors.
var (
	// ErrAuthExpired is raised on a 401 from a protected endpoint. The client
	// additionally fires the registered teardown hook.
	ErrAuthExpired = errors.New("your session has expired, please sign in again")

	// ErrInvalidCredentials is raised on a 401 from an auth endpoint.
	ErrInvalidCredentials = errors.New("invalid phone number or password")

	// ErrForbidden is raised on a 403.
	ErrForbidden = errors.New("you do not have permission to do that")
)

// NetworkError wraps a connectivity-level failure. Retryable.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "could not reach the server, check your connection"
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError reports a request that exceeded its deadline. Retryable.
type TimeoutError struct {
	Endpoint string
}

func (e *TimeoutError) Error() string {
	return "the request timed out, please try again"
}

// ServerError reports a 5xx response. Retryable.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "something went wrong on our side, please try again"
}

// RateLimitError reports a 429 response. Retryable with backoff.
type RateLimitError struct{}

func (e *RateLimitError) Error() string {
	return "too many requests, slowing down"
}

// ValidationError reports a 400/422; the server message is surfaced verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "the request was not valid"
}

// APIError covers every remaining non-2xx status, mapped to a plain-language
// message so raw status codes never reach the user.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

var statusMessages = map[int]string{
	404: "the requested item could not be found",
	405: "that action is not supported",
	409: "someone else got there first, please refresh",
	410: "this item is no longer available",
}

func messageForStatus(code int) string {
	if msg, ok := statusMessages[code]; ok {
		return msg
	}
	return fmt.Sprintf("the request could not be completed (code %d)", code)
}

// retryable reports whether the error is resolvable by the backoff loop:
// connectivity failures, timeouts, 5xx and 429.
func retryable(err error) bool {
	var (
		netErr     *NetworkError
		timeoutErr *TimeoutError
		serverErr  *ServerError
		rateErr    *RateLimitError
	)
	return errors.As(err, &netErr) ||
		errors.As(err, &timeoutErr) ||
		errors.As(err, &serverErr) ||
		errors.As(err, &rateErr)
}
