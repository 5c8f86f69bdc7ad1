package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/panashe-dev/kombi-go/config"
	"github.com/panashe-dev/kombi-go/internal/domain/types"
	"github.com/panashe-dev/kombi-go/pkg/logger"
	wrap "github.com/panashe-dev/kombi-go/pkg/logger/wrapper"
	"github.com/panashe-dev/kombi-go/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

/*
Client wraps all request/response traffic to the Ledger Service: per-request
timeout, retry with exponential backoff, in-flight GET deduplication, TTL
response caching and the scrub/normalize payload pipeline.

The in-flight group and the cache are the only process-wide mutable state of
the client; both are safe under concurrent callers.
*/
type Client struct {
	baseURL string
	http    *http.Client
	log     logger.Logger

	timeout    time.Duration
	maxRetries int
	retryBase  time.Duration

	tokenSource   func() string
	onAuthExpired func()

	group     singleflight.Group
	cache     *ResponseCache
	forbidden []string
}

// New creates a Ledger client from config.
func New(cfg config.LedgerConfig, log logger.Logger) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		http:       &http.Client{},
		log:        log,
		timeout:    cfg.RequestTimeout,
		maxRetries: cfg.MaxRetries,
		retryBase:  cfg.RetryBaseDelay,
		cache:      NewResponseCache(cfg.CacheCapacity),
		forbidden:  DefaultForbiddenFields,
	}
}

// SetTokenSource registers the credential provider. The session manager owns
// the credential; the client only attaches it.
func (c *Client) SetTokenSource(fn func() string) {
	c.tokenSource = fn
}

// OnAuthExpired registers the forced-teardown hook fired on a 401 from a
// protected endpoint. The hook runs on its own goroutine so a teardown that
// itself calls the client cannot deadlock the in-flight request.
func (c *Client) OnAuthExpired(fn func()) {
	c.onAuthExpired = fn
}

// Cache exposes the response cache for session-teardown invalidation.
func (c *Client) Cache() *ResponseCache {
	return c.cache
}

type callOpts struct {
	timeout time.Duration
	token   string
}

type CallOption func(*callOpts)

// WithTimeout overrides the default request timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOpts) { o.timeout = d }
}

// WithToken attaches an explicit bearer credential to one call, bypassing the
// registered token source. Needed when the caller has already dropped the
// session the source reads from, such as the logout revoke.
func WithToken(token string) CallOption {
	return func(o *callOpts) { o.token = token }
}

// Send performs one logical request against the Ledger Service and returns the
// scrubbed, normalized payload. Concurrent GETs for the same endpoint share a
// single in-flight request. Retryable failures are resolved internally and
// only surface once the retry budget is exhausted.
func (c *Client) Send(ctx context.Context, method, endpoint string, body any, opts ...CallOption) (any, error) {
	o := callOpts{timeout: c.timeout}
	for _, opt := range opts {
		opt(&o)
	}

	ctx = wrap.WithAction(ctx, types.ActionLedgerRequest)

	if method == http.MethodGet {
		key := method + ":" + endpoint
		payload, err, _ := c.group.Do(key, func() (any, error) {
			return c.doWithRetry(ctx, method, endpoint, body, o)
		})
		if err != nil {
			return nil, err
		}
		return payload, nil
	}

	payload, err := c.doWithRetry(ctx, method, endpoint, body, o)
	if err != nil {
		return nil, err
	}

	// Trip-mutating writes must not leave stale reads behind.
	if isTripMutation(method, endpoint) {
		c.cache.InvalidateMatching("trips")
	}

	return payload, nil
}

// CachedGet serves the endpoint from the TTL cache when fresh, falling back to
// a deduplicated network GET on a miss.
func (c *Client) CachedGet(ctx context.Context, endpoint string, ttl time.Duration) (any, error) {
	key := http.MethodGet + ":" + endpoint
	if payload, ok := c.cache.Get(key); ok {
		return payload, nil
	}

	payload, err := c.Send(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, payload, ttl)
	return payload, nil
}

func (c *Client) doWithRetry(ctx context.Context, method, endpoint string, body any, o callOpts) (any, error) {
	for attempt := 0; ; attempt++ {
		payload, err := c.do(ctx, method, endpoint, body, o)
		if err == nil {
			return payload, nil
		}

		// Auth mutations are never retried: a replayed signup or login can
		// create duplicate side effects on the Ledger.
		if !retryable(err) || isAuthEndpoint(endpoint) || attempt >= c.maxRetries {
			return nil, wrap.Error(ctx, err)
		}

		delay := c.retryBase * (1 << attempt)
		metrics.LedgerRetriesTotal.WithLabelValues(endpoint).Inc()
		c.log.Warn(wrap.WithAction(ctx, types.ActionLedgerRetry),
			"retrying ledger request",
			"endpoint", endpoint,
			"attempt", attempt+1,
			"delay", delay.String(),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, wrap.Error(ctx, ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, o callOpts) (any, error) {
	reqCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	token := o.token
	if token == "" && c.tokenSource != nil {
		token = c.tokenSource()
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	metrics.LedgerRequestsInFlight.Inc()
	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.LedgerRequestsInFlight.Dec()

	if err != nil {
		// The caller's own cancellation is not a transport failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.RecordLedgerRequest(method, endpoint, 0, time.Since(start))
			return nil, &TimeoutError{Endpoint: endpoint}
		}
		metrics.RecordLedgerRequest(method, endpoint, 0, time.Since(start))
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	metrics.RecordLedgerRequest(method, endpoint, resp.StatusCode, time.Since(start))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return c.decodePayload(raw)
	}

	return nil, c.statusError(resp.StatusCode, endpoint, raw)
}

// decodePayload runs the pipeline: decode, scrub forbidden fields, then
// normalize key naming and identifier types. Order matters: scrubbing matches
// wire keys before they are rewritten.
func (c *Client) decodePayload(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode ledger response: %w", err)
	}

	payload = Scrub(payload, c.forbidden)
	payload = Normalize(payload)
	return payload, nil
}

func (c *Client) statusError(status int, endpoint string, raw []byte) error {
	switch {
	case status == http.StatusUnauthorized:
		if isAuthEndpoint(endpoint) {
			return ErrInvalidCredentials
		}
		if c.onAuthExpired != nil {
			go c.onAuthExpired()
		}
		return ErrAuthExpired

	case status == http.StatusForbidden:
		return ErrForbidden

	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &ValidationError{Message: serverMessage(raw)}

	case status == http.StatusTooManyRequests:
		return &RateLimitError{}

	case status >= 500:
		return &ServerError{StatusCode: status}

	default:
		return &APIError{StatusCode: status, Message: messageForStatus(status)}
	}
}

// serverMessage pulls a human-readable message out of an error body.
func serverMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}

// DecodeAs converts a normalized payload into a typed value. The payload is
// already in the client naming convention, so struct tags match directly.
func DecodeAs[T any](payload any) (T, error) {
	var out T
	data, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("failed to re-encode payload: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode payload: %w", err)
	}
	return out, nil
}
