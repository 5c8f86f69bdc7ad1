package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ledger request metrics
	LedgerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_requests_total",
			Help: "Total number of requests sent to the Ledger Service",
		},
		[]string{"method", "endpoint", "status"},
	)

	LedgerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_request_duration_seconds",
			Help:    "Ledger request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	LedgerRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_retries_total",
			Help: "Total number of retried Ledger requests",
		},
		[]string{"endpoint"},
	)

	LedgerRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_requests_in_flight",
			Help: "Current number of Ledger requests being processed",
		},
	)

	// Response cache metrics
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "response_cache_hits_total",
			Help: "Total number of response cache hits",
		},
	)

	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "response_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	CacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "response_cache_evictions_total",
			Help: "Total number of response cache evictions",
		},
	)

	// Realtime metrics
	RealtimeConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connected",
			Help: "Whether the realtime transport is currently connected (0/1)",
		},
	)

	RealtimeSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_subscriptions",
			Help: "Current number of active channel subscriptions",
		},
	)

	RealtimeMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_messages_published_total",
			Help: "Total number of messages published to realtime channels",
		},
		[]string{"channel_kind", "status"},
	)

	RealtimeMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_messages_received_total",
			Help: "Total number of messages received from realtime channels",
		},
		[]string{"channel_kind"},
	)

	// Session metrics
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refreshes_total",
			Help: "Total number of credential refresh attempts",
		},
		[]string{"status"},
	)

	// Trip metrics
	TripsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trips_total",
			Help: "Total number of trips created by this client",
		},
		[]string{"type"},
	)

	BidsReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bids_received_total",
			Help: "Total number of bid events applied to trips",
		},
	)
)

// RecordLedgerRequest records request metrics for a completed Ledger call
func RecordLedgerRequest(method, endpoint string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	LedgerRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	LedgerRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordPublish records a realtime publish attempt
func RecordPublish(channelKind string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	RealtimeMessagesPublished.WithLabelValues(channelKind, status).Inc()
}

// RecordRefresh records a credential refresh attempt
func RecordRefresh(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	TokenRefreshesTotal.WithLabelValues(status).Inc()
}
