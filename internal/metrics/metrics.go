package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Admission metrics
	JoinsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_room_joins_total",
			Help: "Join attempts by outcome",
		},
		[]string{"outcome"}, // "ok" or an error kind
	)

	LeavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_room_leaves_total",
			Help: "Sessions closed by cause",
		},
		[]string{"cause"}, // "leave", "disconnect", "sweep"
	)

	TxRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_tx_retries_total",
			Help: "Transactions re-run after a deadlock or lock timeout",
		},
	)

	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total chat messages stored",
		},
	)

	// Real-time metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_connections",
			Help: "Open websocket connections",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_published_total",
			Help: "Events handed to the fan-out, by destination kind",
		},
		[]string{"kind"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_events_dropped_total",
			Help: "Events dropped because a subscriber's send buffer was full",
		},
	)

	ActivityDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_activity_dropped_total",
			Help: "Activity records dropped because the publish buffer was full or the broker was unreachable",
		},
	)

	SweptSessions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_swept_sessions_total",
			Help: "Orphaned sessions closed by the reconciliation sweep",
		},
	)
)
