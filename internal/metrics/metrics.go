package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomchat_connections_active",
			Help: "Currently bound websocket connections",
		},
	)

	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_connections_rejected_total",
			Help: "Connections refused or terminated by the gateway",
		},
		[]string{"code"},
	)

	Evictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_slow_consumer_evictions_total",
			Help: "Connections evicted because their send buffer was full or closed",
		},
	)

	// Room and message metrics
	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomchat_rooms_active",
			Help: "Rooms with at least one live member",
		},
	)

	Messages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_messages_total",
			Help: "Chat messages by outcome",
		},
		[]string{"outcome"}, // "accepted" or an error code
	)

	PresenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_presence_transitions_total",
			Help: "Presence status changes",
		},
		[]string{"status"},
	)

	// Persistence metrics
	PersistRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_persist_retries_total",
			Help: "Retried message store writes",
		},
	)

	PersistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_persist_failures_total",
			Help: "Messages that could not be persisted",
		},
		[]string{"reason"}, // "exhausted" or "queue_full"
	)

	PersistLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roomchat_persist_latency_seconds",
			Help:    "Message store write latency",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)
)
