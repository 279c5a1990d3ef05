package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messaging_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Business metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_messages_sent_total",
			Help: "Messages committed",
		},
	)

	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_conversations_created_total",
			Help: "Conversations created",
		},
	)

	ConversationCreateRaces = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_conversation_create_races_total",
			Help: "Conversation inserts that lost a uniqueness race and were retried as lookups",
		},
	)

	SearchQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_search_queries_total",
			Help: "Total search queries",
		},
	)

	// Fan-out metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_events_published_total",
			Help: "Real-time events handed to a publisher",
		},
		[]string{"event", "publisher"},
	)

	EventFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_event_failures_total",
			Help: "Real-time events that could not be published",
		},
		[]string{"event"},
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "messaging_websocket_clients",
			Help: "Connected websocket clients on this instance",
		},
	)

	// Reconciler metrics
	UnreadDriftParticipants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "messaging_unread_drift_participants",
			Help: "Participants whose unread counter disagreed with their unread messages at the last check",
		},
	)

	UnreadDriftRepaired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_unread_drift_repaired_total",
			Help: "Participant unread counters rewritten by the reconciler",
		},
	)
)
