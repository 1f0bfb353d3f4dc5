package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics (portal gateway)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carelink_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Session metrics
	SessionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_session_events_total",
			Help: "Session store events",
		},
		[]string{"event"}, // restore, restore_corrupt, login, register, logout, auth_failed
	)

	// Realtime channel metrics
	ChannelConnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_channel_connects_total",
			Help: "Realtime channel connection attempts",
		},
		[]string{"result"}, // "ok" or "error"
	)

	ChannelState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "carelink_channel_state",
			Help: "Realtime channel state (0 disconnected, 1 connecting, 2 connected)",
		},
	)

	// Chat metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_messages_sent_total",
			Help: "Total messages emitted",
		},
		[]string{"type"},
	)

	MessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "carelink_messages_received_total",
			Help: "Total messages received on open chats",
		},
	)

	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_uploads_total",
			Help: "Attachment uploads",
		},
		[]string{"result"}, // "ok", "error", "rejected"
	)

	// Notification metrics
	NotificationsAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_notifications_added_total",
			Help: "Notifications appended to the surface",
		},
		[]string{"type"},
	)

	// Infrastructure metrics
	StorageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carelink_storage_latency_seconds",
			Help:    "Durable storage operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"backend", "op"},
	)
)
