// Package metrics provides Prometheus metrics for the support chat service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebSocketConnections tracks the current number of live connections.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supportchat_websocket_connections",
		Help: "Current number of active WebSocket connections",
	})

	// EventsReceived counts client events by name.
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportchat_events_received_total",
		Help: "Total number of client events received by event name",
	}, []string{"event"})

	// RepliesSent counts replies built for client events by name. Every
	// received event produces exactly one reply, success or error.
	RepliesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportchat_replies_sent_total",
		Help: "Total number of replies built for client events by event name",
	}, []string{"event"})

	// EventErrors counts failed events by error code.
	EventErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportchat_event_errors_total",
		Help: "Total number of event failures by error code",
	}, []string{"code"})

	// EventDuration observes event handling latency by event name.
	EventDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "supportchat_event_duration_seconds",
		Help:    "Event handling latency in seconds by event name",
		Buckets: prometheus.DefBuckets,
	}, []string{"event"})

	// ChatsStarted counts newly created chats.
	ChatsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_chats_started_total",
		Help: "Total number of chats created",
	})

	// ChatsClosed counts active-to-closed transitions.
	ChatsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_chats_closed_total",
		Help: "Total number of chats closed",
	})

	// MessagesPersisted counts messages written to the store.
	MessagesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_messages_persisted_total",
		Help: "Total number of chat messages persisted",
	})

	// BroadcastsDelivered counts push deliveries enqueued to room members.
	BroadcastsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_broadcasts_delivered_total",
		Help: "Total number of push messages enqueued to room members",
	})

	// BroadcastsDropped counts pushes not delivered because a member's send
	// buffer was full or the connection was closing.
	BroadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_broadcasts_dropped_total",
		Help: "Total number of push messages dropped for slow or closing connections",
	})
)
