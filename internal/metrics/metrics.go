// Package metrics provides Prometheus instrumentation for the marketplace
// chat server. It exposes gauges for connection and room counts, counters for
// message throughput, and histograms for send latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatapp_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MessagesTotal counts the total number of chat messages processed,
	// labeled by outcome: "sent", "delivered", "flagged", or "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatapp_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"outcome"})

	// SendLatency records end-to-end message persistence latency in seconds.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatapp_send_latency_seconds",
		Help:    "Message persistence and fanout latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// RoomJoinsTotal counts join_chat operations, labeled by result.
	RoomJoinsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatapp_room_joins_total",
		Help: "Total number of chat room join attempts",
	}, []string{"result"}) // result = "ok", "denied", "error"

	// ActiveRooms tracks the number of chat rooms with at least one joined
	// connection on this instance.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatapp_active_rooms",
		Help: "Current number of chat rooms with a local subscriber",
	})

	// NotificationsTotal counts notifications pushed to personal scopes.
	NotificationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatapp_notifications_total",
		Help: "Total number of notifications pushed to user scopes",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MessagesTotal,
		SendLatency,
		RoomJoinsTotal,
		ActiveRooms,
		NotificationsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
