package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks the number of admitted WebSocket connections
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hubgate_connections_active",
			Help: "Number of admitted hub/reader WebSocket connections",
		},
	)

	// AuthRejectedTotal counts connection handshakes rejected for a bad token
	AuthRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hubgate_auth_rejected_total",
			Help: "Total number of connection handshakes rejected by shared-secret check",
		},
	)

	// InboundDroppedTotal counts inbound messages dropped as unparsable, by reason
	InboundDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubgate_inbound_dropped_total",
			Help: "Total number of inbound messages dropped before normalization",
		},
		[]string{"reason"},
	)

	// EventsTotal counts normalized events by event type
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubgate_events_total",
			Help: "Total number of normalized events produced",
		},
		[]string{"type"},
	)

	// QueueDepth tracks the number of pending webhook deliveries
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hubgate_queue_depth",
			Help: "Number of events waiting for webhook delivery",
		},
	)

	// QueueDroppedTotal counts items evicted because the queue was full
	QueueDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hubgate_queue_dropped_total",
			Help: "Total number of queued events evicted by the drop-oldest overflow policy",
		},
	)

	// DeliveriesTotal counts webhook delivery attempts by status (success, failure, timeout)
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubgate_deliveries_total",
			Help: "Total number of webhook delivery attempts",
		},
		[]string{"status"},
	)

	// DeliveryDuration tracks webhook POST latency in seconds
	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hubgate_delivery_duration",
			Help:    "Duration of webhook delivery attempts in seconds",
			Buckets: []float64{0.005, 0.05, 0.25, 1, 5},
		},
		[]string{"status"},
	)

	// HubsByState tracks how many tracked hubs are online or failing
	HubsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hubgate_hubs",
			Help: "Number of tracked hubs by liveness state",
		},
		[]string{"state"},
	)

	// CommandsTotal counts output commands by target kind and route (direct, broadcast)
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubgate_commands_total",
			Help: "Total number of output commands dispatched to connections",
		},
		[]string{"target", "route"},
	)
)

// RecordConnectionOpened increments the active connection gauge
func RecordConnectionOpened() {
	ConnectionsActive.Inc()
}

// RecordConnectionClosed decrements the active connection gauge
func RecordConnectionClosed() {
	ConnectionsActive.Dec()
}

// RecordAuthRejected counts one rejected handshake
func RecordAuthRejected() {
	AuthRejectedTotal.Inc()
}

// RecordInboundDropped counts one dropped inbound message
func RecordInboundDropped(reason string) {
	InboundDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordEvent counts one produced event of the given type
func RecordEvent(eventType string) {
	EventsTotal.WithLabelValues(eventType).Inc()
}

// SetQueueDepth sets the pending delivery gauge
func SetQueueDepth(n int) {
	QueueDepth.Set(float64(n))
}

// RecordQueueDropped counts one overflow eviction
func RecordQueueDropped() {
	QueueDroppedTotal.Inc()
}

// Delivery status labels
const (
	DeliverySuccess = "success"
	DeliveryFailure = "failure"
	DeliveryTimeout = "timeout"
)

// RecordDelivery records the outcome and latency of one webhook attempt
func RecordDelivery(status string, durationSeconds float64) {
	DeliveriesTotal.WithLabelValues(status).Inc()
	DeliveryDuration.WithLabelValues(status).Observe(durationSeconds)
}

// SetHubStates sets the online and failing hub gauges
func SetHubStates(online, failing int) {
	HubsByState.WithLabelValues("online").Set(float64(online))
	HubsByState.WithLabelValues("failing").Set(float64(failing))
}

// RecordCommand counts one dispatched output command
func RecordCommand(target string, broadcast bool) {
	route := "direct"
	if broadcast {
		route = "broadcast"
	}
	CommandsTotal.WithLabelValues(target, route).Inc()
}
