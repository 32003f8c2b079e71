// Package metrics exposes the daemon's operational counters and the
// sidecar health/metrics HTTP listener. The listener runs outside the
// event loop and only reads loop state through goroutine-safe accessors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors the event loop updates.
type Metrics struct {
	ConnectionsActive  prometheus.Gauge
	HandshakesAccepted prometheus.Counter
	HandshakesRejected *prometheus.CounterVec
	EventsDelivered    *prometheus.CounterVec
	PollErrors         *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "signoffws",
			Name:      "connections_active",
			Help:      "Live WebSocket connections, pre- and post-handshake.",
		}),
		HandshakesAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "signoffws",
			Name:      "handshakes_accepted_total",
			Help:      "Connections that completed the WebSocket handshake.",
		}),
		HandshakesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signoffws",
			Name:      "handshakes_rejected_total",
			Help:      "Connections rejected during the handshake.",
		}, []string{"reason"}),
		EventsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signoffws",
			Name:      "events_delivered_total",
			Help:      "Events pushed to clients.",
		}, []string{"source"}),
		PollErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signoffws",
			Name:      "poll_errors_total",
			Help:      "Poll queries that failed and will be retried.",
		}, []string{"source"}),
	}
}

// Label values used by the event loop.
const (
	SourceChangeLog = "change_log"
	SourceTA        = "ta_assignments"

	ReasonBadRequest   = "bad_request"
	ReasonUnauthorized = "unauthorized"
)
