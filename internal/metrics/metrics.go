// Package metrics exposes Prometheus collectors for the hand-off service.
//
// Tracked:
//   - rooms created and closed
//   - messages appended, by sender role
//   - human requests, claims (by outcome) and releases
//   - automated responder latency and outcome
//   - live connections, by role
//   - rejected client events, by error code
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	RoomsCreated prometheus.Counter
	RoomsClosed  prometheus.Counter

	// Labels: sender (user|bot|human|system)
	Messages *prometheus.CounterVec

	HumanRequests prometheus.Counter
	// Labels: result (success|already_claimed|not_found|...)
	Claims   *prometheus.CounterVec
	Releases prometheus.Counter

	// Labels: outcome (ok|timeout|error|sensitive)
	ResponderDuration *prometheus.HistogramVec

	// Labels: role (visitor|agent|admin)
	Connections *prometheus.GaugeVec

	// Labels: code
	Rejections *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. A nil reg gets a private registry,
// which keeps tests from colliding on the global one.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		RoomsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "handoff_rooms_created_total",
			Help: "Chat rooms opened by visitors.",
		}),
		RoomsClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "handoff_rooms_closed_total",
			Help: "Chat rooms closed by an agent or administrator.",
		}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_messages_total",
			Help: "Transcript entries appended, by sender role.",
		}, []string{"sender"}),
		HumanRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "handoff_human_requests_total",
			Help: "Requests for a human agent submitted by visitors.",
		}),
		Claims: f.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_claims_total",
			Help: "Agent claim attempts, by result.",
		}, []string{"result"}),
		Releases: f.NewCounter(prometheus.CounterOpts{
			Name: "handoff_releases_total",
			Help: "Rooms returned to the queue by an agent leaving or disconnecting.",
		}),
		ResponderDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "handoff_responder_duration_seconds",
			Help:    "Automated responder latency, by outcome.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),
		Connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "handoff_connections",
			Help: "Live websocket connections, by role.",
		}, []string{"role"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_rejections_total",
			Help: "Client events rejected with an error event, by code.",
		}, []string{"code"}),
		gatherer: reg,
	}
}

func (m *Metrics) ObserveResponder(outcome string, start time.Time) {
	m.ResponderDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
