package metrics

import (
	"github.com/Wyydra/callsig/internal/core/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus implements port.Metrics.
//
// Exposed series:
//   - callsig_connections_active: live transport connections
//   - callsig_events_total{event,code}: inbound events by outcome code ("ok" on success)
//   - callsig_call_transitions_total{state}: call state machine transitions
//   - callsig_calls_ended_total{reason}: calls reaching ENDED by reason
//   - callsig_delivery_failures_total{event}: outbound events a connection refused
type Prometheus struct {
	connections      prometheus.Gauge
	events           *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	ended            *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
}

// NewPrometheus registers the collectors with reg. Tests pass a fresh
// prometheus.NewRegistry(); the server passes prometheus.DefaultRegisterer.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callsig_connections_active",
			Help: "Number of live signaling connections",
		}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callsig_events_total",
			Help: "Inbound signaling events by event name and outcome code",
		}, []string{"event", "code"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callsig_call_transitions_total",
			Help: "Call session state transitions by target state",
		}, []string{"state"}),
		ended: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callsig_calls_ended_total",
			Help: "Calls ended by reason",
		}, []string{"reason"}),
		deliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callsig_delivery_failures_total",
			Help: "Outbound events that could not be written to a connection",
		}, []string{"event"}),
	}
}

func (p *Prometheus) ConnectionOpened() {
	p.connections.Inc()
}

func (p *Prometheus) ConnectionClosed() {
	p.connections.Dec()
}

func (p *Prometheus) EventHandled(event domain.EventName, code string) {
	p.events.WithLabelValues(string(event), code).Inc()
}

func (p *Prometheus) CallTransition(state domain.CallState) {
	p.transitions.WithLabelValues(string(state)).Inc()
}

func (p *Prometheus) CallEnded(reason domain.EndReason) {
	p.ended.WithLabelValues(string(reason)).Inc()
}

func (p *Prometheus) DeliveryFailed(event domain.EventName) {
	p.deliveryFailures.WithLabelValues(string(event)).Inc()
}
