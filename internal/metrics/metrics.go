// Package metrics exposes dispatch and lifecycle counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cargorapido"

// Accept outcomes.
const (
	AcceptWon            = "won"
	AcceptAlreadyClaimed = "already_claimed"
	AcceptNotEligible    = "not_eligible"
	AcceptError          = "error"
)

// Metrics holds the service counters. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	bookingsCreated  prometheus.Counter
	acceptOutcomes   *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	otpRejections    *prometheus.CounterVec
	escalations      *prometheus.CounterVec
	poolQueryResults prometheus.Histogram
}

// New creates the counters on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		bookingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_created_total",
			Help:      "Bookings created.",
		}),
		acceptOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_attempts_total",
			Help:      "Accept attempts by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Committed status transitions.",
		}, []string{"from", "to"}),
		otpRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_rejections_total",
			Help:      "Rejected one-time codes by handoff gate.",
		}, []string{"gate"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignment_escalations_total",
			Help:      "Bookings re-broadcast or handed to an administrator after the assignment deadline.",
		}, []string{"kind"}),
		poolQueryResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_pool_results",
			Help:      "Number of bookings returned per pool query.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}),
	}

	m.registry.MustRegister(
		m.bookingsCreated,
		m.acceptOutcomes,
		m.transitions,
		m.otpRejections,
		m.escalations,
		m.poolQueryResults,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// BookingCreated counts a new booking.
func (m *Metrics) BookingCreated() {
	if m == nil {
		return
	}
	m.bookingsCreated.Inc()
}

// AcceptOutcome counts an accept attempt.
func (m *Metrics) AcceptOutcome(outcome string) {
	if m == nil {
		return
	}
	m.acceptOutcomes.WithLabelValues(outcome).Inc()
}

// Transition counts a committed status change.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// OTPRejected counts a failed code at the given gate.
func (m *Metrics) OTPRejected(gate string) {
	if m == nil {
		return
	}
	m.otpRejections.WithLabelValues(gate).Inc()
}

// Escalated counts a sweeper action: "rebroadcast" or "admin".
func (m *Metrics) Escalated(kind string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(kind).Inc()
}

// PoolQuery records how many bookings a pool query returned.
func (m *Metrics) PoolQuery(results int) {
	if m == nil {
		return
	}
	m.poolQueryResults.Observe(float64(results))
}
