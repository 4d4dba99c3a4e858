package posting

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for processed events.
const (
	OutcomePosted    = "posted"
	OutcomeReplayed  = "replayed"
	OutcomeFailed    = "failed"
	OutcomeLocked    = "locked"
	OutcomeInvariant = "invariant"
	OutcomeReversed  = "reversed"
)

// Metrics holds the posting engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	events     *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	contention prometheus.Counter
	invariants prometheus.Counter
}

// NewMetrics builds the collectors and registers them when registerer is non-nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmledger_posting_events_total",
			Help: "Events handled by the posting engine by type and outcome.",
		}, []string{"type", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "farmledger_posting_duration_seconds",
			Help:    "Time spent processing one event.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		contention: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farmledger_posting_lock_contention_total",
			Help: "processEvent calls that found the event lease held.",
		}),
		invariants: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farmledger_posting_invariant_violations_total",
			Help: "Lost event status compare-and-swaps.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(m.events, m.duration, m.contention, m.invariants)
	}
	return m
}

func (m *Metrics) observe(eventType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.events.WithLabelValues(eventType, outcome).Inc()
	m.duration.WithLabelValues(eventType).Observe(elapsed.Seconds())
}

func (m *Metrics) lockContended() {
	if m == nil {
		return
	}
	m.contention.Inc()
}

func (m *Metrics) invariantViolated() {
	if m == nil {
		return
	}
	m.invariants.Inc()
}
