// Package jobmetrics instruments the asynq handlers.
package jobmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the background job collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	swept       *prometheus.CounterVec
	imbalances  *prometheus.CounterVec
}

// NewMetrics registers the collectors on registerer. A nil registerer yields
// unregistered collectors, which tests use to stay isolated.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmledger_jobs_total",
			Help: "Job runs by job name and status.",
		}, []string{"job", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "farmledger_job_duration_seconds",
			Help:    "Job run duration.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "farmledger_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		}, []string{"job"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmledger_sweep_events_total",
			Help: "Events the retry sweeper processed, by outcome.",
		}, []string{"outcome"}),
		imbalances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmledger_ledger_imbalances_total",
			Help: "Trial balance integrity failures per tenant.",
		}, []string{"tenant"}),
	}
	if registerer != nil {
		registerer.MustRegister(m.runs, m.duration, m.lastSuccess, m.swept, m.imbalances)
	}
	return m
}

// Tracker times one job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run outcome and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	m := t.metrics
	m.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	if err != nil {
		m.runs.WithLabelValues(t.job, "failure").Inc()
		return err
	}
	m.runs.WithLabelValues(t.job, "success").Inc()
	m.lastSuccess.WithLabelValues(t.job).SetToCurrentTime()
	return nil
}

// AddSwept counts events picked up by the retry sweeper.
func (m *Metrics) AddSwept(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.swept.WithLabelValues(outcome).Add(float64(count))
}

// AddImbalance records a tenant whose trial balance failed the integrity check.
func (m *Metrics) AddImbalance(tenantID string) {
	if m == nil {
		return
	}
	if tenantID == "" {
		tenantID = "unknown"
	}
	m.imbalances.WithLabelValues(tenantID).Inc()
}
