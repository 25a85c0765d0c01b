// Package metrics exposes the bot's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered on a private registry
type Metrics struct {
	registry *prometheus.Registry

	jobs       *prometheus.CounterVec
	attempts   *prometheus.CounterVec
	retries    *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	replies    *prometheus.CounterVec
	inFlight   prometheus.Gauge
	submission *prometheus.CounterVec
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lapis",
			Name:      "jobs_total",
			Help:      "Mirror jobs by terminal state.",
		}, []string{"state"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lapis",
			Name:      "plugin_attempts_total",
			Help:      "Fetch and upload attempts by plugin and outcome.",
		}, []string{"plugin", "operation", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lapis",
			Name:      "plugin_retries_total",
			Help:      "Retries scheduled after a transient failure.",
		}, []string{"plugin", "operation"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lapis",
			Name:      "plugin_attempt_duration_seconds",
			Help:      "Duration of fetch and upload attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"plugin", "operation"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lapis",
			Name:      "replies_total",
			Help:      "Replies posted or dropped.",
		}, []string{"outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lapis",
			Name:      "jobs_in_flight",
			Help:      "Jobs currently running.",
		}),
		submission: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lapis",
			Name:      "submissions_total",
			Help:      "Submissions read from the source by intake decision.",
		}, []string{"decision"}),
	}

	m.registry.MustRegister(
		m.jobs, m.attempts, m.retries, m.durations, m.replies, m.inFlight, m.submission,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// JobFinished counts a job reaching a terminal state
func (m *Metrics) JobFinished(state string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(state).Inc()
}

// Attempt records one fetch or upload attempt
func (m *Metrics) Attempt(plugin, operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.attempts.WithLabelValues(plugin, operation, outcome).Inc()
	m.durations.WithLabelValues(plugin, operation).Observe(elapsed.Seconds())
}

// Retry counts a retry scheduled after a transient failure
func (m *Metrics) Retry(plugin, operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(plugin, operation).Inc()
}

// Reply counts a reply outcome: posted, dropped or skipped
func (m *Metrics) Reply(outcome string) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(outcome).Inc()
}

// Submission counts an intake decision: accepted, seen, in_flight or replied
func (m *Metrics) Submission(decision string) {
	if m == nil {
		return
	}
	m.submission.WithLabelValues(decision).Inc()
}

// JobStarted increments the in-flight gauge
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// JobDone decrements the in-flight gauge
func (m *Metrics) JobDone() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}
