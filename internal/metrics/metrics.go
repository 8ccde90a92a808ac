// Package metrics exposes Prometheus metrics for campaignd.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for campaignd
type Metrics struct {
	// Dispatch counters
	DispatchesTotal       *prometheus.CounterVec
	DispatchFailuresTotal *prometheus.CounterVec

	// Campaign lifecycle
	TransitionsTotal *prometheus.CounterVec
	SendsBlockedTotal prometheus.Counter

	// Task store gauges
	TasksPending prometheus.Gauge
	TasksRunning prometheus.Gauge

	// Analytics
	EventsRecordedTotal *prometheus.CounterVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		DispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaignd_dispatches_total",
				Help: "Total number of messages handed to a delivery channel",
			},
			[]string{"channel"},
		),
		DispatchFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaignd_dispatch_failures_total",
				Help: "Total number of per-recipient dispatch failures",
			},
			[]string{"channel"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaignd_transitions_total",
				Help: "Total number of campaign status transitions",
			},
			[]string{"to"},
		),
		SendsBlockedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "campaignd_sends_blocked_total",
				Help: "Total number of sends stopped by pre-send validation",
			},
		),
		TasksPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "campaignd_tasks_pending",
				Help: "Number of queued dispatch and winner tasks",
			},
		),
		TasksRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "campaignd_tasks_running",
				Help: "Number of tasks currently being executed",
			},
		),
		EventsRecordedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaignd_events_recorded_total",
				Help: "Total number of engagement events recorded",
			},
			[]string{"kind"},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaignd_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "campaignd_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaignd_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.DispatchesTotal,
		m.DispatchFailuresTotal,
		m.TransitionsTotal,
		m.SendsBlockedTotal,
		m.TasksPending,
		m.TasksRunning,
		m.EventsRecordedTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
	)

	return m
}

// Registry returns the metrics registry for the /metrics endpoint
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance, or nil if not set
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncDispatches increments the dispatch counter for a channel
func IncDispatches(channel string) {
	if m := Global(); m != nil {
		m.DispatchesTotal.WithLabelValues(channel).Inc()
	}
}

// IncDispatchFailures increments the dispatch failure counter for a channel
func IncDispatchFailures(channel string) {
	if m := Global(); m != nil {
		m.DispatchFailuresTotal.WithLabelValues(channel).Inc()
	}
}

// IncTransitions increments the transition counter
func IncTransitions(to string) {
	if m := Global(); m != nil {
		m.TransitionsTotal.WithLabelValues(to).Inc()
	}
}

// IncSendsBlocked increments the blocked-send counter
func IncSendsBlocked() {
	if m := Global(); m != nil {
		m.SendsBlockedTotal.Inc()
	}
}

// IncEventsRecorded increments the recorded-event counter
func IncEventsRecorded(kind string) {
	if m := Global(); m != nil {
		m.EventsRecordedTotal.WithLabelValues(kind).Inc()
	}
}

// SetTaskCounts updates the task store gauges
func SetTaskCounts(pending, running int64) {
	if m := Global(); m != nil {
		m.TasksPending.Set(float64(pending))
		m.TasksRunning.Set(float64(running))
	}
}
