// Package metrics holds the Prometheus collectors shared by the engine client,
// the batch orchestrator and the API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "simplui"

var (
	// JobSubmissions counts POST /prompt calls by result ("ok", "error").
	JobSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "job_submissions_total",
			Help:      "Jobs submitted to the generation engine",
		}, []string{"result"})
	// StreamEvents counts decoded stream events by kind.
	StreamEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "stream_events_total",
			Help:      "Generation events received from the engine",
		}, []string{"kind"})
	// ControlSignals counts best-effort interrupt and clear-queue calls.
	ControlSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "control_signals_total",
			Help:      "Interrupt and clear-queue signals sent to the engine",
		}, []string{"signal", "result"})

	// Batches counts finished batches by outcome ("completed", "stopped", "failed").
	Batches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "finished_total",
			Help:      "Finished batches by outcome",
		}, []string{"outcome"})
	// Iterations counts finished iterations by outcome ("completed", "skipped").
	Iterations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "iterations_total",
			Help:      "Finished batch iterations by outcome",
		}, []string{"outcome"})
	IterationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "iteration_duration_seconds",
			Help:      "Wall time of completed iterations",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		})
	ActiveBatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "active",
			Help:      "Batches currently running",
		})

	Sessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "sessions",
			Help:      "Open generation sessions",
		})
	// DomainEvents counts emitted domain events by name.
	DomainEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Domain events emitted",
		}, []string{"name"})
	DroppedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events not delivered to a subscriber whose buffer was full",
		})
)

// InitMetrics registers all collectors with registry.
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(JobSubmissions)
	registry.MustRegister(StreamEvents)
	registry.MustRegister(ControlSignals)
	registry.MustRegister(Batches)
	registry.MustRegister(Iterations)
	registry.MustRegister(IterationDuration)
	registry.MustRegister(ActiveBatches)
	registry.MustRegister(Sessions)
	registry.MustRegister(DomainEvents)
	registry.MustRegister(DroppedEvents)
}

// NewRegistry returns a registry holding the process and Go collectors plus
// every collector of this package.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	InitMetrics(registry)
	return registry
}
