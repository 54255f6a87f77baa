// Package metrics provides Prometheus metrics for the oracle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the oracle's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Round metrics
	RoundsTotal   *prometheus.CounterVec
	RoundDuration prometheus.Histogram
	LocalHeight   prometheus.Gauge

	// Fetcher metrics
	FetchesTotal  *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	JobsQueued    *prometheus.CounterVec

	// Decoder metrics
	EntriesDecoded *prometheus.CounterVec

	// Ledger metrics
	Transitions *prometheus.CounterVec
	SwapCount   prometheus.Gauge

	// Scheduler metrics
	CheckpointBlock prometheus.Gauge
}

// New creates a Metrics instance registered on its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "swap_oracle"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RoundsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "rounds_total",
			Help:      "Total number of rounds by outcome",
		}, []string{"outcome"}),
		RoundDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "round_duration_seconds",
			Help:      "Duration of rounds that consumed a fetch job",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		LocalHeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "local_height",
			Help:      "Current local height",
		}),

		FetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetcher",
			Name:      "requests_total",
			Help:      "Total number of fetch requests by source kind and outcome",
		}, []string{"kind", "outcome"}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetcher",
			Name:      "request_duration_seconds",
			Help:      "Fetch request latency by source kind",
			Buckets:   prometheus.ExponentialBuckets(0.05, 3, 8),
		}, []string{"kind"}),
		JobsQueued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetcher",
			Name:      "jobs_queued_total",
			Help:      "Total number of kickoff calls by source kind",
		}, []string{"kind"}),

		EntriesDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decoder",
			Name:      "entries_total",
			Help:      "Total number of log entries by decode outcome",
		}, []string{"outcome"}),

		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "events_total",
			Help:      "Total number of applied or skipped events by kind",
		}, []string{"kind", "outcome"}),
		SwapCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "swap_count",
			Help:      "Number of distinct swaps that reached open",
		}),

		CheckpointBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "checkpoint_block",
			Help:      "Last remote block handed to the fetcher",
		}),
	}
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RoundOutcome(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.RoundsTotal.WithLabelValues(outcome).Inc()
	if seconds > 0 {
		m.RoundDuration.Observe(seconds)
	}
}

func (m *Metrics) SetLocalHeight(height uint64) {
	if m == nil {
		return
	}
	m.LocalHeight.Set(float64(height))
}

func (m *Metrics) FetchOutcome(kind, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(kind, outcome).Inc()
	m.FetchDuration.WithLabelValues(kind).Observe(seconds)
}

func (m *Metrics) JobQueued(kind string) {
	if m == nil {
		return
	}
	m.JobsQueued.WithLabelValues(kind).Inc()
}

func (m *Metrics) DecodeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.EntriesDecoded.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Transition(kind, outcome string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) SetSwapCount(count uint64) {
	if m == nil {
		return
	}
	m.SwapCount.Set(float64(count))
}

func (m *Metrics) SetCheckpoint(block uint64) {
	if m == nil {
		return
	}
	m.CheckpointBlock.Set(float64(block))
}
