package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, gauges, and histograms for the hub.
type Metrics struct {
	FetchCycles         prometheus.Counter
	FetchFailures       prometheus.Counter
	CyclesSkipped       prometheus.Counter
	ConsecutiveFailures prometheus.Gauge
	Connected           prometheus.Gauge
	CycleDuration       prometheus.Histogram

	// Normalization data-quality metrics.
	ReadingsNormalized prometheus.Counter
	ReadingsDropped    prometheus.Counter
	ClockFallbacks     prometheus.Counter

	// Merge and alert metrics.
	ReadingsMerged prometheus.Counter
	AlertsEmitted  prometheus.Counter

	// Fan-out and side-channel metrics.
	Subscribers       prometheus.Gauge
	BrokerReadings    *prometheus.CounterVec // labels: transport={kafka,mqtt}
	CachePersistError prometheus.Counter
}

// NewMetrics creates and registers all hub metrics with the default Prometheus
// registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FetchCycles,
		m.FetchFailures,
		m.CyclesSkipped,
		m.ConsecutiveFailures,
		m.Connected,
		m.CycleDuration,
		m.ReadingsNormalized,
		m.ReadingsDropped,
		m.ClockFallbacks,
		m.ReadingsMerged,
		m.AlertsEmitted,
		m.Subscribers,
		m.BrokerReadings,
		m.CachePersistError,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FetchCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aq_hub",
			Name:      "fetch_cycles_total",
			Help:      "Total snapshot fetch cycles, successful or not.",
		}),
		FetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aq_hub",
			Name:      "fetch_failures_total",
			Help:      "Total fetch cycles that failed before merging.",
		}),
		CyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aq_hub",
			Name:      "cycles_skipped_total",
			Help:      "Ticks skipped because the previous fetch was still in flight.",
		}),
		ConsecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aq_hub",
			Name:      "consecutive_fetch_failures",
			Help:      "Fetch failures since the last successful cycle.",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aq_hub",
			Name:      "backend_connected",
			Help:      "1 when the last fetch cycle succeeded, 0 otherwise.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aq_hub",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete normalize-classify-merge-publish cycle.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),
		ReadingsNormalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aq_hub",
			Name:      "readings_normalized_total",
			Help:      "Readings successfully normalized from snapshots.",
		}),
		ReadingsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aq_hub",
			Name:      "readings_dropped_total",
			Help:      "Readings dropped during normalization (no coordinate or undecodable).",
		}),
		ClockFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aq_hub",
			Name:      "clock_fallbacks_total",
			Help:      "Readings stamped with ingestion time for lack of a usable timestamp.",
		}),
		ReadingsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aq_hub",
			Name:      "readings_merged_total",
			Help:      "Readings inserted into or replacing entries in the merged state.",
		}),
		AlertsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aq_hub",
			Name:      "alerts_emitted_total",
			Help:      "Alerts appended to the rolling alert log.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aq_hub",
			Name:      "subscribers",
			Help:      "Currently registered snapshot subscribers.",
		}),
		BrokerReadings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aq_hub",
			Name:      "broker_readings_total",
			Help:      "Readings ingested directly from contributor brokers, by transport.",
		}, []string{"transport"}),
		CachePersistError: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aq_hub",
			Name:      "cache_persist_errors_total",
			Help:      "Failed attempts to persist the chart window.",
		}),
	}
}
