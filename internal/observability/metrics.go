package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "crop_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for a processing run.
type Metrics struct {
	ParcelsLoaded    prometheus.Counter
	ParcelsProcessed prometheus.Counter
	ParcelsSkipped   *prometheus.CounterVec // labels: reason={insufficient_data,malformed_record,worker_failure,other}
	WorkerFailures   prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Simulation and output metrics.
	SimulationCache *prometheus.CounterVec // labels: result={hit,miss}
	SinkWrites      *prometheus.CounterVec // labels: sink, outcome={success,error}
	RunDuration     prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates the metrics and registers them with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(
		m.ParcelsLoaded,
		m.ParcelsProcessed,
		m.ParcelsSkipped,
		m.WorkerFailures,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.SimulationCache,
		m.SinkWrites,
		m.RunDuration,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ParcelsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parcels_loaded_total",
			Help:      "Total parcels read from the observation table.",
		}),
		ParcelsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parcels_processed_total",
			Help:      "Total parcels with detected indices and features.",
		}),
		ParcelsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parcels_skipped_total",
			Help:      "Parcels excluded from indices and features, by reason.",
		}, []string{"reason"}),
		WorkerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_failures_total",
			Help:      "Work items that failed unexpectedly.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of parcels per work item.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of processing one parcel batch.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		SimulationCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulation_cache_total",
			Help:      "Growth simulation cache lookups by result.",
		}, []string{"result"}),
		SinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_writes_total",
			Help:      "Result writes per sink and outcome.",
		}, []string{"sink", "outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete processing run.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
	}
}

// CacheHit records a simulation served from the cache.
func (m *Metrics) CacheHit() { m.SimulationCache.WithLabelValues("hit").Inc() }

// CacheMiss records a simulation that had to be computed.
func (m *Metrics) CacheMiss() { m.SimulationCache.WithLabelValues("miss").Inc() }
