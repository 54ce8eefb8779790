package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

// Namespace for all metrics
const namespace = "tflog"

// Collector provides a central place for all application metrics
type Collector struct {
	// Engine metrics
	EngineRuns              *prometheus.CounterVec
	EngineLines             *prometheus.CounterVec
	EngineRecords           *prometheus.CounterVec
	EngineParseErrors       *prometheus.CounterVec
	EngineGuessedTimestamps *prometheus.CounterVec
	EngineGuessedLevels     *prometheus.CounterVec
	EngineRecordsByPhase    *prometheus.CounterVec
	EngineRecordsByLevel    *prometheus.CounterVec
	EngineRunDuration       *prometheus.HistogramVec

	// Plugin metrics
	PluginCalls    *prometheus.CounterVec
	PluginDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	HTTPUploadBytes   prometheus.Counter
	HTTPRateLimited   prometheus.Counter
	HTTPUnauthorized  prometheus.Counter
	StoredRunsRecords prometheus.Gauge

	// Output metrics
	OutputRecordsSent   *prometheus.CounterVec
	OutputRecordsFailed *prometheus.CounterVec
	OutputDuration      *prometheus.HistogramVec

	// Worker pool metrics
	WorkerPoolSize    *prometheus.GaugeVec
	WorkerPoolJobs    *prometheus.CounterVec
	WorkerJobDuration *prometheus.HistogramVec

	// Dead letter queue metrics
	DLQRecordsWritten prometheus.Counter
	DLQSize           prometheus.Gauge

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec

	// Health metrics
	HealthStatus *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewCollector creates a new metrics collector on a private registry
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: registry,
	}

	c.initEngineMetrics()
	c.initPluginMetrics()
	c.initHTTPMetrics()
	c.initOutputMetrics()
	c.initWorkerPoolMetrics()
	c.initDLQMetrics()
	c.initCircuitBreakerMetrics()
	c.initHealthMetrics()

	return c
}

func (c *Collector) initEngineMetrics() {
	factory := promauto.With(c.registry)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      name,
			Help:      help,
		}, labels)
	}

	c.EngineRuns = counter("runs_total", "Total number of completed engine runs", "source", "status")
	c.EngineLines = counter("lines_total", "Total physical lines consumed", "source")
	c.EngineRecords = counter("records_total", "Total normalized records produced", "source")
	c.EngineParseErrors = counter("parse_errors_total", "Lines that were not well-formed JSON objects", "source")
	c.EngineGuessedTimestamps = counter("guessed_timestamps_total", "Records whose timestamp was found in free text", "source")
	c.EngineGuessedLevels = counter("guessed_levels_total", "Records whose level was found by keyword", "source")
	c.EngineRecordsByPhase = counter("records_by_phase_total", "Records by lifecycle phase", "phase")
	c.EngineRecordsByLevel = counter("records_by_level_total", "Records by severity level", "level")

	c.EngineRunDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "Duration of a full engine run",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		},
		[]string{"source"},
	)
}

func (c *Collector) initPluginMetrics() {
	c.PluginCalls = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plugin",
			Name:      "calls_total",
			Help:      "Aggregation plugin calls by outcome (ok, degraded, skipped)",
		},
		[]string{"outcome"},
	)

	c.PluginDuration = promauto.With(c.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "plugin",
			Name:      "call_duration_seconds",
			Help:      "Aggregation plugin call latency",
			Buckets:   prometheus.DefBuckets,
		},
	)
}

func (c *Collector) initHTTPMetrics() {
	c.HTTPRequests = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern and status code",
		},
		[]string{"route", "method", "code"},
	)

	c.HTTPDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	c.HTTPUploadBytes = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "upload_bytes_total",
			Help:      "Bytes of uploaded log files",
		},
	)

	c.HTTPRateLimited = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		},
	)

	c.HTTPUnauthorized = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "unauthorized_total",
			Help:      "Requests rejected for a missing or invalid API key",
		},
	)

	c.StoredRunsRecords = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "last_run_records",
			Help:      "Record count of the most recently stored run",
		},
	)
}

func (c *Collector) initOutputMetrics() {
	c.OutputRecordsSent = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "records_sent_total",
			Help:      "Records delivered by output",
		},
		[]string{"output_name", "output_type"},
	)

	c.OutputRecordsFailed = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "records_failed_total",
			Help:      "Records an output failed to deliver",
		},
		[]string{"output_name", "output_type"},
	)

	c.OutputDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "write_duration_seconds",
			Help:      "Time spent writing a batch to an output",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"output_name", "output_type"},
	)
}

func (c *Collector) initWorkerPoolMetrics() {
	c.WorkerPoolSize = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker_pool",
			Name:      "size",
			Help:      "Number of workers in the pool",
		},
		[]string{"pool_name"},
	)

	c.WorkerPoolJobs = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker_pool",
			Name:      "jobs_total",
			Help:      "Jobs processed by status",
		},
		[]string{"pool_name", "status"},
	)

	c.WorkerJobDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker_pool",
			Name:      "job_duration_seconds",
			Help:      "Job processing duration",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"pool_name"},
	)
}

func (c *Collector) initDLQMetrics() {
	c.DLQRecordsWritten = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dlq",
			Name:      "records_written_total",
			Help:      "Records written to the dead letter queue",
		},
	)

	c.DLQSize = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dlq",
			Name:      "batches",
			Help:      "Batches waiting in the dead letter queue",
		},
	)
}

func (c *Collector) initCircuitBreakerMetrics() {
	c.CircuitBreakerState = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)
}

func (c *Collector) initHealthMetrics() {
	c.HealthStatus = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health status of components (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)
}

// ObserveRun records the statistics of one finished run
func (c *Collector) ObserveRun(source string, stats types.RunStats, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	c.EngineRuns.WithLabelValues(source, status).Inc()
	c.EngineLines.WithLabelValues(source).Add(float64(stats.TotalLines))
	c.EngineRecords.WithLabelValues(source).Add(float64(stats.Records))
	c.EngineParseErrors.WithLabelValues(source).Add(float64(stats.ParseErrors))
	c.EngineGuessedTimestamps.WithLabelValues(source).Add(float64(stats.GuessedTimestamps))
	c.EngineGuessedLevels.WithLabelValues(source).Add(float64(stats.GuessedLevels))
	for phase, n := range stats.PhaseCounts {
		c.EngineRecordsByPhase.WithLabelValues(string(phase)).Add(float64(n))
	}
	for level, n := range stats.LevelCounts {
		c.EngineRecordsByLevel.WithLabelValues(level).Add(float64(n))
	}
	c.EngineRunDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

// SetCircuitBreakerState publishes a breaker state transition
func (c *Collector) SetCircuitBreakerState(name string, state int) {
	c.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Registry returns the Prometheus registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
