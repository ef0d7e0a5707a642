package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const namespace = "fwingest"

// Collector exposes the pipeline state to Prometheus. The JSONL metrics
// stream stays the record of truth; these series mirror it.
type Collector struct {
	// Pipeline metrics, mirrored from snapshots
	PipelineTotals *prometheus.GaugeVec
	PipelineRates  *prometheus.GaugeVec

	// Active file metrics
	ActiveFileSize   prometheus.Gauge
	ActiveReadOffset prometheus.Gauge
	ActiveLag        prometheus.Gauge

	// Parser metrics
	ParseFailures *prometheus.CounterVec

	// Source metrics
	RotatedFilesCompleted prometheus.Counter
	ActiveRotations       prometheus.Counter
	ActiveTruncations     prometheus.Counter

	// Sink metrics
	SinkWriteDuration *prometheus.HistogramVec
	SinkWriteFailures *prometheus.CounterVec

	// Checkpoint metrics
	CheckpointFlushDuration prometheus.Histogram
	CheckpointLastFlush     prometheus.Gauge

	// System metrics
	SystemGoroutines prometheus.Gauge
	SystemMemAlloc   prometheus.Gauge

	registry *prometheus.Registry
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
	}

	c.initPipelineMetrics()
	c.initSourceMetrics()
	c.initSinkMetrics()
	c.initCheckpointMetrics()
	c.initSystemMetrics()

	return c
}

func (c *Collector) initPipelineMetrics() {
	c.PipelineTotals = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "counter_total",
			Help:      "Cumulative pipeline counters as of the last snapshot",
		},
		[]string{"counter"},
	)

	c.PipelineRates = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "rate_per_second",
			Help:      "Per-second rates over the last snapshot interval",
		},
		[]string{"counter"},
	)

	c.ParseFailures = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "failures_total",
			Help:      "Lines dead-lettered by the parser",
		},
		[]string{"reason"},
	)
}

func (c *Collector) initSourceMetrics() {
	c.ActiveFileSize = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "active",
			Name:      "file_size_bytes",
			Help:      "Size of the active file",
		},
	)

	c.ActiveReadOffset = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "active",
			Name:      "read_offset_bytes",
			Help:      "Checkpointed read offset in the active file",
		},
	)

	c.ActiveLag = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "active",
			Name:      "lag_bytes",
			Help:      "Unread bytes in the active file",
		},
	)

	c.RotatedFilesCompleted = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "rotated_files_completed_total",
			Help:      "Rotated files fully drained",
		},
	)

	c.ActiveRotations = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "active_rotations_total",
			Help:      "Inode changes observed on the active file",
		},
	)

	c.ActiveTruncations = promauto.With(c.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "active_truncations_total",
			Help:      "In-place truncations of the active file",
		},
	)
}

func (c *Collector) initSinkMetrics() {
	c.SinkWriteDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "write_duration_seconds",
			Help:      "Append latency including fsync",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~800ms
		},
		[]string{"kind"},
	)

	c.SinkWriteFailures = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "write_failures_total",
			Help:      "Records that could not be persisted",
		},
		[]string{"kind"},
	)
}

func (c *Collector) initCheckpointMetrics() {
	c.CheckpointFlushDuration = promauto.With(c.registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "flush_duration_seconds",
			Help:      "Checkpoint save latency including retries",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)

	c.CheckpointLastFlush = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful checkpoint flush",
		},
	)
}

func (c *Collector) initSystemMetrics() {
	c.SystemGoroutines = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "goroutines_total",
			Help:      "Current number of goroutines",
		},
	)

	c.SystemMemAlloc = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_allocated_bytes",
			Help:      "Bytes of allocated heap objects",
		},
	)
}

// ObserveSnapshot mirrors a metrics record into the gauges
func (c *Collector) ObserveSnapshot(s Snapshot) {
	totals := map[string]int64{
		"lines_in":        s.LinesInTotal,
		"bytes_in":        s.BytesInTotal,
		"events_out":      s.EventsOutTotal,
		"dlq_out":         s.DLQOutTotal,
		"parse_fail":      s.ParseFailTotal,
		"write_fail":      s.WriteFailTotal,
		"checkpoint_fail": s.CheckpointFailTotal,
	}
	for name, v := range totals {
		c.PipelineTotals.WithLabelValues(name).Set(float64(v))
	}

	rates := map[string]float64{
		"lines_in":   s.LinesInPerSec,
		"bytes_in":   s.BytesInPerSec,
		"events_out": s.EventsOutPerSec,
		"dlq_out":    s.DLQOutPerSec,
		"parse_fail": s.ParseFailPerSec,
	}
	for name, v := range rates {
		c.PipelineRates.WithLabelValues(name).Set(v)
	}

	c.ActiveReadOffset.Set(float64(s.ActiveReadOffsetBytes))
	if s.ActiveFileSizeBytes != nil {
		c.ActiveFileSize.Set(float64(*s.ActiveFileSizeBytes))
	}
	if s.ActiveLagBytes != nil {
		c.ActiveLag.Set(float64(*s.ActiveLagBytes))
	}

	c.collectSystemMetrics()
}

// ObserveSinkWrite records one append attempt
func (c *Collector) ObserveSinkWrite(kind string, d time.Duration, err error) {
	c.SinkWriteDuration.WithLabelValues(kind).Observe(d.Seconds())
	if err != nil {
		c.SinkWriteFailures.WithLabelValues(kind).Inc()
	}
}

// ObserveCheckpointFlush records one flush; successful flushes update the
// last-success timestamp
func (c *Collector) ObserveCheckpointFlush(at time.Time, d time.Duration, err error) {
	c.CheckpointFlushDuration.Observe(d.Seconds())
	if err == nil {
		c.CheckpointLastFlush.Set(float64(at.Unix()))
	}
}

// collectSystemMetrics gathers runtime metrics
func (c *Collector) collectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.SystemGoroutines.Set(float64(runtime.NumGoroutine()))
	c.SystemMemAlloc.Set(float64(m.Alloc))
}

// Registry returns the Prometheus registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
