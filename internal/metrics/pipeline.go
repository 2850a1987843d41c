// Package metrics provides Prometheus collectors for the spectrogram pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Processing stages used as the "stage" label of error counters.
const (
	StageCapture   = "capture"
	StageTransform = "transform"
	StagePush      = "push"
	StageExport    = "export"
)

// PipelineMetrics contains Prometheus metrics for one controller. All
// methods are safe on a nil receiver, which records nothing.
type PipelineMetrics struct {
	samplesCaptured prometheus.Counter
	blocksCaptured  prometheus.Counter
	ringOverrun     prometheus.Counter
	frameGaps       prometheus.Counter
	framesProcessed prometheus.Counter
	columnsEvicted  prometheus.Counter
	errors          *prometheus.CounterVec
	exports         *prometheus.CounterVec
	frameDuration   prometheus.Histogram
	ringFill        prometheus.Gauge
	columns         prometheus.Gauge
	running         prometheus.Gauge
	reconfigures    prometheus.Counter

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewPipelineMetrics creates the collectors and registers them with registry.
func NewPipelineMetrics(registry prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.samplesCaptured = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spectro_samples_captured_total",
		Help: "Mono samples written to the ring buffer",
	})
	m.blocksCaptured = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spectro_blocks_captured_total",
		Help: "Sample blocks received from the audio source",
	})
	m.ringOverrun = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spectro_ring_overrun_samples_total",
		Help: "Unread samples overwritten in the ring buffer",
	})
	m.frameGaps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spectro_frame_gaps_total",
		Help: "Discontinuities the frame extractor restarted after",
	})
	m.framesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spectro_frames_processed_total",
		Help: "Frames transformed into spectrogram columns",
	})
	m.columnsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spectro_columns_evicted_total",
		Help: "Columns evicted from the spectrogram buffer",
	})
	m.errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spectro_processing_errors_total",
		Help: "Errors by pipeline stage",
	}, []string{"stage"})
	m.exports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spectro_exports_total",
		Help: "Export requests by kind and status",
	}, []string{"kind", "status"})
	m.frameDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "spectro_frame_processing_seconds",
		Help:    "Time to transform and store one frame",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14), // 10µs to ~160ms
	})
	m.ringFill = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spectro_ring_unread_ratio",
		Help: "Unread samples as a fraction of ring capacity",
	})
	m.columns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spectro_spectrogram_columns",
		Help: "Columns currently retained",
	})
	m.running = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spectro_pipeline_running",
		Help: "1 while a session is running",
	})
	m.reconfigures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spectro_reconfigurations_total",
		Help: "Configuration changes applied by the processing loop",
	})

	m.collectors = []prometheus.Collector{
		m.samplesCaptured, m.blocksCaptured, m.ringOverrun, m.frameGaps,
		m.framesProcessed, m.columnsEvicted, m.errors, m.exports,
		m.frameDuration, m.ringFill, m.columns, m.running, m.reconfigures,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// RecordCapture counts one block of n mono samples.
func (m *PipelineMetrics) RecordCapture(n int) {
	if m == nil {
		return
	}
	m.blocksCaptured.Inc()
	m.samplesCaptured.Add(float64(n))
}

// AddOverrun counts unread samples lost to ring overwrite.
func (m *PipelineMetrics) AddOverrun(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ringOverrun.Add(float64(n))
}

// AddGaps counts extractor restarts.
func (m *PipelineMetrics) AddGaps(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.frameGaps.Add(float64(n))
}

// RecordFrame counts one processed frame and its processing time.
func (m *PipelineMetrics) RecordFrame(seconds float64) {
	if m == nil {
		return
	}
	m.framesProcessed.Inc()
	m.frameDuration.Observe(seconds)
}

// AddEvicted counts evicted columns.
func (m *PipelineMetrics) AddEvicted(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.columnsEvicted.Add(float64(n))
}

// RecordError counts an error at stage.
func (m *PipelineMetrics) RecordError(stage string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(stage).Inc()
}

// RecordExport counts an export of kind ("audio" or "spectrogram").
func (m *PipelineMetrics) RecordExport(kind string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.exports.WithLabelValues(kind, status).Inc()
}

// RecordReconfigure counts a configuration change taking effect.
func (m *PipelineMetrics) RecordReconfigure() {
	if m == nil {
		return
	}
	m.reconfigures.Inc()
}

// SetBuffers updates the ring fill ratio and retained column count.
func (m *PipelineMetrics) SetBuffers(unread, capacity, columns int) {
	if m == nil {
		return
	}
	if capacity > 0 {
		m.ringFill.Set(float64(unread) / float64(capacity))
	}
	m.columns.Set(float64(columns))
}

// SetRunning flips the running gauge.
func (m *PipelineMetrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.running.Set(1)
	} else {
		m.running.Set(0)
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
