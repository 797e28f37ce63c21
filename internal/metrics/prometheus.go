package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the capture pipeline
type Metrics struct {
	registry *prometheus.Registry

	// Capture metrics
	BlocksCaptured prometheus.Counter
	DeviceOverruns prometheus.Counter

	// Ducking metrics
	DuckingActive      prometheus.Gauge
	DuckingTransitions prometheus.Counter
	RemoteLevelDB      prometheus.Gauge

	// Queue metrics
	QueueDepth    *prometheus.GaugeVec
	FramesDropped *prometheus.CounterVec

	// Transcription metrics
	TranscriptEvents *prometheus.CounterVec
	WorkersActive    prometheus.Gauge

	// Persistence metrics
	ChunksPersisted     *prometheus.CounterVec
	PersistenceFailures prometheus.Counter

	// Dispatch metrics
	Dispatches       *prometheus.CounterVec
	DispatchDuration prometheus.Histogram
}

// NewMetrics creates all metrics on a private registry, so several
// pipelines (or tests) can live in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		BlocksCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "sidechain_blocks_captured_total",
			Help: "Total number of audio blocks read from the source",
		}),
		DeviceOverruns: factory.NewCounter(prometheus.CounterOpts{
			Name: "sidechain_device_overruns_total",
			Help: "Total number of device periods dropped because the reader fell behind",
		}),

		DuckingActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sidechain_ducking_active",
			Help: "1 while the local channel is being ducked",
		}),
		DuckingTransitions: factory.NewCounter(prometheus.CounterOpts{
			Name: "sidechain_ducking_transitions_total",
			Help: "Total number of ducking on/off transitions",
		}),
		RemoteLevelDB: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sidechain_remote_level_ema_db",
			Help: "Smoothed remote channel level in dBFS",
		}),

		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sidechain_queue_depth",
			Help: "Current number of frames waiting in a channel queue",
		}, []string{"channel"}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sidechain_frames_dropped_total",
			Help: "Frames not delivered because the channel worker has stopped",
		}, []string{"channel"}),

		TranscriptEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sidechain_transcript_events_total",
			Help: "Transcript events received from the transcription service",
		}, []string{"channel", "final"}),
		WorkersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sidechain_stream_workers_active",
			Help: "Current number of running stream workers",
		}),

		ChunksPersisted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sidechain_chunks_persisted_total",
			Help: "Chunks written to the store",
		}, []string{"type"}),
		PersistenceFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "sidechain_persistence_failures_total",
			Help: "Chunks that could not be written to the store",
		}),

		Dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sidechain_dispatches_total",
			Help: "Backend dispatches by result",
		}, []string{"result"}),
		DispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sidechain_dispatch_duration_seconds",
			Help:    "Duration of backend dispatch calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
	}
}

// Handler returns the HTTP handler serving this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordBlock increments the captured blocks counter
func (m *Metrics) RecordBlock() {
	m.BlocksCaptured.Inc()
}

// RecordOverruns adds device overruns
func (m *Metrics) RecordOverruns(n int) {
	if n > 0 {
		m.DeviceOverruns.Add(float64(n))
	}
}

// RecordDucking records the ducking state after one block
func (m *Metrics) RecordDucking(active, changed bool, emaDB float64) {
	if active {
		m.DuckingActive.Set(1)
	} else {
		m.DuckingActive.Set(0)
	}
	if changed {
		m.DuckingTransitions.Inc()
	}
	m.RemoteLevelDB.Set(emaDB)
}

// SetQueueDepth sets the current depth of a channel queue
func (m *Metrics) SetQueueDepth(channel, depth int) {
	m.QueueDepth.WithLabelValues(strconv.Itoa(channel)).Set(float64(depth))
}

// RecordFrameDropped increments the dropped frames counter for a channel
func (m *Metrics) RecordFrameDropped(channel int) {
	m.FramesDropped.WithLabelValues(strconv.Itoa(channel)).Inc()
}

// RecordTranscriptEvent counts one event from the transcription service
func (m *Metrics) RecordTranscriptEvent(channel int, final bool) {
	m.TranscriptEvents.WithLabelValues(strconv.Itoa(channel), strconv.FormatBool(final)).Inc()
}

// WorkerStarted increments the active workers gauge
func (m *Metrics) WorkerStarted() {
	m.WorkersActive.Inc()
}

// WorkerStopped decrements the active workers gauge
func (m *Metrics) WorkerStopped() {
	m.WorkersActive.Dec()
}

// RecordChunkPersisted counts a chunk written to the store
func (m *Metrics) RecordChunkPersisted(chunkType string) {
	m.ChunksPersisted.WithLabelValues(chunkType).Inc()
}

// RecordPersistenceFailure counts a failed chunk write
func (m *Metrics) RecordPersistenceFailure() {
	m.PersistenceFailures.Inc()
}

// RecordDispatch records one backend dispatch
func (m *Metrics) RecordDispatch(success bool, durationSeconds float64) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.Dispatches.WithLabelValues(result).Inc()
	m.DispatchDuration.Observe(durationSeconds)
}
