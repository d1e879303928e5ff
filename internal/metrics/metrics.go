// Package metrics exposes session activity as Prometheus metrics.
package metrics

import (
	"errors"
	"net/http"

	"github.com/audiolibrelab/jamdeck/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for jamdeck
type Metrics struct {
	registry *prometheus.Registry

	// Session state
	Recording   prometheus.Gauge
	Playing     prometheus.Gauge
	VolumeScale prometheus.Gauge
	InputLevel  prometheus.Gauge

	// Recording metrics
	FramesWritten     prometheus.Gauge
	RecordingsStarted prometheus.Counter

	// Playback metrics
	ItemsStarted   prometheus.Counter
	PlaylistLength prometheus.Gauge

	// Errors and transitions
	SessionErrors *prometheus.CounterVec
	Transitions   *prometheus.CounterVec

	// Encoder metrics
	EncodedBytes prometheus.Counter
	EncodeErrors prometheus.Counter

	lastRecording bool
	lastCurrent   string
	lastPlaying   bool
}

// New creates and registers all metrics on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Recording: f.NewGauge(prometheus.GaugeOpts{
			Name: "jamdeck_recording",
			Help: "1 while a recording is in progress",
		}),
		Playing: f.NewGauge(prometheus.GaugeOpts{
			Name: "jamdeck_playing",
			Help: "1 while playback is audible",
		}),
		VolumeScale: f.NewGauge(prometheus.GaugeOpts{
			Name: "jamdeck_volume_scale",
			Help: "Current playback volume scale",
		}),
		InputLevel: f.NewGauge(prometheus.GaugeOpts{
			Name: "jamdeck_input_level",
			Help: "Last capture level (0-100)",
		}),
		FramesWritten: f.NewGauge(prometheus.GaugeOpts{
			Name: "jamdeck_frames_written",
			Help: "Frames written by the current or last recording",
		}),
		RecordingsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "jamdeck_recordings_started_total",
			Help: "Total number of recordings started",
		}),
		ItemsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "jamdeck_playback_items_started_total",
			Help: "Total number of playlist items started",
		}),
		PlaylistLength: f.NewGauge(prometheus.GaugeOpts{
			Name: "jamdeck_playlist_length",
			Help: "Number of items in the current playlist",
		}),
		SessionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jamdeck_session_errors_total",
			Help: "Session errors by kind",
		}, []string{"kind"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "jamdeck_state_changes_total",
			Help: "State change notifications by cause",
		}, []string{"cause"}),
		EncodedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "jamdeck_encoded_bytes_total",
			Help: "Total bytes written to WAV containers",
		}),
		EncodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "jamdeck_encode_errors_total",
			Help: "Total number of failed encodes",
		}),
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe updates the metrics from a state-changed notification. It must be
// called from a single goroutine.
func (m *Metrics) Observe(snap session.Snapshot) {
	m.Recording.Set(boolGauge(snap.IsRecording))
	m.Playing.Set(boolGauge(snap.IsPlaying))
	m.VolumeScale.Set(snap.VolumeScale)
	m.InputLevel.Set(float64(snap.Level))
	m.FramesWritten.Set(float64(snap.FramesWritten))
	m.PlaylistLength.Set(float64(snap.PlaylistLen))

	if snap.IsRecording && !m.lastRecording {
		m.RecordingsStarted.Inc()
	}
	if snap.IsPlaying && (!m.lastPlaying || snap.Current != m.lastCurrent) {
		m.ItemsStarted.Inc()
	}
	m.lastRecording = snap.IsRecording
	m.lastPlaying = snap.IsPlaying
	m.lastCurrent = snap.Current

	if snap.Cause != "" && snap.Cause != "level" {
		m.Transitions.WithLabelValues(snap.Cause).Inc()
	}
	if snap.Err != nil {
		m.SessionErrors.WithLabelValues(errorKind(snap.Err)).Inc()
	}
}

// ObserveEncode records the outcome of one encode
func (m *Metrics) ObserveEncode(bytes int64, err error) {
	if err != nil {
		m.EncodeErrors.Inc()
		return
	}
	m.EncodedBytes.Add(float64(bytes))
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, session.ErrFocusDenied):
		return "focus_denied"
	case errors.Is(err, session.ErrDeviceInit):
		return "device_init"
	case errors.Is(err, session.ErrCaptureRead):
		return "capture_read"
	case errors.Is(err, session.ErrPreparationFailed):
		return "preparation_failed"
	default:
		return "other"
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
