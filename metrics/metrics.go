// Package metrics exposes voice session measurements to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joan6141318-ai/Moon-sub000/voice"
)

const namespace = "moon"

// Metrics contains all Prometheus metrics for the voice service.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	Transitions     *prometheus.CounterVec

	// Audio metrics
	ChunksSent      prometheus.Counter
	ChunksScheduled prometheus.Counter
	AudioScheduled  prometheus.Counter

	// Response metrics
	ResponseLatency prometheus.Histogram
	Errors          *prometheus.CounterVec

	// Intro cache metrics
	CacheLookups *prometheus.CounterVec

	// Connection metrics
	Connections prometheus.Gauge
}

// New creates and registers all metrics on a fresh registry, including the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Current number of live voice sessions",
		}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of voice sessions started",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of voice sessions ended, by final state",
		}, []string{"state"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Session state transitions",
		}, []string{"from", "to"}),

		ChunksSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_chunks_sent_total",
			Help:      "Microphone chunks handed to the remote session",
		}),
		ChunksScheduled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_chunks_scheduled_total",
			Help:      "Model audio fragments scheduled for playback",
		}),
		AudioScheduled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_audio_seconds_total",
			Help:      "Seconds of model audio scheduled for playback",
		}),

		ResponseLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_latency_seconds",
			Help:      "Time from end of user turn to first model audio",
			Buckets:   prometheus.ExponentialBuckets(0.1, 1.5, 12), // 100ms to ~8.6s
		}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Session errors by kind",
		}, []string{"kind"}),

		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intro_cache_lookups_total",
			Help:      "Intro cache lookups by result",
		}, []string{"result"}),

		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridge_connections",
			Help:      "Current number of browser connections",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ─────────────────────────────────────────────────────────────────────────────
// voice.Recorder
// ─────────────────────────────────────────────────────────────────────────────

var _ voice.Recorder = (*Metrics)(nil)

func (m *Metrics) SessionStarted() {
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionEnded(final voice.State) {
	m.SessionsEnded.WithLabelValues(final.String()).Inc()
	m.ActiveSessions.Dec()
}

func (m *Metrics) StateChanged(from, to voice.State) {
	m.Transitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) ChunkSent() {
	m.ChunksSent.Inc()
}

func (m *Metrics) ChunkScheduled(d time.Duration) {
	m.ChunksScheduled.Inc()
	m.AudioScheduled.Add(d.Seconds())
}

func (m *Metrics) ResponseLatency(d time.Duration) {
	m.ResponseLatency.Observe(d.Seconds())
}

func (m *Metrics) Error(kind string) {
	m.Errors.WithLabelValues(kind).Inc()
}

// CacheLookup records an intro cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}
