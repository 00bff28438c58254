package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the intake engine's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SessionsTotal    *prometheus.CounterVec
	SessionsActive   prometheus.Gauge
	SessionDuration  prometheus.Histogram
	ConnectionState  *prometheus.GaugeVec
	AudioBlocksSent  prometheus.Counter
	AudioBytesTotal  *prometheus.CounterVec
	PlaybackChunks   prometheus.Counter
	DecodeFailures   prometheus.Counter
	Interruptions    prometheus.Counter
	ToolCallsTotal   *prometheus.CounterVec
	TicketsPublished *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voice_intake"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Intake sessions by outcome",
		}, []string{"outcome"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Whether a live session is currently connected",
		}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Connected session duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise",
		}, []string{"state"}),
		AudioBlocksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_blocks_total",
			Help:      "Microphone blocks framed and queued for the live session",
		}),
		AudioBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "PCM bytes by direction",
		}, []string{"direction"}),
		PlaybackChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_chunks_total",
			Help:      "Decoded chunks scheduled for playback",
		}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Inbound audio chunks dropped because they could not be decoded",
		}),
		Interruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Playback flushes caused by user barge-in",
		}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by name and result",
		}, []string{"name", "result"}),
		TicketsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_recorded_total",
			Help:      "Ticket hand-offs by sink and result",
		}, []string{"sink", "result"}),
	}

	m.registry.MustRegister(
		m.SessionsTotal,
		m.SessionsActive,
		m.SessionDuration,
		m.ConnectionState,
		m.AudioBlocksSent,
		m.AudioBytesTotal,
		m.PlaybackChunks,
		m.DecodeFailures,
		m.Interruptions,
		m.ToolCallsTotal,
		m.TicketsPublished,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordSessionOutcome(outcome string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordConnected() {
	if m == nil {
		return
	}
	m.SessionsActive.Set(1)
}

func (m *Metrics) RecordDisconnected(connected time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(0)
	if connected > 0 {
		m.SessionDuration.Observe(connected.Seconds())
	}
}

// RecordState marks state as the only current connection state.
func (m *Metrics) RecordState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) RecordCaptureBlock(bytes int) {
	if m == nil {
		return
	}
	m.AudioBlocksSent.Inc()
	m.AudioBytesTotal.WithLabelValues("in").Add(float64(bytes))
}

func (m *Metrics) RecordPlaybackChunk(bytes int) {
	if m == nil {
		return
	}
	m.PlaybackChunks.Inc()
	m.AudioBytesTotal.WithLabelValues("out").Add(float64(bytes))
}

func (m *Metrics) RecordDecodeFailure() {
	if m == nil {
		return
	}
	m.DecodeFailures.Inc()
}

func (m *Metrics) RecordInterruption() {
	if m == nil {
		return
	}
	m.Interruptions.Inc()
}

func (m *Metrics) RecordToolCall(name, result string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(name, result).Inc()
}

func (m *Metrics) RecordTicketSink(sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.TicketsPublished.WithLabelValues(sink, result).Inc()
}
