package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	RelayChunks       *prometheus.CounterVec
	RelaySubscribers  prometheus.Gauge
	ProviderErrors    *prometheus.CounterVec
	Turns             *prometheus.CounterVec
	TurnStageLatency  *prometheus.HistogramVec
	TTSVoiceFallbacks prometheus.Counter

	registry *prometheus.Registry
	window   *latencyWindow
}

// NewMetrics registers instruments on a private registry so several instances
// (tests, embedded servers) can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of meetings with a live voice session.",
		}),
		SessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		RelayChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_chunks_total",
			Help:      "Audio chunks published to the relay by delivery result.",
		}, []string{"result"}),
		RelaySubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_subscribers",
			Help:      "Live audio relay subscribers across all meetings.",
		}),
		ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Assistant turns by outcome.",
		}, []string{"outcome"}),
		TurnStageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_latency_ms",
			Help:      "Latency of each turn stage in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}, []string{"stage"}),
		TTSVoiceFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_voice_fallbacks_total",
			Help:      "Voices skipped because of permission or plan rejections.",
		}),
		registry: reg,
		window:   newLatencyWindow(256),
	}
	reg.MustRegister(
		m.ActiveSessions,
		m.SessionEvents,
		m.RelayChunks,
		m.RelaySubscribers,
		m.ProviderErrors,
		m.Turns,
		m.TurnStageLatency,
		m.TTSVoiceFallbacks,
	)
	return m
}

func (m *Metrics) ObserveTurnStage(stage string, d time.Duration) {
	if m == nil || d < 0 {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.TurnStageLatency.WithLabelValues(stage).Observe(ms)
	m.window.record(stage, d)
}

// ObserveTurnOutcome counts a finished turn by its end reason and whether
// the reply reached the room.
func (m *Metrics) ObserveTurnOutcome(reason string, delivered bool) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(reason).Inc()
	m.window.recordTurn(reason, delivered)
}

func (m *Metrics) ObserveProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) ObserveRelayChunk(result string) {
	if m == nil {
		return
	}
	m.RelayChunks.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) LatencyReport() LatencyReport {
	return m.window.report()
}

func (m *Metrics) ResetLatency() {
	m.window.reset()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
