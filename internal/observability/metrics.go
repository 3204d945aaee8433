package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SlidesShown         *prometheus.CounterVec
	DwellResolutions    *prometheus.CounterVec
	LoopGeneration      prometheus.Gauge
	VoiceTransitions    *prometheus.CounterVec
	VoiceSessionsActive prometheus.Gauge
	QueryLatency        prometheus.Histogram
	FetchErrors         *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	RendererClients     prometheus.Gauge
	EventsPublished     *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SlidesShown: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slides_shown_total",
			Help:      "Slides made visible by media kind.",
		}, []string{"kind"}),
		DwellResolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dwell_resolutions_total",
			Help:      "Dwell completions by reason.",
		}, []string{"reason"}),
		LoopGeneration: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "presentation_generation",
			Help:      "Current presentation loop generation.",
		}),
		VoiceTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_transitions_total",
			Help:      "Voice session state transitions.",
		}, []string{"from", "to"}),
		VoiceSessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voice_session_active",
			Help:      "1 while a voice session is outside Idle.",
		}),
		QueryLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_latency_ms",
			Help:      "Backend query round trip in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000},
		}),
		FetchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Backend fetch failures by operation.",
		}, []string{"op"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Renderer websocket messages by direction and type.",
		}, []string{"direction", "type"}),
		RendererClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "renderer_clients",
			Help:      "Connected renderer websocket clients.",
		}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Kiosk events published to the event bus by subject and result.",
		}, []string{"subject", "result"}),
	}
}

func (m *Metrics) ObserveSlide(kind string) {
	if m == nil {
		return
	}
	m.SlidesShown.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveDwell(reason string) {
	if m == nil {
		return
	}
	m.DwellResolutions.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetGeneration(gen uint64) {
	if m == nil {
		return
	}
	m.LoopGeneration.Set(float64(gen))
}

func (m *Metrics) ObserveVoiceTransition(from, to string, active bool) {
	if m == nil {
		return
	}
	m.VoiceTransitions.WithLabelValues(from, to).Inc()
	if active {
		m.VoiceSessionsActive.Set(1)
	} else {
		m.VoiceSessionsActive.Set(0)
	}
}

func (m *Metrics) ObserveQueryLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.QueryLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveFetchError(op string) {
	if m == nil {
		return
	}
	m.FetchErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) SetRendererClients(n int) {
	if m == nil {
		return
	}
	m.RendererClients.Set(float64(n))
}

func (m *Metrics) ObservePublish(subject, result string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(subject, result).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
