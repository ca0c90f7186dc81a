package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	SynthesisRequests *prometheus.CounterVec
	SynthesisLatency  prometheus.Histogram
	InferenceLatency  prometheus.Histogram
	ModelLoads        *prometheus.CounterVec
	ModelUnloads      prometheus.Counter
	ModelReady        prometheus.Gauge
	CustomVoices      prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SynthesisRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_requests_total",
			Help:      "Synthesis requests by outcome.",
		}, []string{"outcome"}),
		SynthesisLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_latency_ms",
			Help:      "End-to-end synthesis latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
		}),
		InferenceLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_latency_ms",
			Help:      "Model inference latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
		}),
		ModelLoads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_loads_total",
			Help:      "Model load attempts by outcome.",
		}, []string{"outcome"}),
		ModelUnloads: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_unloads_total",
			Help:      "Idle model unloads.",
		}),
		ModelReady: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_ready",
			Help:      "1 while the synthesis model is loaded and ready.",
		}),
		CustomVoices: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "custom_voices",
			Help:      "Number of custom voices on disk.",
		}),
	}
}

func (m *Metrics) ObserveSynthesisLatency(d time.Duration) {
	m.SynthesisLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveInferenceLatency(d time.Duration) {
	m.InferenceLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
