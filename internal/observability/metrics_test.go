package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsRegisterAndServe(t *testing.T) {
	m := NewMetrics("test_observability")

	m.SynthesisRequests.WithLabelValues("ok").Inc()
	m.ModelLoads.WithLabelValues("success").Inc()
	m.ModelUnloads.Inc()
	m.ModelReady.Set(1)
	m.CustomVoices.Set(3)
	m.ObserveSynthesisLatency(1200 * time.Millisecond)
	m.ObserveInferenceLatency(800 * time.Millisecond)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"test_observability_synthesis_requests_total",
		"test_observability_model_loads_total",
		"test_observability_model_ready 1",
		"test_observability_custom_voices 3",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
