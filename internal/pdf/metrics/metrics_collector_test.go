package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagepress/engine/pkg/types"
)

func newTestMetrics(t *testing.T) (*MetricsCollector, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	return NewMetricsCollectorWithRegistry("pagepress", registry, zap.NewNop()), registry
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; !ok || want != lp.GetValue() {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func gaugeValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() == name && mf.GetType() == dto.MetricType_GAUGE {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("gauge %s not found", name)
	return 0
}

func TestMetricsCollector_GenerationOutcomes(t *testing.T) {
	mc, registry := newTestMetrics(t)

	mc.RecordGenerationSuccess(types.GenerationMetrics{
		TotalMs:       1500,
		ContentLoadMs: 400,
		PaginationMs:  900,
		CaptureMs:     200,
		PageCount:     12,
		PdfSizeBytes:  524288,
	})
	mc.RecordGenerationCapacityRejected()
	mc.RecordGenerationTimeout()
	mc.RecordGenerationError()
	mc.RecordValidationError()
	mc.RecordRawBypass()

	name := "pagepress_pdf_generations_total"
	assert.Equal(t, 1.0, counterValue(t, registry, name, map[string]string{"status": "success"}))
	assert.Equal(t, 1.0, counterValue(t, registry, name, map[string]string{"status": "capacity"}))
	assert.Equal(t, 1.0, counterValue(t, registry, name, map[string]string{"status": "timeout"}))
	assert.Equal(t, 1.0, counterValue(t, registry, name, map[string]string{"status": "error"}))
	assert.Equal(t, 1.0, counterValue(t, registry, name, map[string]string{"status": "validation"}))
	assert.Equal(t, 1.0, counterValue(t, registry, name, map[string]string{"status": "raw"}))

	errName := "pagepress_pdf_errors_total"
	assert.Equal(t, 1.0, counterValue(t, registry, errName, map[string]string{"type": "capacity"}))
	assert.Equal(t, 1.0, counterValue(t, registry, errName, map[string]string{"type": "timeout"}))
	assert.Equal(t, 1.0, counterValue(t, registry, errName, map[string]string{"type": "generation"}))
	assert.Equal(t, 1.0, counterValue(t, registry, errName, map[string]string{"type": "validation"}))
}

func TestMetricsCollector_PoolState(t *testing.T) {
	mc, registry := newTestMetrics(t)

	mc.UpdatePoolState(3, 8, true)

	assert.Equal(t, 3.0, gaugeValue(t, registry, "pagepress_pool_active_pages"))
	assert.Equal(t, 8.0, gaugeValue(t, registry, "pagepress_pool_max_concurrent"))
	assert.Equal(t, 1.0, gaugeValue(t, registry, "pagepress_pool_browser_connected"))

	mc.UpdatePoolState(0, 8, false)
	assert.Equal(t, 0.0, gaugeValue(t, registry, "pagepress_pool_browser_connected"))
}

func TestMetricsCollector_HTTPRequests(t *testing.T) {
	mc, registry := newTestMetrics(t)

	mc.RecordHTTPRequest("/generate", "200")
	mc.RecordHTTPRequest("/generate", "200")
	mc.RecordHTTPRequest("/generate", "503")

	name := "pagepress_pdf_http_requests_total"
	assert.Equal(t, 2.0, counterValue(t, registry, name, map[string]string{"endpoint": "/generate", "status": "200"}))
	assert.Equal(t, 1.0, counterValue(t, registry, name, map[string]string{"endpoint": "/generate", "status": "503"}))
}
