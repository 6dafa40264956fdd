package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/pagepress/engine/pkg/types"
)

// Phase labels for phase_duration_seconds
const (
	PhaseContentLoad = "content_load"
	PhasePagination  = "pagination"
	PhaseCapture     = "capture"
)

// MetricsCollector centralizes all metrics recording for the PDF Service
type MetricsCollector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

// NewMetricsCollector creates a new MetricsCollector instance
func NewMetricsCollector(namespace string, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetrics(namespace, logger),
		logger:     logger,
	}
}

// NewMetricsCollectorWithRegistry creates a MetricsCollector registered on a
// custom registry, used by tests to avoid the global default registry.
func NewMetricsCollectorWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetricsWithRegistry(namespace, registerer, logger),
		logger:     logger,
	}
}

// UpdatePoolState updates the page pool gauges
func (mc *MetricsCollector) UpdatePoolState(active, maxConcurrent int, connected bool) {
	mc.prometheus.UpdateActivePages(float64(active))
	mc.prometheus.UpdateMaxConcurrent(float64(maxConcurrent))
	mc.prometheus.UpdateBrowserConnected(connected)
}

// RecordBrowserLaunch records a browser process launch
func (mc *MetricsCollector) RecordBrowserLaunch() {
	mc.prometheus.RecordBrowserLaunch()
}

// RecordGenerationSuccess records a successful generation with its timings
func (mc *MetricsCollector) RecordGenerationSuccess(m types.GenerationMetrics) {
	mc.prometheus.RecordGeneration("success")
	mc.prometheus.RecordGenerationDuration(float64(m.TotalMs) / 1000)
	mc.prometheus.RecordPhaseDuration(PhaseContentLoad, float64(m.ContentLoadMs)/1000)
	mc.prometheus.RecordPhaseDuration(PhasePagination, float64(m.PaginationMs)/1000)
	mc.prometheus.RecordPhaseDuration(PhaseCapture, float64(m.CaptureMs)/1000)
	mc.prometheus.RecordDocument(float64(m.PdfSizeBytes), float64(m.PageCount))
}

// RecordGenerationCapacityRejected records an immediate capacity rejection
func (mc *MetricsCollector) RecordGenerationCapacityRejected() {
	mc.prometheus.RecordGeneration("capacity")
	mc.prometheus.RecordError("capacity")
}

// RecordGenerationTimeout records a generation that exceeded a phase timeout
func (mc *MetricsCollector) RecordGenerationTimeout() {
	mc.prometheus.RecordGeneration("timeout")
	mc.prometheus.RecordError("timeout")
}

// RecordGenerationError records a failed generation
func (mc *MetricsCollector) RecordGenerationError() {
	mc.prometheus.RecordGeneration("error")
	mc.prometheus.RecordError("generation")
}

// RecordValidationError records a request rejected before page acquisition
func (mc *MetricsCollector) RecordValidationError() {
	mc.prometheus.RecordGeneration("validation")
	mc.prometheus.RecordError("validation")
}

// RecordRawBypass records a debug raw-HTML response
func (mc *MetricsCollector) RecordRawBypass() {
	mc.prometheus.RecordGeneration("raw")
}

// RecordInternalError records an internal error
func (mc *MetricsCollector) RecordInternalError() {
	mc.prometheus.RecordError("internal")
}

// RecordHTTPRequest records an HTTP request
func (mc *MetricsCollector) RecordHTTPRequest(endpoint, status string) {
	mc.prometheus.RecordHTTPRequest(endpoint, status)
}

// ServeHTTP serves Prometheus metrics via HTTP
func (mc *MetricsCollector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	mc.prometheus.ServeHTTP(ctx)
}
