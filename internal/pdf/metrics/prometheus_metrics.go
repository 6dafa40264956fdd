package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// PrometheusMetrics provides high-performance metrics collection for the PDF Service
type PrometheusMetrics struct {
	// Page pool metrics
	activePages      prometheus.Gauge
	maxConcurrent    prometheus.Gauge
	browserConnected prometheus.Gauge
	browserLaunches  prometheus.Counter

	// Generation metrics
	generationsTotal   *prometheus.CounterVec
	generationDuration prometheus.Histogram
	phaseDuration      *prometheus.HistogramVec
	pdfSizeBytes       prometheus.Histogram
	pdfPages           prometheus.Histogram

	// HTTP metrics
	httpRequests *prometheus.CounterVec

	// Error metrics
	errorsTotal *prometheus.CounterVec

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewPrometheusMetrics creates a new Prometheus-based metrics collector
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewPrometheusMetricsWithRegistry creates a new Prometheus-based metrics collector with custom registry
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		logger: logger,
	}

	// Page pool metrics
	pm.activePages = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "active_pages",
		Help:      "Number of pages currently checked out for generation",
	})

	pm.maxConcurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "max_concurrent",
		Help:      "Configured page concurrency cap",
	})

	pm.browserConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "browser_connected",
		Help:      "Whether a browser process is currently attached (0 or 1)",
	})

	pm.browserLaunches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "browser_launches_total",
		Help:      "Total number of browser process launches, including relaunches after crashes",
	})

	// Generation metrics
	pm.generationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pdf",
		Name:      "generations_total",
		Help:      "Total number of generation requests",
	}, []string{"status"}) // status: success, capacity, timeout, error, validation, raw

	pm.generationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pdf",
		Name:      "generation_duration_seconds",
		Help:      "End-to-end time spent generating documents",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
	})

	pm.phaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pdf",
		Name:      "phase_duration_seconds",
		Help:      "Time spent in each generation phase",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"phase"}) // phase: content_load, pagination, capture

	pm.pdfSizeBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pdf",
		Name:      "document_size_bytes",
		Help:      "Size of generated PDF documents",
		Buckets:   prometheus.ExponentialBuckets(10*1024, 4, 8), // 10KB to ~160MB
	})

	pm.pdfPages = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pdf",
		Name:      "document_pages",
		Help:      "Page count of generated PDF documents",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
	})

	// HTTP metrics
	pm.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pdf",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by endpoint and status",
	}, []string{"endpoint", "status"})

	// Error metrics
	pm.errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pdf",
		Name:      "errors_total",
		Help:      "Total errors by type",
	}, []string{"type"}) // type: validation, capacity, timeout, generation, internal

	// Register all metrics
	registerer.MustRegister(
		pm.activePages,
		pm.maxConcurrent,
		pm.browserConnected,
		pm.browserLaunches,
		pm.generationsTotal,
		pm.generationDuration,
		pm.phaseDuration,
		pm.pdfSizeBytes,
		pm.pdfPages,
		pm.httpRequests,
		pm.errorsTotal,
	)

	// Create HTTP handler
	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Info("PDF Service Prometheus metrics initialized")
	return pm
}

// UpdateActivePages updates the checked-out page gauge
func (pm *PrometheusMetrics) UpdateActivePages(active float64) {
	pm.activePages.Set(active)
}

// UpdateMaxConcurrent updates the concurrency cap gauge
func (pm *PrometheusMetrics) UpdateMaxConcurrent(maxPages float64) {
	pm.maxConcurrent.Set(maxPages)
}

// UpdateBrowserConnected updates the browser attachment gauge
func (pm *PrometheusMetrics) UpdateBrowserConnected(connected bool) {
	if connected {
		pm.browserConnected.Set(1)
	} else {
		pm.browserConnected.Set(0)
	}
}

// RecordBrowserLaunch records a browser process launch
func (pm *PrometheusMetrics) RecordBrowserLaunch() {
	pm.browserLaunches.Inc()
}

// RecordGeneration records a generation request outcome
func (pm *PrometheusMetrics) RecordGeneration(status string) {
	pm.generationsTotal.WithLabelValues(status).Inc()
}

// RecordGenerationDuration records end-to-end generation duration
func (pm *PrometheusMetrics) RecordGenerationDuration(seconds float64) {
	pm.generationDuration.Observe(seconds)
}

// RecordPhaseDuration records time spent in one generation phase
func (pm *PrometheusMetrics) RecordPhaseDuration(phase string, seconds float64) {
	pm.phaseDuration.WithLabelValues(phase).Observe(seconds)
}

// RecordDocument records size and page count of a generated document
func (pm *PrometheusMetrics) RecordDocument(sizeBytes float64, pages float64) {
	pm.pdfSizeBytes.Observe(sizeBytes)
	pm.pdfPages.Observe(pages)
}

// RecordHTTPRequest records an HTTP request
func (pm *PrometheusMetrics) RecordHTTPRequest(endpoint, status string) {
	pm.httpRequests.WithLabelValues(endpoint, status).Inc()
}

// RecordError records an error by type
func (pm *PrometheusMetrics) RecordError(errorType string) {
	pm.errorsTotal.WithLabelValues(errorType).Inc()
}

// ServeHTTP serves Prometheus metrics via HTTP
func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}
