package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/pagepress/engine/internal/common/config"
	"github.com/pagepress/engine/internal/common/requestid"
	"github.com/pagepress/engine/internal/pdf/browser"
	"github.com/pagepress/engine/internal/pdf/events"
	"github.com/pagepress/engine/internal/pdf/metrics"
	"github.com/pagepress/engine/pkg/types"
)

// PagePool is the page acquisition surface consumed by the handlers.
// *browser.Manager satisfies it.
type PagePool interface {
	WithPage(ctx context.Context, fn func(browser.PageSession) error) error
	GetStats() browser.Stats
	Timeout() time.Duration
}

// GenerateFunc runs the generation pipeline on an acquired page.
// Injected so handler tests run without a browser.
type GenerateFunc func(ctx context.Context, pg browser.PageSession, html string, opts browser.Options) (*types.PdfResult, error)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status           string `json:"status"`
	BrowserConnected bool   `json:"browser_connected"`
	ActivePages      int    `json:"active_pages"`
	MaxConcurrent    int    `json:"max_concurrent"`
}

// Handler holds the dependencies shared by all HTTP handlers
type Handler struct {
	pool      PagePool
	metrics   *metrics.MetricsCollector
	emitter   events.EventEmitter
	pdfConfig *config.PDFConfig
	serviceID string
	generate  GenerateFunc
	logger    *zap.Logger
}

// NewHandler creates a Handler wired to the real generation pipeline
func NewHandler(pool PagePool, metricsCollector *metrics.MetricsCollector, emitter events.EventEmitter, pdfConfig *config.PDFConfig, serviceID string, logger *zap.Logger) *Handler {
	return &Handler{
		pool:      pool,
		metrics:   metricsCollector,
		emitter:   emitter,
		pdfConfig: pdfConfig,
		serviceID: serviceID,
		generate:  browser.Generate,
		logger:    logger,
	}
}

// writeJSONResponse writes a JSON response with proper error handling
func writeJSONResponse(ctx *fasthttp.RequestCtx, statusCode int, response interface{}, path string, metricsCollector *metrics.MetricsCollector, logger *zap.Logger) {
	body, err := json.Marshal(response)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(`{"success":false,"error":"Failed to marshal response"}`)
		ctx.SetContentType("application/json")
		metricsCollector.RecordHTTPRequest(path, "500")
		logger.Error("Failed to marshal JSON response",
			zap.String("path", path),
			zap.Error(err))
		return
	}

	ctx.SetStatusCode(statusCode)
	ctx.SetBody(body)
	ctx.SetContentType("application/json")
	metricsCollector.RecordHTTPRequest(path, fmt.Sprintf("%d", statusCode))
}

// writeErrorResponse writes a structured error body with consistent formatting.
// errorType is the types.ErrorType* constant carried in the body and events.
func (h *Handler) writeErrorResponse(ctx *fasthttp.RequestCtx, statusCode int, errorMsg, requestID, errorType string) {
	resp := types.ErrorResponse{
		Success:   false,
		Error:     errorMsg,
		ErrorType: errorType,
		RequestID: requestID,
	}

	writeJSONResponse(ctx, statusCode, resp, "/generate", h.metrics, h.logger)

	switch errorType {
	case types.ErrorTypeValidation:
		h.metrics.RecordValidationError()
	case types.ErrorTypeCapacityExceeded:
		h.metrics.RecordGenerationCapacityRejected()
	case types.ErrorTypeGenerationTimeout:
		h.metrics.RecordGenerationTimeout()
	default:
		h.metrics.RecordGenerationError()
	}
}

// resolveOptions merges request options over service defaults.
// The per-phase timeout is clamped to pdf.max_timeout.
func (h *Handler) resolveOptions(opts types.GenerationOptions) (browser.Options, error) {
	format := opts.Format
	if format == "" {
		format = h.pdfConfig.DefaultFormat
	}
	switch format {
	case types.FormatA4, types.FormatA3, types.FormatA5, types.FormatLetter, types.FormatLegal:
	default:
		return browser.Options{}, fmt.Errorf("unsupported format: %s", format)
	}

	printBackground := h.pdfConfig.PrintBackground
	if opts.PrintBackground != nil {
		printBackground = *opts.PrintBackground
	}

	timeout := time.Duration(opts.Timeout)
	maxTimeout := time.Duration(h.pdfConfig.MaxTimeout)
	if timeout <= 0 || timeout > maxTimeout {
		timeout = maxTimeout
	}

	return browser.Options{
		Format:          format,
		PrintBackground: printBackground,
		Timeout:         timeout,
	}, nil
}

// HandleGenerate processes POST /generate requests
func (h *Handler) HandleGenerate(ctx *fasthttp.RequestCtx) {
	startTime := time.Now().UTC()

	var req types.GenerationRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		h.writeErrorResponse(ctx, fasthttp.StatusBadRequest, "Invalid JSON body", "", types.ErrorTypeValidation)
		h.logger.Warn("Invalid request body",
			zap.String("url", string(ctx.RequestURI())),
			zap.Error(err))
		return
	}

	if req.HTML == "" {
		h.writeErrorResponse(ctx, fasthttp.StatusBadRequest, "html field is required", req.RequestID, types.ErrorTypeValidation)
		return
	}

	requestID := requestid.GenerateRequestID(req.RequestID)
	docHash := fmt.Sprintf("%016x", xxhash.Sum64String(req.HTML))
	ctx.Response.Header.Set("X-Request-Id", requestID)
	ctx.Response.Header.Set("X-Document-Hash", docHash)

	// Debug bypass: return the input unchanged, no page is consumed
	if ctx.QueryArgs().GetBool("raw") {
		h.serveRaw(ctx, &req, requestID, docHash)
		return
	}

	opts, err := h.resolveOptions(req.Options)
	if err != nil {
		h.writeErrorResponse(ctx, fasthttp.StatusBadRequest, err.Error(), requestID, types.ErrorTypeValidation)
		h.emitError(&req, requestID, docHash, fasthttp.StatusBadRequest, types.ErrorTypeValidation, err.Error(), startTime)
		return
	}

	h.logger.Info("Starting generation request",
		zap.String("request_id", requestID),
		zap.String("document_hash", docHash),
		zap.Int("html_bytes", len(req.HTML)),
		zap.String("format", opts.Format),
		zap.Duration("timeout", opts.Timeout))

	// Hard bound across the three phases so a wedged driver call cannot
	// hold the page forever.
	genCtx, genCancel := context.WithTimeout(context.Background(), 3*opts.Timeout+config.SafetyMargin)
	defer genCancel()

	var result *types.PdfResult
	poolErr := h.pool.WithPage(genCtx, func(pg browser.PageSession) error {
		res, genErr := h.generate(genCtx, pg, req.HTML, opts)
		if genErr != nil {
			return genErr
		}
		result = res
		return nil
	})

	duration := time.Since(startTime).Seconds()

	if poolErr != nil {
		h.handleGenerateError(ctx, &req, poolErr, requestID, docHash, duration, startTime)
		return
	}

	// Success
	ctx.Response.Header.Set("X-Pdf-Pages", strconv.Itoa(result.Metrics.PageCount))
	ctx.Response.Header.Set("X-Pdf-Bytes", strconv.Itoa(result.Metrics.PdfSizeBytes))
	ctx.Response.Header.Set("X-Pdf-Warnings", strconv.Itoa(len(result.Warnings)))
	ctx.Response.Header.Set("X-Generate-Total-Ms", strconv.FormatInt(result.Metrics.TotalMs, 10))
	ctx.Response.Header.Set("X-Generate-Load-Ms", strconv.FormatInt(result.Metrics.ContentLoadMs, 10))
	ctx.Response.Header.Set("X-Generate-Pagination-Ms", strconv.FormatInt(result.Metrics.PaginationMs, 10))
	ctx.Response.Header.Set("X-Generate-Capture-Ms", strconv.FormatInt(result.Metrics.CaptureMs, 10))
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/pdf")
	ctx.SetBody(result.Buffer)
	h.metrics.RecordHTTPRequest("/generate", "200")
	h.metrics.RecordGenerationSuccess(result.Metrics)

	failedAssets := 0
	for _, a := range result.Assets {
		if !a.Success {
			failedAssets++
		}
	}

	h.emitter.Emit(&events.GenerationEvent{
		RequestID:        requestID,
		DocumentHash:     docHash,
		EventType:        events.EventTypeGenerated,
		StatusCode:       fasthttp.StatusOK,
		Success:          true,
		Format:           opts.Format,
		HTMLSize:         int64(len(req.HTML)),
		ClientIP:         ctx.RemoteIP().String(),
		TotalMs:          result.Metrics.TotalMs,
		ContentLoadMs:    result.Metrics.ContentLoadMs,
		PaginationMs:     result.Metrics.PaginationMs,
		CaptureMs:        result.Metrics.CaptureMs,
		PageCount:        result.Metrics.PageCount,
		PdfSizeBytes:     result.Metrics.PdfSizeBytes,
		AssetCount:       len(result.Assets),
		FailedAssetCount: failedAssets,
		WarningCount:     len(result.Warnings),
		CreatedAt:        startTime,
		ServiceID:        h.serviceID,
	})

	h.logger.Info("Generation successful",
		zap.String("request_id", requestID),
		zap.Float64("duration", duration),
		zap.Int("page_count", result.Metrics.PageCount),
		zap.Int("pdf_bytes", result.Metrics.PdfSizeBytes),
		zap.Int("assets", len(result.Assets)),
		zap.Int("warnings", len(result.Warnings)))

	if len(result.Warnings) > 0 {
		h.logger.Warn("Generation completed with asset warnings",
			zap.String("request_id", requestID),
			zap.Strings("warnings", result.Warnings))
	}
}

// handleGenerateError maps pool and pipeline errors onto status codes.
// Capacity rejections are expected under load and logged at warning level;
// everything else is an error.
func (h *Handler) handleGenerateError(ctx *fasthttp.RequestCtx, req *types.GenerationRequest, err error, requestID, docHash string, duration float64, startTime time.Time) {
	switch {
	case errors.Is(err, browser.ErrCapacityExceeded):
		h.writeErrorResponse(ctx, fasthttp.StatusServiceUnavailable, err.Error(), requestID, types.ErrorTypeCapacityExceeded)
		h.emitError(req, requestID, docHash, fasthttp.StatusServiceUnavailable, types.ErrorTypeCapacityExceeded, err.Error(), startTime)
		h.logger.Warn("Generation rejected, pool saturated",
			zap.String("request_id", requestID))

	case errors.Is(err, browser.ErrGenerationTimeout), errors.Is(err, context.DeadlineExceeded):
		h.writeErrorResponse(ctx, fasthttp.StatusInternalServerError, err.Error(), requestID, types.ErrorTypeGenerationTimeout)
		h.emitError(req, requestID, docHash, fasthttp.StatusInternalServerError, types.ErrorTypeGenerationTimeout, err.Error(), startTime)
		h.logger.Error("Generation timed out",
			zap.String("request_id", requestID),
			zap.Float64("duration", duration),
			zap.Error(err))

	case errors.Is(err, browser.ErrBrowserLaunch):
		h.writeErrorResponse(ctx, fasthttp.StatusInternalServerError, err.Error(), requestID, types.ErrorTypeBrowserLaunch)
		h.emitError(req, requestID, docHash, fasthttp.StatusInternalServerError, types.ErrorTypeBrowserLaunch, err.Error(), startTime)
		h.logger.Error("Browser launch failed",
			zap.String("request_id", requestID),
			zap.Error(err))

	default:
		h.writeErrorResponse(ctx, fasthttp.StatusInternalServerError, err.Error(), requestID, types.ErrorTypeGenerationFailed)
		h.emitError(req, requestID, docHash, fasthttp.StatusInternalServerError, types.ErrorTypeGenerationFailed, err.Error(), startTime)
		h.logger.Error("Generation failed",
			zap.String("request_id", requestID),
			zap.Float64("duration", duration),
			zap.Error(err))
	}
}

// emitError forwards a failed generation to the event emitter
func (h *Handler) emitError(req *types.GenerationRequest, requestID, docHash string, statusCode int, errorType, errorMsg string, startTime time.Time) {
	h.emitter.Emit(&events.GenerationEvent{
		RequestID:    requestID,
		DocumentHash: docHash,
		EventType:    eventTypeForStatus(statusCode),
		StatusCode:   statusCode,
		Success:      false,
		ErrorType:    errorType,
		ErrorMessage: errorMsg,
		HTMLSize:     int64(len(req.HTML)),
		TotalMs:      time.Since(startTime).Milliseconds(),
		CreatedAt:    startTime,
		ServiceID:    h.serviceID,
	})
}

func eventTypeForStatus(statusCode int) string {
	if statusCode == fasthttp.StatusServiceUnavailable || statusCode == fasthttp.StatusBadRequest {
		return events.EventTypeRejected
	}
	return events.EventTypeError
}

// serveRaw returns the input HTML unchanged, compressed when the client
// accepts gzip and the document is large enough to be worth it.
func (h *Handler) serveRaw(ctx *fasthttp.RequestCtx, req *types.GenerationRequest, requestID, docHash string) {
	body := []byte(req.HTML)
	ctx.SetContentType("text/html; charset=utf-8")

	if len(body) >= h.pdfConfig.RawCompressMinSize && ctx.Request.Header.HasAcceptEncoding("gzip") {
		compressed, err := compressRaw(body)
		if err == nil {
			ctx.Response.Header.Set(fasthttp.HeaderContentEncoding, "gzip")
			body = compressed
		} else {
			h.logger.Warn("Raw response compression failed",
				zap.String("request_id", requestID),
				zap.Error(err))
		}
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(body)
	h.metrics.RecordHTTPRequest("/generate", "200")
	h.metrics.RecordRawBypass()

	h.emitter.Emit(&events.GenerationEvent{
		RequestID:    requestID,
		DocumentHash: docHash,
		EventType:    events.EventTypeRaw,
		StatusCode:   fasthttp.StatusOK,
		Success:      true,
		RawBypass:    true,
		HTMLSize:     int64(len(req.HTML)),
		ClientIP:     ctx.RemoteIP().String(),
		CreatedAt:    time.Now().UTC(),
		ServiceID:    h.serviceID,
	})

	h.logger.Debug("Served raw HTML bypass",
		zap.String("request_id", requestID),
		zap.Int("html_bytes", len(req.HTML)))
}

// HandleHealth returns the current health status and pool statistics
func (h *Handler) HandleHealth(ctx *fasthttp.RequestCtx) {
	stats := h.pool.GetStats()

	resp := HealthResponse{
		Status:           "ok",
		BrowserConnected: stats.Connected,
		ActivePages:      stats.ActivePages,
		MaxConcurrent:    stats.MaxConcurrent,
	}

	writeJSONResponse(ctx, fasthttp.StatusOK, resp, "/health", h.metrics, h.logger)
}
