package service

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/pagepress/engine/internal/common/config"
	"github.com/pagepress/engine/internal/pdf/browser"
	"github.com/pagepress/engine/internal/pdf/events"
	"github.com/pagepress/engine/internal/pdf/metrics"
	"github.com/pagepress/engine/pkg/types"
)

type stubPage struct{}

func (p *stubPage) Context() context.Context { return context.Background() }
func (p *stubPage) Timeout() time.Duration   { return 30 * time.Second }
func (p *stubPage) Close() error             { return nil }

type stubPool struct {
	err      error
	acquired int
	stats    browser.Stats
}

func (s *stubPool) WithPage(ctx context.Context, fn func(browser.PageSession) error) error {
	if s.err != nil {
		return s.err
	}
	s.acquired++
	return fn(&stubPage{})
}

func (s *stubPool) GetStats() browser.Stats { return s.stats }
func (s *stubPool) Timeout() time.Duration  { return 30 * time.Second }

type recordingEmitter struct {
	emitted []*events.GenerationEvent
}

func (r *recordingEmitter) Emit(event *events.GenerationEvent) {
	r.emitted = append(r.emitted, event)
}
func (r *recordingEmitter) Close() error { return nil }

func newTestHandler(t *testing.T, pool *stubPool) (*Handler, *recordingEmitter) {
	t.Helper()

	pdfConfig := &config.PDFConfig{
		DefaultFormat:      types.FormatA4,
		PrintBackground:    true,
		MaxTimeout:         types.Duration(30 * time.Second),
		RawCompressMinSize: 64,
	}
	emitter := &recordingEmitter{}
	mc := metrics.NewMetricsCollectorWithRegistry("pagepress", prometheus.NewRegistry(), zap.NewNop())

	h := NewHandler(pool, mc, emitter, pdfConfig, "pdf-test", zap.NewNop())
	h.generate = func(ctx context.Context, pg browser.PageSession, html string, opts browser.Options) (*types.PdfResult, error) {
		return &types.PdfResult{
			Buffer: []byte("%PDF-1.7 fake"),
			Metrics: types.GenerationMetrics{
				TotalMs:       1500,
				ContentLoadMs: 400,
				PaginationMs:  900,
				CaptureMs:     200,
				PageCount:     3,
				PdfSizeBytes:  len("%PDF-1.7 fake"),
			},
			Assets: []types.AssetInfo{
				{URL: "https://cdn.example.com/a.png", Type: types.AssetTypeImage, Success: true},
				{URL: "https://cdn.example.com/b.css", Type: types.AssetTypeStylesheet, Success: false, Error: "HTTP 404"},
			},
			Warnings: []string{"Failed: https://cdn.example.com/b.css (404)"},
		}, nil
	}
	return h, emitter
}

func generateRequest(t *testing.T, body string, rawQuery string) *fasthttp.RequestCtx {
	t.Helper()
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("POST")
	uri := "/generate"
	if rawQuery != "" {
		uri += "?" + rawQuery
	}
	ctx.Request.SetRequestURI(uri)
	ctx.Request.SetBodyString(body)
	return ctx
}

func TestHandleGenerate_Success(t *testing.T) {
	pool := &stubPool{}
	h, emitter := newTestHandler(t, pool)

	ctx := generateRequest(t, `{"html":"<html><body>hi</body></html>"}`, "")
	h.HandleGenerate(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "application/pdf", string(ctx.Response.Header.ContentType()))
	assert.Equal(t, []byte("%PDF-1.7 fake"), ctx.Response.Body())
	assert.Equal(t, 1, pool.acquired)

	assert.Equal(t, "3", string(ctx.Response.Header.Peek("X-Pdf-Pages")))
	assert.Equal(t, "1500", string(ctx.Response.Header.Peek("X-Generate-Total-Ms")))
	assert.Equal(t, "400", string(ctx.Response.Header.Peek("X-Generate-Load-Ms")))
	assert.Equal(t, "900", string(ctx.Response.Header.Peek("X-Generate-Pagination-Ms")))
	assert.Equal(t, "200", string(ctx.Response.Header.Peek("X-Generate-Capture-Ms")))
	assert.Equal(t, "1", string(ctx.Response.Header.Peek("X-Pdf-Warnings")))
	assert.NotEmpty(t, string(ctx.Response.Header.Peek("X-Request-Id")))
	assert.Len(t, string(ctx.Response.Header.Peek("X-Document-Hash")), 16)

	require.Len(t, emitter.emitted, 1)
	ev := emitter.emitted[0]
	assert.Equal(t, events.EventTypeGenerated, ev.EventType)
	assert.True(t, ev.Success)
	assert.Equal(t, 3, ev.PageCount)
	assert.Equal(t, 2, ev.AssetCount)
	assert.Equal(t, 1, ev.FailedAssetCount)
	assert.Equal(t, 1, ev.WarningCount)
	assert.Equal(t, "pdf-test", ev.ServiceID)
}

func TestHandleGenerate_MissingHTML(t *testing.T) {
	pool := &stubPool{}
	h, _ := newTestHandler(t, pool)

	ctx := generateRequest(t, `{"options":{"format":"A4"}}`, "")
	h.HandleGenerate(ctx)

	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
	// No page acquired for validation failures
	assert.Equal(t, 0, pool.acquired)

	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, types.ErrorTypeValidation, resp.ErrorType)
	assert.Contains(t, resp.Error, "html")
}

func TestHandleGenerate_InvalidJSON(t *testing.T) {
	pool := &stubPool{}
	h, _ := newTestHandler(t, pool)

	ctx := generateRequest(t, `{"html": `, "")
	h.HandleGenerate(ctx)

	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
	assert.Equal(t, 0, pool.acquired)
}

func TestHandleGenerate_InvalidFormat(t *testing.T) {
	pool := &stubPool{}
	h, _ := newTestHandler(t, pool)

	ctx := generateRequest(t, `{"html":"<p>x</p>","options":{"format":"Tabloid"}}`, "")
	h.HandleGenerate(ctx)

	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
	assert.Equal(t, 0, pool.acquired)

	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Contains(t, resp.Error, "Tabloid")
}

func TestHandleGenerate_CapacityExceeded(t *testing.T) {
	pool := &stubPool{err: fmt.Errorf("%w: 4 of 4 pages in use", browser.ErrCapacityExceeded)}
	h, emitter := newTestHandler(t, pool)

	ctx := generateRequest(t, `{"html":"<p>x</p>"}`, "")
	h.HandleGenerate(ctx)

	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())

	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Equal(t, types.ErrorTypeCapacityExceeded, resp.ErrorType)

	require.Len(t, emitter.emitted, 1)
	assert.Equal(t, events.EventTypeRejected, emitter.emitted[0].EventType)
}

func TestHandleGenerate_Timeout(t *testing.T) {
	pool := &stubPool{err: fmt.Errorf("%w: pagination readiness exceeded 30s", browser.ErrGenerationTimeout)}
	h, _ := newTestHandler(t, pool)

	ctx := generateRequest(t, `{"html":"<p>x</p>"}`, "")
	h.HandleGenerate(ctx)

	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())

	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Equal(t, types.ErrorTypeGenerationTimeout, resp.ErrorType)
}

func TestHandleGenerate_PipelineError(t *testing.T) {
	pool := &stubPool{}
	h, emitter := newTestHandler(t, pool)
	h.generate = func(ctx context.Context, pg browser.PageSession, html string, opts browser.Options) (*types.PdfResult, error) {
		return nil, fmt.Errorf("%w: target crashed", browser.ErrCapture)
	}

	ctx := generateRequest(t, `{"html":"<p>x</p>"}`, "")
	h.HandleGenerate(ctx)

	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())

	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Equal(t, types.ErrorTypeGenerationFailed, resp.ErrorType)

	require.Len(t, emitter.emitted, 1)
	assert.Equal(t, events.EventTypeError, emitter.emitted[0].EventType)
}

func TestHandleGenerate_RawBypass(t *testing.T) {
	pool := &stubPool{}
	h, emitter := newTestHandler(t, pool)

	html := "<html><body>raw</body></html>"
	ctx := generateRequest(t, `{"html":"`+html+`"}`, "raw=1")
	h.HandleGenerate(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Header.ContentType()), "text/html")
	assert.Equal(t, html, string(ctx.Response.Body()))
	// Bypass never touches the pool
	assert.Equal(t, 0, pool.acquired)

	require.Len(t, emitter.emitted, 1)
	assert.Equal(t, events.EventTypeRaw, emitter.emitted[0].EventType)
	assert.True(t, emitter.emitted[0].RawBypass)
}

func TestHandleGenerate_RawBypassGzip(t *testing.T) {
	pool := &stubPool{}
	h, _ := newTestHandler(t, pool)

	html := "<html><body>" + strings.Repeat("lorem ipsum ", 50) + "</body></html>"
	body, err := json.Marshal(types.GenerationRequest{HTML: html})
	require.NoError(t, err)

	ctx := generateRequest(t, string(body), "raw=1")
	ctx.Request.Header.Set(fasthttp.HeaderAcceptEncoding, "gzip")
	h.HandleGenerate(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "gzip", string(ctx.Response.Header.Peek(fasthttp.HeaderContentEncoding)))

	zr, err := gzip.NewReader(bytes.NewReader(ctx.Response.Body()))
	require.NoError(t, err)
	decompressed, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, html, string(decompressed))
}

func TestHandleGenerate_TimeoutClamp(t *testing.T) {
	pool := &stubPool{}
	h, _ := newTestHandler(t, pool)

	var gotTimeout time.Duration
	h.generate = func(ctx context.Context, pg browser.PageSession, html string, opts browser.Options) (*types.PdfResult, error) {
		gotTimeout = opts.Timeout
		return &types.PdfResult{Metrics: types.GenerationMetrics{PageCount: 1}}, nil
	}

	ctx := generateRequest(t, `{"html":"<p>x</p>","options":{"timeout":"5m"}}`, "")
	h.HandleGenerate(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, 30*time.Second, gotTimeout)
}

func TestHandleHealth(t *testing.T) {
	pool := &stubPool{stats: browser.Stats{
		Connected:     true,
		ActivePages:   2,
		MaxConcurrent: 8,
	}}
	h, _ := newTestHandler(t, pool)

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("GET")
	ctx.Request.SetRequestURI("/health")
	h.HandleHealth(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.BrowserConnected)
	assert.Equal(t, 2, resp.ActivePages)
	assert.Equal(t, 8, resp.MaxConcurrent)
}

func TestCreateHTTPHandler_Routing(t *testing.T) {
	pool := &stubPool{}
	h, _ := newTestHandler(t, pool)
	handler := CreateHTTPHandler(h)

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("GET")
	ctx.Request.SetRequestURI("/nope")
	handler(ctx)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	ctx = &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("GET")
	ctx.Request.SetRequestURI("/health")
	handler(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	// Wrong method on /generate is not routed
	ctx = &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("GET")
	ctx.Request.SetRequestURI("/generate")
	handler(ctx)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}
