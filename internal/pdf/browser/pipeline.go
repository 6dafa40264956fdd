package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/pagepress/engine/pkg/types"
)

// Readiness contract with the pagination layer: once layout stabilizes the
// injected script sets the flag and fills the metrics object. Documents that
// never set the flag time out in the readiness phase.
const (
	readyFlagExpr = "window.__pagedReady === true"
	pageCountExpr = "(window.__pagedMetrics && window.__pagedMetrics.pageCount) || 0"

	readinessPollInterval = 50 * time.Millisecond
	networkIdleEvent      = "networkIdle"
)

// Options carries the per-generation tuning resolved by the caller from
// service defaults and request overrides.
type Options struct {
	Format          string
	PrintBackground bool
	Timeout         time.Duration
}

// Generate drives one page through the three-phase protocol - content load,
// pagination readiness, PDF capture - while tapping network events for asset
// diagnostics. Each phase is bounded by the same configured timeout; no
// partial PDF is ever returned. The page is closed on every exit path,
// redundantly with the pool's own guard.
func Generate(ctx context.Context, pg PageSession, html string, opts Options) (*types.PdfResult, error) {
	start := time.Now()
	tabCtx := pg.Context()
	defer func() { _ = pg.Close() }()

	// Caller cancellation tears the page down, which fails the in-flight
	// driver operations naturally.
	stop := context.AfterFunc(ctx, func() { _ = pg.Close() })
	defer stop()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = pg.Timeout()
	}

	// Taps live on a child context so they detach on every exit path
	// without tearing down the page on their own.
	collector := NewAssetCollector()
	tapCtx, tapCancel := context.WithCancel(tabCtx)
	defer tapCancel()

	chromedp.ListenTarget(tapCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			collector.OnRequestWillBeSent(string(e.RequestID), e.Request.URL, e.Type)
		case *network.EventResponseReceived:
			collector.OnResponseReceived(string(e.RequestID), int(e.Response.Status), e.Response.Headers)
		case *network.EventLoadingFailed:
			collector.OnLoadingFailed(string(e.RequestID), e.ErrorText)
		}
	})

	var metrics types.GenerationMetrics
	var pdfBuf []byte

	err := chromedp.Run(tabCtx, chromedp.Tasks{
		network.Enable(),
		enableLifecycleEvents(),
		loadContent(html, timeout, &metrics.ContentLoadMs),
		awaitReadiness(timeout, &metrics.PaginationMs, &metrics.PageCount),
		capturePDF(opts, timeout, &pdfBuf, &metrics.CaptureMs),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrGenerationTimeout, err)
		}
		return nil, err
	}

	metrics.TotalMs = time.Since(start).Milliseconds()
	metrics.PdfSizeBytes = len(pdfBuf)

	assets, warnings := collector.Snapshot()
	return &types.PdfResult{
		Buffer:   pdfBuf,
		Metrics:  metrics,
		Assets:   assets,
		Warnings: warnings,
	}, nil
}

// enableLifecycleEvents enables page lifecycle events
func enableLifecycleEvents() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if err := page.Enable().Do(ctx); err != nil {
			return err
		}
		return page.SetLifecycleEventsEnabled(true).Do(ctx)
	}
}

// loadContent pushes the HTML document into the page's main frame and waits
// for the driver's network-quiescence signal or the timeout, whichever
// comes first. The lifecycle listener is registered before the content is
// injected so a fast idle event cannot be missed.
func loadContent(html string, timeout time.Duration, elapsedMs *int64) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		start := time.Now()

		idle := make(chan struct{})
		listenCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		var once sync.Once
		chromedp.ListenTarget(listenCtx, func(ev interface{}) {
			if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == networkIdleEvent {
				once.Do(func() {
					cancel()
					close(idle)
				})
			}
		})

		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return errors.Join(ErrContentLoad, err)
		}
		if err := page.SetDocumentContent(tree.Frame.ID, html).Do(ctx); err != nil {
			return errors.Join(ErrContentLoad, err)
		}

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(timeout):
			return fmt.Errorf("%w: content load exceeded %s", ErrGenerationTimeout, timeout)
		}

		*elapsedMs = time.Since(start).Milliseconds()
		return nil
	}
}

// awaitReadiness polls the pagination readiness flag until it flips true or
// the timeout elapses, then reads the page count from the injected metrics
// object, defaulting to 1 when absent.
func awaitReadiness(timeout time.Duration, elapsedMs *int64, pageCount *int) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		start := time.Now()
		deadline := time.After(timeout)
		ticker := time.NewTicker(readinessPollInterval)
		defer ticker.Stop()

		for {
			var ready bool
			if err := chromedp.Evaluate(readyFlagExpr, &ready).Do(ctx); err != nil {
				return errors.Join(ErrReadinessPoll, err)
			}
			if ready {
				break
			}

			select {
			case <-ticker.C:
			case <-deadline:
				return fmt.Errorf("%w: pagination readiness exceeded %s", ErrGenerationTimeout, timeout)
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var count int
		if err := chromedp.Evaluate(pageCountExpr, &count).Do(ctx); err != nil || count <= 0 {
			count = 1
		}
		*pageCount = count

		*elapsedMs = time.Since(start).Milliseconds()
		return nil
	}
}

// capturePDF requests the PDF bytes using the resolved paper format, the
// print-background flag, and the page's own CSS page size when declared.
func capturePDF(opts Options, timeout time.Duration, buf *[]byte, elapsedMs *int64) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		start := time.Now()

		captureCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		width, height := paperSize(opts.Format)
		params := page.PrintToPDF().
			WithPrintBackground(opts.PrintBackground).
			WithPreferCSSPageSize(true).
			WithPaperWidth(width).
			WithPaperHeight(height)

		data, _, err := params.Do(captureCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w: capture exceeded %s", ErrGenerationTimeout, timeout)
			}
			return errors.Join(ErrCapture, err)
		}

		*buf = data
		*elapsedMs = time.Since(start).Milliseconds()
		return nil
	}
}

// paperSize maps a format name to paper dimensions in inches. Unknown or
// empty formats fall back to A4; documents declaring @page sizes override
// this through preferCSSPageSize.
func paperSize(format string) (width, height float64) {
	switch format {
	case types.FormatA3:
		return 11.69, 16.54
	case types.FormatA5:
		return 5.83, 8.27
	case types.FormatLetter:
		return 8.5, 11
	case types.FormatLegal:
		return 8.5, 14
	case types.FormatA4:
		return 8.27, 11.69
	default:
		return 8.27, 11.69
	}
}
