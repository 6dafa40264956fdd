package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromeLauncher launches a headless Chrome process via chromedp.
type ChromeLauncher struct {
	warmupHTML    string
	warmupTimeout time.Duration
	logger        *zap.Logger
}

// NewChromeLauncher creates a launcher with the pool configuration.
func NewChromeLauncher(cfg *Config, logger *zap.Logger) *ChromeLauncher {
	return &ChromeLauncher{
		warmupHTML:    cfg.WarmupHTML,
		warmupTimeout: cfg.WarmupTimeout,
		logger:        logger,
	}
}

// Launch starts the browser process and returns its handle.
func (l *ChromeLauncher) Launch(ctx context.Context) (Handle, error) {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
	}

	allocatorOpts := append(chromedp.DefaultExecAllocatorOptions[:], opts...)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Starting with an empty task list forces the process to spawn now so
	// launch failures surface here rather than on the first page.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	handle := &chromeBrowser{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}

	if l.warmupHTML != "" {
		if err := l.warmup(handle); err != nil {
			l.logger.Warn("Browser warmup failed", zap.Error(err))
			// Warmup is best effort, never fatal
		}
	}

	return handle, nil
}

// warmup renders a throwaway document so first-request latency stays flat.
func (l *ChromeLauncher) warmup(handle *chromeBrowser) error {
	pg, err := handle.NewPage(l.warmupTimeout)
	if err != nil {
		return err
	}
	defer func() { _ = pg.Close() }()

	ctx, cancel := context.WithTimeout(pg.Context(), l.warmupTimeout)
	defer cancel()

	err = chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return err
		}
		return page.SetDocumentContent(tree.Frame.ID, l.warmupHTML).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("warmup document load failed: %w", err)
	}

	l.logger.Info("Browser warmed up")
	return nil
}

// chromeBrowser is the chromedp-backed Handle.
type chromeBrowser struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// NewPage opens a fresh tab off the shared browser context.
func (b *chromeBrowser) NewPage(timeout time.Duration) (PageSession, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)

	// Materialize the target now; a dead browser fails here, not mid-render.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, err
	}

	return &chromePage{ctx: tabCtx, cancel: tabCancel, timeout: timeout}, nil
}

// Close terminates the browser process. The Disconnected channel fires as a
// consequence of the context cancellation.
func (b *chromeBrowser) Close() error {
	b.browserCancel()
	b.allocCancel()
	return nil
}

// Disconnected is closed when the browser context ends, whether the process
// crashed or Close was called.
func (b *chromeBrowser) Disconnected() <-chan struct{} {
	return b.browserCtx.Done()
}

// chromePage is the chromedp-backed PageSession. Closing cancels the tab
// context, which destroys the target; repeat closes are no-ops.
type chromePage struct {
	ctx       context.Context
	cancel    context.CancelFunc
	timeout   time.Duration
	closeOnce sync.Once
}

func (p *chromePage) Context() context.Context { return p.ctx }

func (p *chromePage) Timeout() time.Duration { return p.timeout }

func (p *chromePage) Close() error {
	p.closeOnce.Do(p.cancel)
	return nil
}
