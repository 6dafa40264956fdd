package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Launcher starts a browser process and hands back a live Handle.
type Launcher interface {
	Launch(ctx context.Context) (Handle, error)
}

// Handle is one live browser process connection. It is shared read-mostly by
// all in-flight generations; only the Manager's launch and disconnect paths
// replace it.
type Handle interface {
	// NewPage opens an isolated page (tab) with the given default timeout.
	NewPage(timeout time.Duration) (PageSession, error)
	// Close terminates the browser process.
	Close() error
	// Disconnected is closed when the browser process goes away, whether
	// through Close or a crash.
	Disconnected() <-chan struct{}
}

// PageSession is one exclusively-owned page. Close is safe to call more
// than once and after the browser is gone.
type PageSession interface {
	// Context returns the driver context bound to this page's lifetime.
	Context() context.Context
	// Timeout returns the default timeout configured for this page.
	Timeout() time.Duration
	// Close destroys the page. Repeat calls are no-ops.
	Close() error
}

// launchCall is the shared in-flight launch waited on by concurrent callers.
type launchCall struct {
	done   chan struct{}
	handle Handle
	err    error
}

// Stats is a point-in-time snapshot of the Manager's state
type Stats struct {
	Connected        bool
	ActivePages      int
	MaxConcurrent    int
	TotalGenerations int64
	TotalLaunches    int64
	Uptime           time.Duration
}

// Manager owns the lifecycle of one browser process and the pages spawned
// from it. It enforces the concurrency cap with immediate rejection (no
// queue) and relaunches the browser transparently after a disconnect.
type Manager struct {
	launcher      Launcher
	maxConcurrent int
	timeout       time.Duration
	logger        *zap.Logger
	createdAt     time.Time

	mu      sync.Mutex
	handle  Handle      // nil until launched or after a crash
	launch  *launchCall // at most one pending launch, shared by all callers
	active  int
	watchID uint64 // invalidates stale disconnect watchers

	totalGenerations atomic.Int64
	totalLaunches    atomic.Int64
}

// NewManager creates a Manager with the resolved concurrency cap. The
// browser is launched lazily on first use.
func NewManager(launcher Launcher, maxConcurrent int, timeout time.Duration, logger *zap.Logger) *Manager {
	logger.Info("Initializing page pool",
		zap.Int("max_concurrent", maxConcurrent),
		zap.Duration("timeout", timeout))

	return &Manager{
		launcher:      launcher,
		maxConcurrent: maxConcurrent,
		timeout:       timeout,
		logger:        logger,
		createdAt:     time.Now().UTC(),
	}
}

// WithPage runs fn with an isolated page, guaranteed to be released. If the
// concurrency cap is reached it fails immediately with ErrCapacityExceeded -
// backpressure is pushed to the caller by design.
func (m *Manager) WithPage(ctx context.Context, fn func(PageSession) error) error {
	m.mu.Lock()
	if m.active >= m.maxConcurrent {
		active := m.active
		m.mu.Unlock()
		m.logger.Warn("Page pool saturated, rejecting request",
			zap.Int("active_pages", active),
			zap.Int("max_concurrent", m.maxConcurrent))
		return fmt.Errorf("%w: %d of %d pages in use", ErrCapacityExceeded, active, m.maxConcurrent)
	}
	m.active++
	m.mu.Unlock()

	// The decrement must pair with the increment above on every exit path,
	// including panics inside fn.
	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	handle, err := m.getBrowser(ctx)
	if err != nil {
		return err
	}

	page, err := handle.NewPage(m.timeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPageCreate, err)
	}
	// Close errors are swallowed: the browser may already be gone.
	defer func() { _ = page.Close() }()

	m.totalGenerations.Add(1)
	return fn(page)
}

// getBrowser returns the live handle, launching the browser if needed.
// Concurrent callers during a launch all await the same in-flight operation
// so N first calls produce exactly one browser process.
func (m *Manager) getBrowser(ctx context.Context) (Handle, error) {
	m.mu.Lock()
	if m.handle != nil {
		h := m.handle
		m.mu.Unlock()
		return h, nil
	}

	if m.launch == nil {
		call := &launchCall{done: make(chan struct{})}
		m.launch = call
		go m.runLaunch(call)
	}
	call := m.launch
	m.mu.Unlock()

	select {
	case <-call.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if call.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrowserLaunch, call.err)
	}
	return call.handle, nil
}

// runLaunch performs the actual browser launch and publishes the result to
// every waiter. The in-flight marker is cleared on all paths.
func (m *Manager) runLaunch(call *launchCall) {
	start := time.Now()
	handle, err := m.launcher.Launch(context.Background())

	m.mu.Lock()
	m.launch = nil
	if err == nil {
		m.handle = handle
		m.watchID++
		go m.watchDisconnect(handle, m.watchID)
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("Browser launch failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
	} else {
		m.totalLaunches.Add(1)
		m.logger.Info("Browser launched",
			zap.Duration("elapsed", time.Since(start)),
			zap.Int64("total_launches", m.totalLaunches.Load()))
	}

	call.handle, call.err = handle, err
	close(call.done)
}

// watchDisconnect nulls the cached handle when the browser process goes
// away so the next acquisition relaunches. In-flight generations are not
// cancelled; they fail naturally through their own page operations.
func (m *Manager) watchDisconnect(handle Handle, id uint64) {
	<-handle.Disconnected()

	m.mu.Lock()
	current := m.watchID == id
	if current {
		m.handle = nil
	}
	active := m.active
	m.mu.Unlock()

	if current {
		m.logger.Warn("Browser disconnected, next request will relaunch",
			zap.Int("active_pages", active))
	}
}

// Connected reports whether a live browser handle is cached. Pure read.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle != nil
}

// ActivePages returns the number of pages currently checked out.
func (m *Manager) ActivePages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// MaxConcurrent returns the immutable concurrency cap.
func (m *Manager) MaxConcurrent() int {
	return m.maxConcurrent
}

// Timeout returns the default generation timeout.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// GetStats returns current pool statistics
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	connected := m.handle != nil
	active := m.active
	m.mu.Unlock()

	return Stats{
		Connected:        connected,
		ActivePages:      active,
		MaxConcurrent:    m.maxConcurrent,
		TotalGenerations: m.totalGenerations.Load(),
		TotalLaunches:    m.totalLaunches.Load(),
		Uptime:           time.Since(m.createdAt),
	}
}

// Close shuts down the browser process if one is running, first draining
// in-flight generations up to the given timeout. The Manager does not latch
// a closed state; a later call may relaunch.
func (m *Manager) Close(drainTimeout time.Duration) error {
	stats := m.GetStats()
	m.logger.Info("Shutting down page pool",
		zap.Int("active_pages", stats.ActivePages),
		zap.Int64("total_generations", stats.TotalGenerations),
		zap.Duration("uptime", stats.Uptime))

	if !m.waitForActivePages(drainTimeout) {
		m.logger.Warn("Drain timeout exceeded, closing browser with pages in flight",
			zap.Int("active_pages", m.ActivePages()))
	}

	m.mu.Lock()
	handle := m.handle
	m.handle = nil
	m.watchID++ // retire the watcher for this handle
	m.mu.Unlock()

	if handle == nil {
		return nil
	}
	if err := handle.Close(); err != nil {
		return fmt.Errorf("browser close: %w", err)
	}

	m.logger.Info("Page pool shut down")
	return nil
}

// waitForActivePages polls until no pages are checked out or the timeout is
// reached. Returns true if the pool fully drained.
func (m *Manager) waitForActivePages(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if m.ActivePages() == 0 {
			return true
		}

		<-ticker.C
		if time.Now().After(deadline) {
			return false
		}
	}
}
