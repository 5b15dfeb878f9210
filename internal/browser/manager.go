// File: internal/browser/manager.go

// Package browser owns the Chrome process driven over CDP: the
// allocator/tab lifecycle, per-identity storage state persistence, and
// the armed-response interceptor the scrapers are built on.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"pvmigrate/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Manager handles the browser process lifecycle and tab creation.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu   sync.Mutex
	tabs []*Tab
}

// NewManager creates the exec allocator for a Chrome instance. The
// browser process itself starts lazily with the first tab.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	for _, arg := range cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)

	m := &Manager{
		logger:      logger.Named("browser"),
		cfg:         cfg,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
	}
	m.logger.Info("Browser manager created.", zap.Bool("headless", cfg.Headless))
	return m
}

// Tab is a single browser target with the network domain enabled.
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	closeOnce sync.Once
}

// NewTab opens a tab and connects CDP. The network domain is enabled up
// front so storage restore and response interception work before the
// first navigation.
func (m *Manager) NewTab(ctx context.Context) (*Tab, error) {
	tabCtx, tabCancel := chromedp.NewContext(m.allocCtx)

	// Starting the target through a blank run surfaces launch failures
	// here instead of on the first real action.
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}

	t := &Tab{
		ctx:    tabCtx,
		cancel: tabCancel,
		logger: m.logger.Named("tab"),
	}

	m.mu.Lock()
	m.tabs = append(m.tabs, t)
	m.mu.Unlock()

	m.logger.Debug("Browser tab opened.")
	return t, nil
}

// Context returns the chromedp context for running actions against the tab.
func (t *Tab) Context() context.Context {
	return t.ctx
}

// Navigate loads a URL and waits for the document body to be ready.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()

	t.logger.Info("Navigating.", zap.String("url", url))
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Close tears down the tab.
func (t *Tab) Close() {
	t.closeOnce.Do(func() {
		t.logger.Debug("Closing browser tab.")
		t.cancel()
	})
}

// Shutdown closes all tabs and the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager.")

	m.mu.Lock()
	tabs := m.tabs
	m.tabs = nil
	m.mu.Unlock()

	for _, t := range tabs {
		t.Close()
	}

	done := make(chan struct{})
	go func() {
		m.allocCancel()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Browser manager shutdown complete.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for browser shutdown: %w", ctx.Err())
	case <-time.After(shutdownGracePeriod):
		return fmt.Errorf("browser did not exit within %s", shutdownGracePeriod)
	}
}

// CombineContext creates a context canceled when either parent is
// canceled, so tab actions respect both the tab lifetime and the
// caller's deadline.
func CombineContext(parentCtx, secondaryCtx context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(parentCtx)

	go func() {
		select {
		case <-secondaryCtx.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
