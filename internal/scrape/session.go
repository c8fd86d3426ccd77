package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"

	"finassist/internal/config"
)

// Session owns the single browser instance shared by the whole run. The
// orchestrator checks the session out to one state machine at a time;
// nothing touches a browsing context concurrently with that delegation.
type Session struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	listingURL string
	baseURL    string
	timeout    time.Duration
	settle     time.Duration
}

// NewSession launches the browser with the hardening flags the remote
// source tolerates and routes file downloads into downloadDir.
func NewSession(cfg config.ScrapeConfig, downloadDir string) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("start-maximized", true),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		listingURL:    cfg.ListingURL,
		baseURL:       cfg.BaseURL,
		timeout:       cfg.ElementTimeout,
		settle:        cfg.SettleDelay,
	}

	if err := chromedp.Run(browserCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(downloadDir).
			WithEventsEnabled(true)); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	return s, nil
}

// Prime visits the source's landing page so session cookies settle before
// any data page is requested.
func (s *Session) Prime(ctx context.Context) error {
	primeCtx, cancel := context.WithTimeout(s.browserCtx, s.timeout+s.settle)
	defer cancel()

	return chromedp.Run(primeCtx,
		chromedp.Navigate(s.baseURL),
		chromedp.Sleep(s.settle),
	)
}

// Anchor returns the root browsing context to the ranked listing page. The
// orchestrator calls it between companies so each iteration starts from a
// known-good state regardless of how the previous one ended.
func (s *Session) Anchor(ctx context.Context) error {
	anchorCtx, cancel := context.WithTimeout(s.browserCtx, s.timeout)
	defer cancel()

	return chromedp.Run(anchorCtx,
		chromedp.Navigate(s.listingURL),
		chromedp.WaitVisible(selListingTable, chromedp.ByQuery),
	)
}

// NewTab opens a fresh per-company browsing context. The caller owns the
// cancel and must invoke it before the next company.
func (s *Session) NewTab() (context.Context, context.CancelFunc) {
	return chromedp.NewContext(s.browserCtx)
}

// Browser exposes the root browsing context for listing reads.
func (s *Session) Browser() context.Context {
	return s.browserCtx
}

// Close tears down the browser and its allocator.
func (s *Session) Close() {
	s.browserCancel()
	s.allocCancel()
}
