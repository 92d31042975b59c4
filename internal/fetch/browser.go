// Package fetch loads a URL in a short-lived headless Chrome and returns
// the rendered document HTML.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	cdpfetch "github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// NavigationTimeout bounds navigation plus network-idle settling.
const NavigationTimeout = 15 * time.Second

// closeTimeout bounds the graceful browser close before the process is killed.
const closeTimeout = 5 * time.Second

// launchFlags keep a single browser small enough for a memory-capped
// worker. The sandbox is off because the worker itself is sandboxed.
var launchFlags = map[string]any{
	"disable-dev-shm-usage":                  true,
	"disable-background-networking":          true,
	"disable-background-timer-throttling":    true,
	"disable-backgrounding-occluded-windows": true,
	"disable-breakpad":                       true,
	"disable-client-side-phishing-detection": true,
	"disable-component-update":               true,
	"disable-default-apps":                   true,
	"disable-extensions":                     true,
	"disable-features":                       "TranslateUI,BlinkGenPropertyTrees",
	"disable-hang-monitor":                   true,
	"disable-ipc-flooding-protection":        true,
	"disable-popup-blocking":                 true,
	"disable-prompt-on-repost":               true,
	"disable-renderer-backgrounding":         true,
	"disable-sync":                           true,
	"metrics-recording-only":                 true,
	"no-service-autorun":                     true,
	"password-store":                         "basic",
	"use-mock-keychain":                      true,
	"single-process":                         true,
	"no-sandbox":                             true,
	"disable-setuid-sandbox":                 true,
}

// blockedResources are subresource types failed at the interception layer.
var blockedResources = map[network.ResourceType]bool{
	network.ResourceTypeImage:      true,
	network.ResourceTypeStylesheet: true,
	network.ResourceTypeFont:       true,
	network.ResourceTypeMedia:      true,
}

// Page is a rendered document.
type Page struct {
	URL     string
	HTML    string
	Blocked int64 // subresource requests failed by interception
}

// Config configures the browser fetcher.
type Config struct {
	// ExecPath overrides the Chrome binary. Empty uses chromedp's lookup.
	ExecPath string
}

// Browser fetches pages with one isolated Chrome process per call.
type Browser struct {
	cfg        Config
	navTimeout time.Duration
	logger     *slog.Logger

	// onLaunch, when set, receives the Chrome process once it is running.
	onLaunch func(*os.Process)
}

// NewBrowser creates a Browser. A nil logger uses slog.Default().
func NewBrowser(cfg Config, logger *slog.Logger) *Browser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Browser{cfg: cfg, navTimeout: NavigationTimeout, logger: logger}
}

// ValidURL reports whether raw is an absolute http(s) URL with a host.
func ValidURL(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (b *Browser) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Headless,
	}
	for name, value := range launchFlags {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}
	return opts
}

// Fetch loads rawURL and returns the document HTML once the network has
// settled. Every failure is a *Error. The browser process is gone when
// Fetch returns, whichever path it took.
func (b *Browser) Fetch(ctx context.Context, rawURL string) (result *Page, err error) {
	if !ValidURL(rawURL) {
		return nil, InvalidURLError()
	}

	start := time.Now()
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, b.allocatorOptions()...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			b.logger.Debug("chrome error", "url", rawURL, "detail", fmt.Sprintf(format, args...))
		}),
	)
	launched := false
	defer func() {
		b.teardown(browserCtx, launched, cancelBrowser, cancelAlloc)
		if r := recover(); r != nil {
			result, err = nil, extractionError(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := chromedp.Run(browserCtx); err != nil {
		return nil, launchError(err)
	}
	launched = true
	if b.onLaunch != nil {
		b.onLaunch(chromedp.FromContext(browserCtx).Browser.Process())
	}

	var blocked atomic.Int64
	idle := newIdleWatcher()
	b.listen(browserCtx, idle, &blocked)

	if err := chromedp.Run(browserCtx,
		cdpfetch.Enable(),
		page.SetLifecycleEventsEnabled(true),
	); err != nil {
		return nil, launchError(err)
	}

	navCtx, cancelNav := context.WithTimeout(browserCtx, b.navTimeout)
	defer cancelNav()

	if err := chromedp.Run(navCtx, navigate(rawURL, idle)); err != nil {
		if errors.Is(navCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, timeoutError(rawURL, err)
		}
		return nil, navigationError(err)
	}

	var html string
	if err := chromedp.Run(browserCtx, outerHTML(&html)); err != nil {
		return nil, extractionError(err)
	}
	if strings.TrimSpace(html) == "" {
		return nil, emptyContentError()
	}

	b.logger.Debug("page fetched",
		"url", rawURL,
		"bytes", len(html),
		"blocked", blocked.Load(),
		"duration_ms", time.Since(start).Milliseconds())

	return &Page{URL: rawURL, HTML: html, Blocked: blocked.Load()}, nil
}

// teardown closes the browser gracefully, then kills the process and
// waits for it to exit. A browser that never launched only needs its
// contexts cancelled: chromedp.Cancel would consume the allocation token
// and leave cancelBrowser waiting for a process that does not exist.
func (b *Browser) teardown(browserCtx context.Context, launched bool, cancelBrowser, cancelAlloc context.CancelFunc) {
	if launched {
		closeCtx, cancel := context.WithTimeout(browserCtx, closeTimeout)
		if err := chromedp.Cancel(closeCtx); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Debug("browser close", "error", err)
		}
		cancel()
	}
	cancelBrowser()
	cancelAlloc()
}

// listen installs the request interceptor and lifecycle tracking on the
// current tab. Handlers must not block the event loop, so CDP commands
// run in their own goroutines.
func (b *Browser) listen(ctx context.Context, idle *idleWatcher, blocked *atomic.Int64) {
	chromedp.ListenTarget(ctx, func(ev any) {
		switch ev := ev.(type) {
		case *cdpfetch.EventRequestPaused:
			go func() {
				c := chromedp.FromContext(ctx)
				execCtx := cdp.WithExecutor(ctx, c.Target)
				var err error
				if blockedResources[ev.ResourceType] {
					blocked.Add(1)
					err = cdpfetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
				} else {
					err = cdpfetch.ContinueRequest(ev.RequestID).Do(execCtx)
				}
				if err != nil && ctx.Err() == nil {
					b.logger.Debug("intercept request", "request_id", ev.RequestID, "error", err)
				}
			}()
		case *page.EventLifecycleEvent:
			idle.observe(ev)
		}
	})
}

// navigate loads target and waits until the new document's network is
// almost idle (at most two connections for 500ms).
func navigate(target string, idle *idleWatcher) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, loaderID, errorText, _, err := page.Navigate(target).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return fmt.Errorf("page load error %s", errorText)
		}
		if loaderID == "" {
			return nil
		}
		return idle.wait(ctx, loaderID)
	})
}

func outerHTML(out *string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		root, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		*out, err = dom.GetOuterHTML().WithNodeID(root.NodeID).Do(ctx)
		return err
	})
}

// idleWatcher records which document loaders reached network idle.
type idleWatcher struct {
	mu      sync.Mutex
	idle    map[cdp.LoaderID]bool
	changed chan struct{}
}

func newIdleWatcher() *idleWatcher {
	return &idleWatcher{idle: make(map[cdp.LoaderID]bool), changed: make(chan struct{})}
}

func (w *idleWatcher) observe(ev *page.EventLifecycleEvent) {
	if ev.Name != "networkAlmostIdle" {
		return
	}
	w.mu.Lock()
	w.idle[ev.LoaderID] = true
	ch := w.changed
	w.changed = make(chan struct{})
	w.mu.Unlock()
	close(ch)
}

func (w *idleWatcher) wait(ctx context.Context, loaderID cdp.LoaderID) error {
	for {
		w.mu.Lock()
		done := w.idle[loaderID]
		ch := w.changed
		w.mu.Unlock()
		if done {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
