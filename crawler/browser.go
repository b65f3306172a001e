package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	playwright "github.com/playwright-community/playwright-go"
	"golang.org/x/exp/rand"
)

var (
	// ErrNotInstalled means no browser is available to fetch with. Retrying
	// won't help.
	ErrNotInstalled = errors.New("browser not installed")
	// ErrBrowserTimeout means the page didn't load in time.
	ErrBrowserTimeout = errors.New("browser fetch timed out")
	// ErrFetchFailed means the browser loaded nothing usable.
	ErrFetchFailed = errors.New("browser fetch failed")
)

// installProbeTimeout bounds CheckInstalled.
const installProbeTimeout = time.Second

// A BrowserFetcher loads pages in a headless browser. Pages that only render
// their seat maps client side need this instead of an HTTPFetcher.
type BrowserFetcher struct {
	// interval is the pause between page loads on this fetcher.
	interval DurationRange
	timeout  time.Duration
	rng      *rand.Rand

	// start is swapped out in tests.
	start      func() (playwright.Browser, func(), error)
	launchOnce sync.Once
	// Exactly one of ready and failed is closed once the launch finishes.
	ready  chan struct{}
	failed chan struct{}

	mu        sync.Mutex
	browser   playwright.Browser
	cleanup   func()
	launchErr error
	lastVisit time.Time
}

// NewBrowserFetcher returns a fetcher whose page loads are spaced by interval
// and bounded by timeout. Call Launch before fetching.
func NewBrowserFetcher(interval DurationRange, timeout time.Duration) *BrowserFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BrowserFetcher{
		interval: interval,
		timeout:  timeout,
		rng:      newRand(0),
		start:    startBrowser,
		ready:    make(chan struct{}),
		failed:   make(chan struct{}),
	}
}

// Launch starts the browser in the background. Only the first call does
// anything.
func (bf *BrowserFetcher) Launch() {
	bf.launchOnce.Do(func() {
		go func() {
			browser, cleanup, err := bf.start()
			if err != nil {
				if !errors.Is(err, ErrNotInstalled) {
					err = fmt.Errorf("%w: %w", ErrNotInstalled, err)
				}
				slog.Info("browser unavailable", "err", err)
				bf.mu.Lock()
				bf.launchErr = err
				bf.mu.Unlock()
				close(bf.failed)
				return
			}
			bf.mu.Lock()
			bf.browser = browser
			bf.cleanup = cleanup
			bf.mu.Unlock()
			close(bf.ready)
		}()
	})
}

// CheckInstalled reports whether the browser is usable. It resolves on
// whichever answers first: the launch finishing or a direct connection
// check. It gives up after about a second, or at once if the launch failed.
func (bf *BrowserFetcher) CheckInstalled(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, installProbeTimeout)
	defer cancel()

	ping := make(chan bool, 1)
	go func() { ping <- bf.connected() }()

	for {
		select {
		case <-bf.ready:
			// The browser may have been closed since it launched.
			return bf.connected()
		case <-bf.failed:
			return false
		case ok := <-ping:
			if ok {
				return true
			}
			ping = nil
		case <-ctx.Done():
			return bf.connected()
		}
	}
}

// LaunchErr returns why the browser failed to launch, wrapping
// ErrNotInstalled, or nil if it hasn't failed.
func (bf *BrowserFetcher) LaunchErr() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	return bf.launchErr
}

func (bf *BrowserFetcher) connected() bool {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	return bf.browser != nil && bf.browser.IsConnected()
}

// FetchHTML loads url and returns the rendered HTML.
func (bf *BrowserFetcher) FetchHTML(ctx context.Context, url string) (string, error) {
	if !bf.connected() {
		if err := bf.LaunchErr(); err != nil {
			return "", err
		}
		return "", ErrNotInstalled
	}
	if err := bf.pace(ctx); err != nil {
		return "", err
	}

	bf.mu.Lock()
	browser := bf.browser
	bf.mu.Unlock()

	agent := DefaultUserAgents[bf.rng.Intn(len(DefaultUserAgents))]
	browserCtx, err := browser.NewContext(playwright.BrowserNewContextOptions{UserAgent: playwright.String(agent)})
	if err != nil {
		return "", fmt.Errorf("%w: failed to create context: %v", ErrFetchFailed, err)
	}
	defer browserCtx.Close()

	page, err := browserCtx.NewPage()
	if err != nil {
		return "", fmt.Errorf("%w: failed to create page: %v", ErrFetchFailed, err)
	}
	defer page.Close()

	// Closing the page unblocks Goto if the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = page.Close() })
	defer stop()

	slog.Debug("visiting", "URL", url)
	timeoutMS := float64(bf.timeout.Milliseconds())
	if _, err := page.Goto(url, playwright.PageGotoOptions{Timeout: &timeoutMS}); err != nil {
		if ctx.Err() != nil || errors.Is(err, playwright.ErrTimeout) {
			return "", fmt.Errorf("%w: %q: %v", ErrBrowserTimeout, url, err)
		}
		return "", fmt.Errorf("%w: failed to load page at %q: %v", ErrFetchFailed, url, err)
	}

	content, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("%w: failed to read page content: %v", ErrFetchFailed, err)
	}
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: empty page at %q", ErrFetchFailed, url)
	}
	return content, nil
}

// Fetch implements Fetcher.
func (bf *BrowserFetcher) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	content, err := bf.FetchHTML(ctx, url)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return doc, nil
}

// pace waits out the interval since this fetcher's previous page load.
func (bf *BrowserFetcher) pace(ctx context.Context) error {
	bf.mu.Lock()
	var wait time.Duration
	if !bf.lastVisit.IsZero() {
		wait = bf.interval.random(bf.rng) - time.Since(bf.lastVisit)
	}
	bf.mu.Unlock()

	if err := sleep(ctx, wait); err != nil {
		return err
	}

	bf.mu.Lock()
	bf.lastVisit = time.Now()
	bf.mu.Unlock()
	return nil
}

// Close shuts down the browser, if it was started.
func (bf *BrowserFetcher) Close() {
	bf.mu.Lock()
	cleanup := bf.cleanup
	bf.browser, bf.cleanup = nil, nil
	bf.mu.Unlock()
	if cleanup != nil {
		cleanup()
	}
}

// startBrowser launches headless Chromium through playwright. The returned
// func stops both.
func startBrowser() (playwright.Browser, func(), error) {
	if err := playwright.Install(&playwright.RunOptions{SkipInstallBrowsers: true}); err != nil {
		return nil, nil, fmt.Errorf("failed to install playwright driver: %w", err)
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		// Seat maps refuse to render for obviously automated browsers.
		Args: []string{"--disable-blink-features=AutomationControlled"},
	})
	if err != nil {
		stopErr := pw.Stop()
		return nil, nil, fmt.Errorf("%w: failed to launch chromium (run `npx playwright install chromium`): %w, stopping playwright: %v", ErrNotInstalled, err, stopErr)
	}
	stop := func() {
		if err := browser.Close(); err != nil {
			slog.Info("failed to close browser", "err", err)
		}
		if err := pw.Stop(); err != nil {
			slog.Info("failed to stop playwright", "err", err)
		}
	}
	return browser, stop, nil
}
