package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/exp/rand"
)

// DefaultUserAgents is the rotation used when no user agents are configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:126.0) Gecko/20100101 Firefox/126.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
}

// FetcherOptions configures an HTTPFetcher. Zero values get defaults.
type FetcherOptions struct {
	// Proxies is rotated through one proxy per attempt. Nil means direct.
	Proxies *ProxyRotator
	// UserAgents is sampled randomly per attempt.
	UserAgents []string
	// Seed seeds the user agent choice. Zero seeds from the clock.
	Seed uint64
	// Attempts is the total number of tries per fetch.
	Attempts int
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// RetryDelay is the fixed wait after a non-403 failure.
	RetryDelay time.Duration
	// BlockedBackoff is multiplied by the attempt number after a 403.
	BlockedBackoff time.Duration
	// Referer is sent with every request.
	Referer      string
	MaxRedirects int
}

// An HTTPFetcher fetches pages directly over HTTP, rotating proxies and user
// agents and retrying when the site pushes back.
type HTTPFetcher struct {
	opts   FetcherOptions
	client *http.Client
	rng    *rand.Rand

	// sleep is swapped out in tests.
	sleep func(context.Context, time.Duration) error
}

type proxyKey struct{}

// NewHTTPFetcher returns an HTTPFetcher configured by opts.
func NewHTTPFetcher(opts FetcherOptions) *HTTPFetcher {
	if len(opts.UserAgents) == 0 {
		opts.UserAgents = DefaultUserAgents
	}
	if opts.Attempts < 1 {
		opts.Attempts = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.BlockedBackoff <= 0 {
		opts.BlockedBackoff = 2 * time.Second
	}
	if opts.Referer == "" {
		opts.Referer = DefaultOrigin + "/"
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 5
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	// The proxy for an attempt rides along in the request context so one
	// transport can serve the whole rotation.
	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		proxy, _ := req.Context().Value(proxyKey{}).(*url.URL)
		return proxy, nil
	}

	maxRedirects := opts.MaxRedirects
	return &HTTPFetcher{
		opts: opts,
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		rng:   newRand(opts.Seed),
		sleep: sleep,
	}
}

// Fetch retrieves target and parses it as HTML. It returns an error wrapping
// ErrFetchExhausted, along with the cause of the last failure, if every
// attempt fails.
func (hf *HTTPFetcher) Fetch(ctx context.Context, target string) (*goquery.Document, error) {
	slog.Debug("fetching", "URL", target)

	var lastErr error
	for attempt := 0; attempt < hf.opts.Attempts; attempt++ {
		proxy := hf.opts.Proxies.Next()
		if proxy != nil {
			slog.Debug("using proxy", "host", proxy.Host, "pool", hf.opts.Proxies.Len())
		}

		doc, err := hf.attempt(ctx, target, proxy)
		if err == nil {
			return doc, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		slog.Info("fetch failed", "URL", target, "attempt", attempt+1, "attempts", hf.opts.Attempts, "err", err)

		if attempt == hf.opts.Attempts-1 {
			break
		}
		delay := hf.opts.RetryDelay
		if errors.Is(err, ErrFetchBlocked) {
			delay = time.Duration(attempt+1) * hf.opts.BlockedBackoff
		}
		slog.Debug("backing off", "URL", target, "delay", delay)
		if err := hf.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %q after %d attempts: %w", ErrFetchExhausted, target, hf.opts.Attempts, lastErr)
}

func (hf *HTTPFetcher) attempt(ctx context.Context, target string, proxy *url.URL) (*goquery.Document, error) {
	reqCtx := ctx
	if proxy != nil {
		reqCtx = context.WithValue(ctx, proxyKey{}, proxy)
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	hf.setHeaders(req)

	resp, err := hf.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %v", ErrFetchTimeout, err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, ErrFetchBlocked
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %v", ErrFetchTimeout, err)
		}
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return doc, nil
}

// setHeaders makes the request look like it came from a browser.
func (hf *HTTPFetcher) setHeaders(req *http.Request) {
	agents := hf.opts.UserAgents
	req.Header.Set("User-Agent", agents[hf.rng.Intn(len(agents))])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	req.Header.Set("Sec-Fetch-User", "?1")
	req.Header.Set("Cache-Control", "max-age=0")
	req.Header.Set("Referer", hf.opts.Referer)
	req.Header.Set("DNT", "1")
}
