package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// recordSleeps replaces hf's backoff with one that records the requested
// delays instead of waiting.
func recordSleeps(hf *HTTPFetcher) *[]time.Duration {
	var delays []time.Duration
	hf.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return &delays
}

func TestFetchRetries(t *testing.T) {
	tcs := []struct {
		name     string
		statuses []int
		// wantErrs are all expected to match with errors.Is.
		wantErrs   []error
		wantCalls  int32
		wantDelays []time.Duration
	}{{
		name:      "first try",
		statuses:  []int{200},
		wantCalls: 1,
	}, {
		name:       "blocked then ok",
		statuses:   []int{403, 403, 200},
		wantCalls:  3,
		wantDelays: []time.Duration{2 * time.Second, 4 * time.Second},
	}, {
		name:       "server error then ok",
		statuses:   []int{500, 200},
		wantCalls:  2,
		wantDelays: []time.Duration{2 * time.Second},
	}, {
		name:       "always blocked",
		statuses:   []int{403, 403, 403},
		wantErrs:   []error{ErrFetchExhausted, ErrFetchBlocked},
		wantCalls:  3,
		wantDelays: []time.Duration{2 * time.Second, 4 * time.Second},
	}, {
		name:       "always failing",
		statuses:   []int{502, 503, 500},
		wantErrs:   []error{ErrFetchExhausted},
		wantCalls:  3,
		wantDelays: []time.Duration{2 * time.Second, 2 * time.Second},
	}}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := calls.Add(1)
				w.WriteHeader(tc.statuses[n-1])
				fmt.Fprint(w, `<html><body><h3>ok</h3></body></html>`)
			}))
			defer srv.Close()

			hf := NewHTTPFetcher(FetcherOptions{})
			delays := recordSleeps(hf)

			doc, err := hf.Fetch(context.Background(), srv.URL)
			if len(tc.wantErrs) == 0 {
				if err != nil {
					t.Fatalf("Fetch() returned unexpected error: %v", err)
				}
				if got := doc.Find("h3").Text(); got != "ok" {
					t.Errorf("document has h3 %q, want %q", got, "ok")
				}
			}
			for _, want := range tc.wantErrs {
				if !errors.Is(err, want) {
					t.Errorf("Fetch() returned %v, want error matching %v", err, want)
				}
			}
			if got := calls.Load(); got != tc.wantCalls {
				t.Errorf("server saw %d requests, want %d", got, tc.wantCalls)
			}
			if diff := cmp.Diff(tc.wantDelays, *delays); diff != "" {
				t.Errorf("backoff delays mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFetchHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		fmt.Fprint(w, `<html></html>`)
	}))
	defer srv.Close()

	hf := NewHTTPFetcher(FetcherOptions{})
	if _, err := hf.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("Fetch() returned unexpected error: %v", err)
	}

	if ua := got.Get("User-Agent"); !slices.Contains(DefaultUserAgents, ua) {
		t.Errorf("User-Agent %q is not from the rotation", ua)
	}
	for header, want := range map[string]string{
		"Referer":         "https://www.cinemark.com/",
		"DNT":             "1",
		"Accept-Language": "en-US,en;q=0.5",
	} {
		if got.Get(header) != want {
			t.Errorf("header %s = %q, want %q", header, got.Get(header), want)
		}
	}
	if got.Get("Accept") == "" {
		t.Errorf("expected an Accept header")
	}
}

// userAgentSequence returns the user agents a fetcher seeded with seed sends
// over several fetches.
func userAgentSequence(t *testing.T, seed uint64) []string {
	t.Helper()
	var agents []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents = append(agents, r.Header.Get("User-Agent"))
		fmt.Fprint(w, `<html></html>`)
	}))
	defer srv.Close()

	hf := NewHTTPFetcher(FetcherOptions{Seed: seed})
	for range 20 {
		if _, err := hf.Fetch(context.Background(), srv.URL); err != nil {
			t.Fatalf("Fetch() returned unexpected error: %v", err)
		}
	}
	return agents
}

func TestFetchUserAgentSeed(t *testing.T) {
	first := userAgentSequence(t, 1)
	if diff := cmp.Diff(first, userAgentSequence(t, 1)); diff != "" {
		t.Errorf("same seed picked different user agents (-first +second):\n%s", diff)
	}
	if cmp.Equal(first, userAgentSequence(t, 2)) {
		t.Errorf("seeds 1 and 2 picked the same user agents: %v", first)
	}
}

func TestFetchRotatesProxies(t *testing.T) {
	newProxy := func(hits *atomic.Int32) (*httptest.Server, *url.URL) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			fmt.Fprint(w, `<html></html>`)
		}))
		u, err := url.Parse(srv.URL)
		if err != nil {
			t.Fatal(err)
		}
		return srv, u
	}
	var hitsA, hitsB atomic.Int32
	srvA, proxyA := newProxy(&hitsA)
	defer srvA.Close()
	srvB, proxyB := newProxy(&hitsB)
	defer srvB.Close()

	hf := NewHTTPFetcher(FetcherOptions{Proxies: NewProxyRotator([]*url.URL{proxyA, proxyB})})
	for i := 0; i < 3; i++ {
		// The target is never dialed directly; the proxy answers for it.
		if _, err := hf.Fetch(context.Background(), "http://theater.invalid/page"); err != nil {
			t.Fatalf("Fetch() #%d returned unexpected error: %v", i, err)
		}
	}
	if hitsA.Load() != 2 || hitsB.Load() != 1 {
		t.Errorf("proxy hits = (%d, %d), want (2, 1)", hitsA.Load(), hitsB.Load())
	}
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	hf := NewHTTPFetcher(FetcherOptions{Attempts: 1, Timeout: 50 * time.Millisecond})
	_, err := hf.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrFetchTimeout) || !errors.Is(err, ErrFetchExhausted) {
		t.Errorf("Fetch() returned %v, want a timeout after exhausting attempts", err)
	}
}

func TestFetchCanceledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	hf := NewHTTPFetcher(FetcherOptions{})
	hf.sleep = func(context.Context, time.Duration) error {
		cancel()
		return ctx.Err()
	}
	if _, err := hf.Fetch(ctx, srv.URL); !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch() returned %v, want %v", err, context.Canceled)
	}
}
