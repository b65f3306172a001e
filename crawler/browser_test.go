package crawler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	playwright "github.com/playwright-community/playwright-go"
)

// fakeBrowser stands in for a launched browser. Only IsConnected is
// implemented.
type fakeBrowser struct {
	playwright.Browser
}

func (fakeBrowser) IsConnected() bool { return true }

func TestBrowserNotLaunched(t *testing.T) {
	bf := NewBrowserFetcher(DurationRange{}, time.Second)

	start := time.Now()
	if bf.CheckInstalled(context.Background()) {
		t.Fatalf("CheckInstalled() = true for a browser that was never launched")
	}
	if elapsed := time.Since(start); elapsed > 3*installProbeTimeout {
		t.Errorf("CheckInstalled() took %v, want about %v", elapsed, installProbeTimeout)
	}

	if _, err := bf.FetchHTML(context.Background(), "https://www.cinemark.com/"); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("FetchHTML() returned %v, want %v", err, ErrNotInstalled)
	}
	if _, err := bf.Fetch(context.Background(), "https://www.cinemark.com/"); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("Fetch() returned %v, want %v", err, ErrNotInstalled)
	}

	// Closing an unlaunched browser is fine.
	bf.Close()
}

func TestBrowserCheckInstalledCanceled(t *testing.T) {
	bf := NewBrowserFetcher(DurationRange{}, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if bf.CheckInstalled(ctx) {
		t.Errorf("CheckInstalled() = true with a canceled context and no browser")
	}
}

func TestBrowserPace(t *testing.T) {
	bf := NewBrowserFetcher(DurationRange{Lower: time.Hour, Upper: time.Hour}, time.Second)

	// The first visit doesn't wait.
	if err := bf.pace(context.Background()); err != nil {
		t.Fatalf("pace() returned unexpected error: %v", err)
	}

	// The second waits out the interval, so a canceled context ends it.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := bf.pace(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("pace() returned %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestBrowserClosed(t *testing.T) {
	bf := NewBrowserFetcher(DurationRange{}, time.Second)
	var stopped bool
	bf.start = func() (playwright.Browser, func(), error) {
		return fakeBrowser{}, func() { stopped = true }, nil
	}
	bf.Launch()

	if !bf.CheckInstalled(context.Background()) {
		t.Fatalf("CheckInstalled() = false after a successful launch")
	}
	bf.Close()
	if !stopped {
		t.Errorf("Close() didn't stop the browser")
	}
	if bf.CheckInstalled(context.Background()) {
		t.Errorf("CheckInstalled() = true after Close()")
	}
	if _, err := bf.FetchHTML(context.Background(), "https://www.cinemark.com/"); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("FetchHTML() after Close() returned %v, want %v", err, ErrNotInstalled)
	}
}

func TestBrowserLaunchFails(t *testing.T) {
	bf := NewBrowserFetcher(DurationRange{}, time.Second)
	bf.start = func() (playwright.Browser, func(), error) {
		return nil, nil, errors.New("no chromium")
	}
	bf.Launch()

	start := time.Now()
	if bf.CheckInstalled(context.Background()) {
		t.Fatalf("CheckInstalled() = true after a failed launch")
	}
	if elapsed := time.Since(start); elapsed >= installProbeTimeout {
		t.Errorf("CheckInstalled() took %v, want it to return as soon as the launch fails", elapsed)
	}

	err := bf.LaunchErr()
	if !errors.Is(err, ErrNotInstalled) || !strings.Contains(err.Error(), "no chromium") {
		t.Errorf("LaunchErr() = %v, want %v wrapping the launch failure", err, ErrNotInstalled)
	}
	if _, err := bf.FetchHTML(context.Background(), "https://www.cinemark.com/"); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("FetchHTML() returned %v, want %v", err, ErrNotInstalled)
	}
}

func TestBrowserNotLaunchedHasNoLaunchErr(t *testing.T) {
	bf := NewBrowserFetcher(DurationRange{}, time.Second)
	if err := bf.LaunchErr(); err != nil {
		t.Errorf("LaunchErr() = %v before Launch(), want nil", err)
	}
}
