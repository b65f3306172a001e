// Package crawler fetches theater and seat-map pages and turns them into
// movies, showtimes, and seats.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/exp/rand"
)

// DefaultOrigin is the site that theater and seat pages are served from.
const DefaultOrigin = "https://www.cinemark.com"

var (
	// ErrFetchBlocked means the site answered 403.
	ErrFetchBlocked = errors.New("request blocked by server (403)")
	// ErrFetchTimeout means the request didn't complete in time.
	ErrFetchTimeout = errors.New("request timed out")
	// ErrFetchExhausted means every attempt failed.
	ErrFetchExhausted = errors.New("fetch failed after all retries")
)

// A Fetcher retrieves a page and returns it as a queryable document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*goquery.Document, error)
}

// A Seat is a single seat in a showtime's seat map.
type Seat struct {
	// Row is the single character row label, e.g. "F".
	Row string `json:"row"`
	// Column is the seat number within the row.
	Column int `json:"column"`
	// Time is the label of the showtime the seat belongs to.
	Time        string `json:"time"`
	IsAvailable bool   `json:"isAvailable"`
	// URL is where the seat can be booked.
	URL string `json:"url"`
}

// A Showtime is a single bookable screening of a movie.
type Showtime struct {
	Time   string `json:"time"`
	Format string `json:"format"`
	URL    string `json:"url"`
}

// MovieInfo is display metadata for a movie playing at a theater. Empty
// fields were not present on the page.
type MovieInfo struct {
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
	Rating   string `json:"rating,omitempty"`
	Runtime  string `json:"runtime,omitempty"`
}

// DurationRange is a range of allowable durations.
type DurationRange struct {
	// Lower is the lower bound on a duration.
	Lower time.Duration
	// Upper is the upper bound on a duration.
	Upper time.Duration
}

// Random returns a random duration within the range.
func (dr DurationRange) Random() time.Duration {
	return dr.random(jitter)
}

func (dr DurationRange) random(rng *rand.Rand) time.Duration {
	if dr.Upper <= dr.Lower {
		return dr.Lower
	}
	return time.Duration(rng.Int63n(int64(dr.Upper-dr.Lower))) + dr.Lower
}

// jitter backs DurationRange.Random. The top-level x/exp/rand functions
// share a fixed seed, so every process would wait the same delays.
var jitter = newRand(0)

// newRand returns a generator that is safe for concurrent use. A zero seed
// seeds from the clock.
func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := &rand.LockedSource{}
	src.Seed(seed)
	return rand.New(src)
}

func (dr DurationRange) String() string {
	if dr.Lower == dr.Upper {
		return dr.Lower.String()
	}
	return fmt.Sprintf("%s-%s", dr.Lower, dr.Upper)
}

// ParseDurationRange parses either a single duration or a "lower-upper"
// range. Bare numbers are seconds, so "3-5" and "3s-5s" are the same range.
func ParseDurationRange(input string) (DurationRange, error) {
	lowerStr, upperStr, isRange := strings.Cut(strings.TrimSpace(input), "-")
	lower, err := parseSeconds(lowerStr)
	if err != nil {
		return DurationRange{}, fmt.Errorf("invalid interval %q: %w", input, err)
	}
	if !isRange {
		return DurationRange{Lower: lower, Upper: lower}, nil
	}
	upper, err := parseSeconds(upperStr)
	if err != nil {
		return DurationRange{}, fmt.Errorf("invalid interval %q: %w", input, err)
	}
	if upper < lower {
		return DurationRange{}, fmt.Errorf("upper bound %s cannot be less than lower bound %s", upper, lower)
	}
	return DurationRange{Lower: lower, Upper: upper}, nil
}

func parseSeconds(input string) (time.Duration, error) {
	input = strings.TrimSpace(input)
	if secs, err := strconv.Atoi(input); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative duration %d", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(input)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", d)
	}
	return d, nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
