package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// A Scraper walks a theater's pages with a Fetcher. Seat pages are fetched
// one at a time, spaced by Interval, so the site doesn't flag us as a bot.
type Scraper struct {
	Fetcher Fetcher
	// Origin is prepended to relative booking links.
	Origin string
	// Interval is the wait between consecutive seat page fetches.
	Interval DurationRange

	// sleep is swapped out in tests.
	sleep func(context.Context, time.Duration) error
}

// NewScraper returns a Scraper that fetches with fetcher.
func NewScraper(fetcher Fetcher, origin string, interval DurationRange) *Scraper {
	if origin == "" {
		origin = DefaultOrigin
	}
	return &Scraper{
		Fetcher:  fetcher,
		Origin:   origin,
		Interval: interval,
		sleep:    sleep,
	}
}

// Movies returns the movies listed on the theater page.
func (sc *Scraper) Movies(ctx context.Context, theaterURL string) ([]MovieInfo, error) {
	doc, err := sc.Fetcher.Fetch(ctx, theaterURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load theater page %q: %w", theaterURL, err)
	}
	movies := ExtractMovies(doc)
	slog.Debug("finished parsing movies", "nmovies", len(movies))
	return movies, nil
}

// Showtimes returns movieName's showtimes on the theater page. An unlisted
// movie yields an empty list, not an error.
func (sc *Scraper) Showtimes(ctx context.Context, theaterURL, movieName string) ([]Showtime, error) {
	doc, err := sc.Fetcher.Fetch(ctx, theaterURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load theater page %q: %w", theaterURL, err)
	}
	showtimes := ExtractShowtimes(doc, movieName, sc.Origin)
	slog.Debug("finished parsing showtimes", "movie", movieName, "nshowtimes", len(showtimes))
	return showtimes, nil
}

// Seats returns every seat in showtime's seat map.
func (sc *Scraper) Seats(ctx context.Context, showtime Showtime) ([]Seat, error) {
	doc, err := sc.Fetcher.Fetch(ctx, showtime.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load seat page %q: %w", showtime.URL, err)
	}
	seats := ExtractSeats(doc, showtime)
	var available int
	for _, seat := range seats {
		if seat.IsAvailable {
			available++
		}
	}
	slog.Debug("crawled seats", "showtime", showtime.Time, "nseats", len(seats), "available", available)
	return seats, nil
}

// ScrapeAll collects the seats of every showtime, in order. onProgress, if
// set, is called with (i+1, total) before the i'th showtime is fetched.
//
// A showtime that fails contributes no seats; the rest are still scraped.
// The only error is ctx ending, in which case the seats gathered so far are
// returned with it.
func (sc *Scraper) ScrapeAll(ctx context.Context, showtimes []Showtime, onProgress func(current, total int)) ([]Seat, error) {
	wait := sc.sleep
	if wait == nil {
		wait = sleep
	}

	var (
		all      []Seat
		failures []Showtime
	)
	for i, showtime := range showtimes {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		if onProgress != nil {
			onProgress(i+1, len(showtimes))
		}

		seats, err := sc.Seats(ctx, showtime)
		if err != nil {
			if ctx.Err() != nil {
				return all, ctx.Err()
			}
			slog.Info("failed to check seats", "showtime", showtime.Time, "page", showtime.URL, "err", err)
			failures = append(failures, showtime)
		}
		all = append(all, seats...)

		if i < len(showtimes)-1 {
			if err := wait(ctx, sc.Interval.Random()); err != nil {
				return all, err
			}
		}
	}

	if len(failures) > 0 {
		links := make([]string, 0, len(failures))
		for _, showtime := range failures {
			links = append(links, showtime.URL)
		}
		slog.Warn("some showtimes could not be checked",
			"failed", len(failures),
			"total", len(showtimes),
			"failureRate", float32(len(failures))/float32(len(showtimes)),
			"pages", strings.Join(links, " "))
	}
	slog.Debug("seat crawlers finished", "nseats", len(all))
	return all, nil
}
