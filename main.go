package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/kevinGC/seatseeker/config"
	"github.com/kevinGC/seatseeker/crawler"
	"github.com/kevinGC/seatseeker/search"
	"github.com/kevinGC/seatseeker/seatfinder"
	"github.com/kevinGC/seatseeker/server"
	"github.com/kevinGC/seatseeker/theaters"
)

// TODO: More search parameters: leave an empty seat between the group and
// strangers on either side.

// browserLaunchTimeout bounds how long the CLI waits for the browser.
const browserLaunchTimeout = 30 * time.Second

func main() {
	// Only Exit(1) here to avoid accidentally skipping defers.
	if err := run(); err != nil {
		fmt.Printf("Failure: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Parse flags.
	var (
		// Search parameters.
		theaterURL string
		movie      string
		numSeats   int
		pref       heatmap

		// Output controls.
		link bool
		rows int

		// Request controls.
		timeout         time.Duration
		requestInterval = durationRange{cfg.RequestInterval}
		useBrowser      bool

		// Modes.
		serve bool

		// Debug controls.
		debug     bool
		debugStep debugStepArg
	)

	flag.StringVar(&theaterURL, "theater-url", "", "The theater's showtimes page, e.g. https://www.cinemark.com/theatres/co-boulder/century-boulder.")
	flag.StringVar(&movie, "movie", "", "The exact movie title, as shown on the theater's page.")
	flag.IntVar(&numSeats, "num-seats", 2, "The number of contiguous seats to find.")
	flag.Var(&pref, "heatmap", fmt.Sprintf("Where in the theater you like to sit. One of: %s.", strings.Join(preferenceNames(), ", ")))

	flag.BoolVar(&link, "link", false, "Whether to show booking links in results.")
	flag.IntVar(&rows, "rows", 3, "The max number of rows to show per showtime. Zero shows every row.")

	flag.DurationVar(&timeout, "timeout", 0 /* unlimited */, "The timeout for searching.")
	flag.Var(&requestInterval, "request-interval", "The interval between fetching seat maps. This can be "+
		"either a duration (e.g. \"5s\") or a range (e.g. \"3s-5s\"); bare numbers are seconds. This helps avoid being "+
		"flagged as a bot by the theater's site.")
	flag.BoolVar(&useBrowser, "browser", cfg.UseBrowser, "Whether to load pages in a headless browser instead of over plain HTTP.")

	flag.BoolVar(&serve, "serve", false, fmt.Sprintf("Run the HTTP API on port %s instead of searching once.", cfg.Port))

	flag.BoolVar(&debug, "debug", false, "Whether to show debug log output.")
	flag.Var(&debugStep, "debug-step", `Which step to debug: "movies", "showtimes", or "seats:<seat map URL>".`)

	flag.Parse()

	level := cfg.LogLevel
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(NewLevelHandler(level, newLogHandler(os.Stderr, cfg.LogFormat))))

	// Cancellations via context.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cancel := func() {}
	if timeout != 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	// Pick how pages are fetched.
	var fetcher crawler.Fetcher
	if useBrowser {
		browser := crawler.NewBrowserFetcher(requestInterval.DurationRange, cfg.FetchTimeout)
		browser.Launch()
		defer browser.Close()
		if err := waitForBrowser(ctx, browser); err != nil {
			return err
		}
		fetcher = browser
	} else {
		fetcher = crawler.NewHTTPFetcher(cfg.FetcherOptions())
		slog.Debug("fetching over HTTP", "proxies", len(cfg.Proxies))
	}
	scraper := crawler.NewScraper(fetcher, cfg.Origin, requestInterval.DurationRange)

	if serve {
		return runServer(ctx, cfg, scraper)
	}

	// When set, perform only the step requested by the user instead of the
	// full search.
	switch debugStep.step {
	case stepNone:
	case stepMovies:
		movies, err := scraper.Movies(ctx, theaterURL)
		log.Printf("scraper.Movies(%q) returned error: %v", theaterURL, err)
		fmt.Printf("%s\n", formatMovies(movies))
		return nil
	case stepShowtimes:
		showtimes, err := scraper.Showtimes(ctx, theaterURL, movie)
		log.Printf("scraper.Showtimes(%q, %q) returned error: %v", theaterURL, movie, err)
		fmt.Printf("%s\n", formatShowtimes(showtimes))
		return nil
	case stepSeats:
		seats, err := scraper.Seats(ctx, crawler.Showtime{Time: "debug", URL: debugStep.link})
		log.Printf("scraper.Seats(%s) returned %d seats, error: %v", debugStep.link, len(seats), err)
		blocks, err := seatfinder.Find(seats, numSeats, pref.Preference)
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", formatBlocks(seatfinder.BestPerRow(blocks, rows), true /* printLinks */))
		return nil
	default:
		panic(fmt.Sprintf("unknown debugStep: %d", debugStep.step))
	}

	// Flag error checking.
	if theaterURL == "" {
		return fmt.Errorf("no theater provided (use --theater-url)")
	}
	if movie == "" {
		return fmt.Errorf("no movie provided (use --movie)")
	}
	if numSeats < 1 {
		return fmt.Errorf("too few seats specified: must be at least 1")
	}

	// Perform the search.
	req := search.Request{
		TheaterURL: theaterURL,
		MovieName:  movie,
		GroupSize:  numSeats,
		Preference: pref.Preference,
	}
	var done *search.Event
	for event := range search.Seats(ctx, scraper, req) {
		switch event.Type {
		case search.EventProgress:
			fmt.Fprintf(os.Stderr, "Checking showtime %d of %d...\n", event.Current, event.Total)
		case search.EventError:
			return fmt.Errorf("search failed: %s", event.Message)
		case search.EventComplete:
			done = &event
		}
	}
	if done == nil {
		return fmt.Errorf("search stopped early: %w", context.Cause(ctx))
	}

	// Print results.
	if done.Message != "" {
		fmt.Printf("%s\n", done.Message)
	}
	fmt.Printf("%s\n", formatBlocks(seatfinder.BestPerRow(done.Blocks, rows), link))

	return nil
}

func runServer(ctx context.Context, cfg *config.Config, scraper *crawler.Scraper) error {
	opts := server.Options{
		Logger:          slog.Default(),
		Scraper:         scraper,
		ScrapeRateLimit: cfg.ScrapeRateLimit,
		ScrapeBurst:     cfg.ScrapeBurst,
	}
	if cfg.DatabaseURL != "" {
		pool, err := theaters.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		opts.Theaters = theaters.NewPostgresDirectory(pool)
	} else {
		slog.Info("DATABASE_URL not set, theater lookups are disabled")
	}
	return server.New(opts).ListenAndServe(ctx, ":"+cfg.Port)
}

func waitForBrowser(ctx context.Context, browser *crawler.BrowserFetcher) error {
	ctx, cancel := context.WithTimeout(ctx, browserLaunchTimeout)
	defer cancel()
	for !browser.CheckInstalled(ctx) {
		if err := browser.LaunchErr(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("browser didn't start within %s: %w", browserLaunchTimeout, crawler.ErrNotInstalled)
		}
	}
	return nil
}

func newLogHandler(w io.Writer, format string) slog.Handler {
	// Filtering is left to the LevelHandler.
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func formatBlocks(groups []seatfinder.ShowtimeBlocks, printLinks bool) string {
	if len(groups) == 0 {
		return "No seats found."
	}
	var builder strings.Builder
	writer := tabwriter.NewWriter(&builder, 0, 0, 1, ' ', 0)
	for _, group := range groups {
		for _, block := range group.Blocks {
			first, last := block.Seats[0], block.Seats[len(block.Seats)-1]
			fmt.Fprintf(writer, "%s\trow %s\tseats %d-%d\t(score %.2f)", group.Showtime, block.Row, first.Column, last.Column, block.Score)
			if printLinks {
				fmt.Fprintf(writer, "\t%s", block.URL)
			}
			fmt.Fprintf(writer, "\n")
		}
	}
	writer.Flush()
	return builder.String()
}

func formatMovies(movies []crawler.MovieInfo) string {
	var builder strings.Builder
	writer := tabwriter.NewWriter(&builder, 0, 0, 1, ' ', 0)
	for _, movie := range movies {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", movie.Name, movie.Rating, movie.Runtime)
	}
	writer.Flush()
	return builder.String()
}

func formatShowtimes(showtimes []crawler.Showtime) string {
	var builder strings.Builder
	writer := tabwriter.NewWriter(&builder, 0, 0, 1, ' ', 0)
	for _, showtime := range showtimes {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", showtime.Time, showtime.Format, showtime.URL)
	}
	writer.Flush()
	return builder.String()
}

func preferenceNames() []string {
	var names []string
	for _, pref := range seatfinder.Preferences() {
		names = append(names, pref.String())
	}
	return names
}

type heatmap struct {
	seatfinder.Preference
}

func (hm *heatmap) String() string {
	return hm.Preference.String()
}

func (hm *heatmap) Set(input string) error {
	pref, err := seatfinder.ParsePreference(strings.ToLower(input))
	if err != nil {
		return err
	}
	hm.Preference = pref
	return nil
}

type debugStep int

const (
	stepNone debugStep = iota
	stepMovies
	stepShowtimes
	stepSeats
)

type debugStepArg struct {
	step debugStep

	// link is used by stepSeats
	link string
}

func (ds *debugStepArg) String() string {
	switch ds.step {
	case stepNone:
		return ""
	case stepMovies:
		return "movies"
	case stepShowtimes:
		return "showtimes"
	case stepSeats:
		return fmt.Sprintf("seats:%s", ds.link)
	default:
		panic(fmt.Sprintf("unknown debug step %d", ds.step))
	}
}

func (ds *debugStepArg) Set(input string) error {
	switch {
	case input == "":
		ds.step = stepNone
	case input == "movies":
		ds.step = stepMovies
	case input == "showtimes":
		ds.step = stepShowtimes
	case strings.HasPrefix(input, "seats:"):
		ds.step = stepSeats
		ds.link, _ = strings.CutPrefix(input, "seats:")
		if ds.link == "" {
			return errors.New("seats step needs a seat map URL, e.g. seats:https://...")
		}
	default:
		return fmt.Errorf("unknown step: %s", input)
	}
	return nil
}

type durationRange struct {
	crawler.DurationRange
}

func (dr *durationRange) String() string {
	return dr.DurationRange.String()
}

func (dr *durationRange) Set(input string) error {
	parsed, err := crawler.ParseDurationRange(input)
	if err != nil {
		return err
	}
	dr.DurationRange = parsed
	return nil
}
