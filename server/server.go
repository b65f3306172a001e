// Package server exposes seat searches and theater lookups over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/kevinGC/seatseeker/crawler"
	"github.com/kevinGC/seatseeker/search"
	"github.com/kevinGC/seatseeker/theaters"
)

// A Scraper reads movies, showtimes, and seats from theater pages.
// *crawler.Scraper is one.
type Scraper interface {
	search.Source
	Movies(ctx context.Context, theaterURL string) ([]crawler.MovieInfo, error)
}

type Options struct {
	Logger  *slog.Logger
	Scraper Scraper
	// Theaters may be nil, in which case theater lookups are unavailable.
	Theaters theaters.Directory
	// ScrapeRateLimit is scrape requests per minute per client. Zero or less
	// is unlimited.
	ScrapeRateLimit float64
	ScrapeBurst     int
}

type Server struct {
	logger   *slog.Logger
	validate *validator.Validate
	scraper  Scraper
	theaters theaters.Directory
	limiter  *clientLimiter
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		logger:   logger,
		validate: newValidator(),
		scraper:  opts.Scraper,
		theaters: opts.Theaters,
		limiter:  newClientLimiter(opts.ScrapeRateLimit, opts.ScrapeBurst),
	}
}

// Routes returns the server's HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.NotFound(s.notFoundResponse)
	r.MethodNotAllowed(s.methodNotAllowedResponse)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)

	r.Route("/api", func(r chi.Router) {
		r.With(s.rateLimit).Post("/scrape", s.scrape)
		r.Route("/theaters", func(r chi.Router) {
			r.Post("/search", s.searchTheaters)
			r.Post("/nearest", s.nearestTheaters)
		})
	})

	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Routes(),
		IdleTimeout: time.Minute,
		ReadTimeout: 5 * time.Second,
		// Seat scans stream for minutes, so they lift this per request.
		WriteTimeout: 30 * time.Second,
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug),
	}

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down server", "cause", context.Cause(ctx))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		shutdownErr <- srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting server", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	if err := <-shutdownErr; err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}

	s.logger.Info("stopped server", "addr", addr)
	return nil
}
