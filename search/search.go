// Package search runs a full seat search and reports it as a stream of
// events: progress while seat maps are fetched, then the ranked blocks.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kevinGC/seatseeker/crawler"
	"github.com/kevinGC/seatseeker/seatfinder"
)

// EventType distinguishes events in a search stream.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	// EventError means the search couldn't be carried out, which is different
	// from finding nothing.
	EventError EventType = "error"
)

// An Event is one step of a search.
type Event struct {
	Type EventType
	// Current and Total are set on progress events. Current is the
	// 1-based showtime about to be fetched.
	Current int
	Total   int
	// Blocks is set on the complete event, best first.
	Blocks []seatfinder.Block
	// Message explains an error, or an empty result.
	Message string
}

// MarshalJSON encodes only the fields that matter for e's type.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventProgress:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Current int       `json:"current"`
			Total   int       `json:"total"`
		}{e.Type, e.Current, e.Total})
	case EventComplete:
		blocks := e.Blocks
		if blocks == nil {
			blocks = []seatfinder.Block{}
		}
		return json.Marshal(struct {
			Type    EventType          `json:"type"`
			Blocks  []seatfinder.Block `json:"blocks"`
			Message string             `json:"message,omitempty"`
		}{e.Type, blocks, e.Message})
	default:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Message string    `json:"message"`
		}{e.Type, e.Message})
	}
}

// A Source provides showtimes and their seats. *crawler.Scraper is one.
type Source interface {
	Showtimes(ctx context.Context, theaterURL, movieName string) ([]crawler.Showtime, error)
	ScrapeAll(ctx context.Context, showtimes []crawler.Showtime, onProgress func(current, total int)) ([]crawler.Seat, error)
}

// A Request describes a seat search.
type Request struct {
	// ID tags the search in logs. One is generated if empty.
	ID         string
	TheaterURL string
	MovieName  string
	GroupSize  int
	Preference seatfinder.Preference
}

// Seats searches for req's blocks of seats. The returned channel yields a
// progress event before each showtime is fetched, then exactly one complete
// event, and is then closed. If the search can't be carried out it yields a
// single error event instead of completing. If ctx ends the channel is
// closed early.
//
// Blocks are ranked only once every showtime has been scraped.
func Seats(ctx context.Context, src Source, req Request) <-chan Event {
	return stream(ctx, req, func(logger *slog.Logger, send func(Event) bool) {
		showtimes, err := src.Showtimes(ctx, req.TheaterURL, req.MovieName)
		if err != nil {
			logger.Warn("failed to get showtimes", "theater", req.TheaterURL, "err", err)
			send(Event{Type: EventError, Message: fmt.Sprintf("could not load showtimes: %v", err)})
			return
		}
		scan(ctx, src, req, showtimes, logger, send)
	})
}

// ShowtimeSeats is Seats for showtimes the caller already looked up.
func ShowtimeSeats(ctx context.Context, src Source, req Request, showtimes []crawler.Showtime) <-chan Event {
	return stream(ctx, req, func(logger *slog.Logger, send func(Event) bool) {
		scan(ctx, src, req, showtimes, logger, send)
	})
}

// stream runs search in the background, feeding its events to the returned
// channel until ctx ends.
func stream(ctx context.Context, req Request, search func(logger *slog.Logger, send func(Event) bool)) <-chan Event {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	events := make(chan Event)

	go func() {
		defer close(events)
		logger := slog.With("scan", req.ID, "movie", req.MovieName)

		send := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if req.GroupSize < 1 {
			send(Event{Type: EventError, Message: fmt.Sprintf("group size must be at least 1, got %d", req.GroupSize)})
			return
		}
		search(logger, send)
	}()

	return events
}

func scan(ctx context.Context, src Source, req Request, showtimes []crawler.Showtime, logger *slog.Logger, send func(Event) bool) {
	if len(showtimes) == 0 {
		logger.Info("no showtimes found")
		send(Event{Type: EventComplete, Message: fmt.Sprintf("no showtimes found for %q", req.MovieName)})
		return
	}
	logger.Info("scraping showtimes", "nshowtimes", len(showtimes))

	seats, err := src.ScrapeAll(ctx, showtimes, func(current, total int) {
		send(Event{Type: EventProgress, Current: current, Total: total})
	})
	if err != nil {
		logger.Info("search abandoned", "err", err)
		return
	}

	blocks, err := seatfinder.Find(seats, req.GroupSize, req.Preference)
	if err != nil {
		send(Event{Type: EventError, Message: err.Error()})
		return
	}
	logger.Info("search finished", "nseats", len(seats), "nblocks", len(blocks))

	done := Event{Type: EventComplete, Blocks: blocks}
	if len(blocks) == 0 {
		done.Message = fmt.Sprintf("no %d adjacent seats available", req.GroupSize)
	}
	send(done)
}
