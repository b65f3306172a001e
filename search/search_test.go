package search

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/kevinGC/seatseeker/crawler"
	"github.com/kevinGC/seatseeker/seatfinder"
)

type fakeSource struct {
	showtimes    []crawler.Showtime
	showtimesErr error
	// seats are returned by ScrapeAll after reporting progress for every
	// showtime.
	seats []crawler.Seat
	// scrapeErr, if set, is returned by ScrapeAll instead of seats.
	scrapeErr error
	scraped   bool
	lookedUp  bool
}

func (fs *fakeSource) Showtimes(context.Context, string, string) ([]crawler.Showtime, error) {
	fs.lookedUp = true
	return fs.showtimes, fs.showtimesErr
}

func (fs *fakeSource) ScrapeAll(ctx context.Context, showtimes []crawler.Showtime, onProgress func(current, total int)) ([]crawler.Seat, error) {
	fs.scraped = true
	for i := range showtimes {
		onProgress(i+1, len(showtimes))
	}
	if fs.scrapeErr != nil {
		return nil, fs.scrapeErr
	}
	return fs.seats, nil
}

func collect(events <-chan Event) []Event {
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func rowOfSeats(time, row string, columns ...int) []crawler.Seat {
	var seats []crawler.Seat
	for _, col := range columns {
		seats = append(seats, crawler.Seat{Row: row, Column: col, Time: time, IsAvailable: true, URL: "https://seats/" + time})
	}
	return seats
}

func TestSeats(t *testing.T) {
	showtimes := []crawler.Showtime{{Time: "1:00pm"}, {Time: "4:00pm"}, {Time: "7:00pm"}}
	var seats []crawler.Seat
	for _, row := range []string{"A", "B", "C"} {
		seats = append(seats, rowOfSeats("1:00pm", row, 1, 2, 3, 4)...)
	}
	src := &fakeSource{showtimes: showtimes, seats: seats}

	events := collect(Seats(context.Background(), src, Request{GroupSize: 2, Preference: seatfinder.Middles}))

	want := []Event{
		{Type: EventProgress, Current: 1, Total: 3},
		{Type: EventProgress, Current: 2, Total: 3},
		{Type: EventProgress, Current: 3, Total: 3},
		{Type: EventComplete},
	}
	if diff := cmp.Diff(want, events, cmpopts.IgnoreFields(Event{}, "Blocks")); diff != "" {
		t.Fatalf("Seats() events mismatch (-want +got):\n%s", diff)
	}
	blocks := events[len(events)-1].Blocks
	if len(blocks) != 3 || blocks[0].Row != "C" || blocks[0].Seats[0].Column != 2 {
		t.Errorf("Seats() completed with blocks %+v, want C[2 3] first", blocks)
	}
}

func TestSeatsNoBlocks(t *testing.T) {
	src := &fakeSource{
		showtimes: []crawler.Showtime{{Time: "1:00pm"}},
		seats:     rowOfSeats("1:00pm", "C", 1, 3, 5),
	}
	events := collect(Seats(context.Background(), src, Request{GroupSize: 2}))
	last := events[len(events)-1]
	if last.Type != EventComplete || len(last.Blocks) != 0 || last.Message == "" {
		t.Errorf("Seats() ended with %+v, want an empty completion with a message", last)
	}
}

func TestSeatsShowtimesFail(t *testing.T) {
	src := &fakeSource{showtimesErr: crawler.ErrFetchExhausted}
	events := collect(Seats(context.Background(), src, Request{GroupSize: 2}))
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("Seats() = %+v, want a single error event", events)
	}
	if src.scraped {
		t.Errorf("seats were scraped without showtimes")
	}
}

func TestShowtimeSeats(t *testing.T) {
	showtimes := []crawler.Showtime{{Time: "1:00pm"}, {Time: "4:00pm"}}
	src := &fakeSource{seats: rowOfSeats("1:00pm", "C", 4, 5)}

	events := collect(ShowtimeSeats(context.Background(), src, Request{GroupSize: 2, Preference: seatfinder.Front}, showtimes))

	want := []Event{
		{Type: EventProgress, Current: 1, Total: 2},
		{Type: EventProgress, Current: 2, Total: 2},
		{Type: EventComplete},
	}
	if diff := cmp.Diff(want, events, cmpopts.IgnoreFields(Event{}, "Blocks")); diff != "" {
		t.Fatalf("ShowtimeSeats() events mismatch (-want +got):\n%s", diff)
	}
	if got := events[len(events)-1].Blocks; len(got) != 1 {
		t.Errorf("ShowtimeSeats() completed with blocks %+v, want one", got)
	}
	if src.lookedUp {
		t.Errorf("ShowtimeSeats() looked up showtimes it was given")
	}

	// No showtimes is an empty result, not an error.
	events = collect(ShowtimeSeats(context.Background(), src, Request{GroupSize: 2}, nil))
	if len(events) != 1 || events[0].Type != EventComplete || events[0].Message == "" {
		t.Errorf("ShowtimeSeats(nil) = %+v, want a single empty completion", events)
	}
}

func TestSeatsNoShowtimes(t *testing.T) {
	src := &fakeSource{}
	events := collect(Seats(context.Background(), src, Request{MovieName: "Nope", GroupSize: 2}))
	if len(events) != 1 || events[0].Type != EventComplete || events[0].Message == "" {
		t.Fatalf("Seats() = %+v, want a single empty completion", events)
	}
	if src.scraped {
		t.Errorf("seats were scraped without showtimes")
	}
}

func TestSeatsBadGroupSize(t *testing.T) {
	src := &fakeSource{showtimes: []crawler.Showtime{{Time: "1:00pm"}}}
	events := collect(Seats(context.Background(), src, Request{GroupSize: 0}))
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("Seats() = %+v, want a single error event", events)
	}
	if src.scraped {
		t.Errorf("seats were scraped for an invalid request")
	}
}

func TestSeatsAbandoned(t *testing.T) {
	src := &fakeSource{
		showtimes: []crawler.Showtime{{Time: "1:00pm"}},
		scrapeErr: context.Canceled,
	}
	events := collect(Seats(context.Background(), src, Request{GroupSize: 2}))
	for _, ev := range events {
		if ev.Type != EventProgress {
			t.Errorf("got %v event after the scrape was abandoned", ev.Type)
		}
	}
}

func TestSeatsCanceledConsumer(t *testing.T) {
	src := &fakeSource{showtimes: []crawler.Showtime{{Time: "1:00pm"}, {Time: "4:00pm"}}}
	ctx, cancel := context.WithCancel(context.Background())
	events := Seats(ctx, src, Request{GroupSize: 2})
	<-events
	cancel()
	// The stream must close rather than block forever.
	for range events {
	}
}

func TestEventJSON(t *testing.T) {
	tcs := []struct {
		name  string
		event Event
		want  string
	}{{
		name:  "progress",
		event: Event{Type: EventProgress, Current: 2, Total: 5},
		want:  `{"type":"progress","current":2,"total":5}`,
	}, {
		name:  "empty completion",
		event: Event{Type: EventComplete},
		want:  `{"type":"complete","blocks":[]}`,
	}, {
		name:  "error",
		event: Event{Type: EventError, Message: "could not load showtimes"},
		want:  `{"type":"error","message":"could not load showtimes"}`,
	}}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			got, err := json.Marshal(tc.event)
			if err != nil {
				t.Fatalf("json.Marshal() returned unexpected error: %v", err)
			}
			if string(got) != tc.want {
				t.Errorf("json.Marshal() = %s, want %s", got, tc.want)
			}
		})
	}
}

var _ Source = (*crawler.Scraper)(nil)
