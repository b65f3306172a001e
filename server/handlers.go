package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kevinGC/seatseeker/crawler"
	"github.com/kevinGC/seatseeker/search"
	"github.com/kevinGC/seatseeker/seatfinder"
	"github.com/kevinGC/seatseeker/theaters"
)

const (
	actionMovies    = "movies"
	actionShowtimes = "showtimes"
	actionSeats     = "seats"

	maxBodyBytes = 1 << 20

	defaultSearchLimit  = 10
	defaultNearestLimit = 5
)

type scrapeRequest struct {
	Action            string                `json:"action" validate:"required,oneof=movies showtimes seats"`
	TheaterURL        string                `json:"theaterUrl" validate:"required,http_url"`
	MovieName         string                `json:"movieName" validate:"required_unless=Action movies"`
	GroupSize         int                   `json:"groupSize" validate:"required_if=Action seats,gte=0,lte=50"`
	HeatmapPreference seatfinder.Preference `json:"heatmapPreference" validate:"preference"`
}

type searchTheatersRequest struct {
	Query string `json:"query" validate:"required"`
	Limit int    `json:"limit" validate:"gte=0,lte=50"`
}

type nearestTheatersRequest struct {
	Lat   *float64 `json:"lat" validate:"required,latitude"`
	Lon   *float64 `json:"lon" validate:"required,longitude"`
	Limit int      `json:"limit" validate:"gte=0,lte=50"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":   "UP",
		"theaters": s.theaters != nil,
	}
	if err := writeJSON(w, http.StatusOK, resp, nil); err != nil {
		s.logError(r, err)
	}
}

func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := readJSON(w, r, &req); err != nil {
		s.badRequestResponse(w, r, err)
		return
	}
	req.TheaterURL = strings.TrimSpace(req.TheaterURL)
	req.MovieName = strings.TrimSpace(req.MovieName)
	if err := s.validate.Struct(req); err != nil {
		s.failedValidationResponse(w, r, err)
		return
	}

	switch req.Action {
	case actionMovies:
		movies, err := s.scraper.Movies(r.Context(), req.TheaterURL)
		if err != nil {
			s.serverErrorResponse(w, r, "Failed to load movies", err)
			return
		}
		s.respond(w, r, map[string][]crawler.MovieInfo{"movies": movies})
	case actionShowtimes:
		showtimes, err := s.scraper.Showtimes(r.Context(), req.TheaterURL, req.MovieName)
		if err != nil {
			s.serverErrorResponse(w, r, "Failed to load showtimes", err)
			return
		}
		if showtimes == nil {
			showtimes = []crawler.Showtime{}
		}
		s.respond(w, r, map[string][]crawler.Showtime{"showtimes": showtimes})
	case actionSeats:
		s.streamSeats(w, r, req)
	default:
		panic(fmt.Sprintf("unvalidated scrape action %q", req.Action))
	}
}

// streamSeats runs a seat search, sending each event to the client as a
// server-sent event. Showtimes are looked up before the stream starts so
// that failing to get them is a plain error response.
func (s *Server) streamSeats(w http.ResponseWriter, r *http.Request, req scrapeRequest) {
	showtimes, err := s.scraper.Showtimes(r.Context(), req.TheaterURL, req.MovieName)
	if err != nil {
		s.serverErrorResponse(w, r, "Failed to load showtimes", err)
		return
	}

	scanID := uuid.NewString()
	rc := http.NewResponseController(w)
	// The scan outlives the server's write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logError(r, err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Scan-Id", scanID)
	w.WriteHeader(http.StatusOK)

	events := search.ShowtimeSeats(r.Context(), s.scraper, search.Request{
		ID:         scanID,
		TheaterURL: req.TheaterURL,
		MovieName:  req.MovieName,
		GroupSize:  req.GroupSize,
		Preference: req.HeatmapPreference,
	}, showtimes)
	for event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			s.logError(r, err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			// The client went away. Draining lets the search see the
			// canceled request context and stop.
			s.logger.Info("seat stream closed by client", "scan", scanID, "err", err)
			for range events {
			}
			return
		}
		if err := rc.Flush(); err != nil {
			s.logError(r, err)
		}
	}
}

func (s *Server) searchTheaters(w http.ResponseWriter, r *http.Request) {
	if s.theaters == nil {
		s.unavailableResponse(w, r, "Theater lookup is not configured")
		return
	}
	var req searchTheatersRequest
	if err := readJSON(w, r, &req); err != nil {
		s.badRequestResponse(w, r, err)
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if err := s.validate.Struct(req); err != nil {
		s.failedValidationResponse(w, r, err)
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultSearchLimit
	}

	result, err := s.theaters.Search(r.Context(), req.Query, req.Limit)
	if err != nil {
		s.serverErrorResponse(w, r, "Failed to search theaters", err)
		return
	}
	s.respond(w, r, result)
}

func (s *Server) nearestTheaters(w http.ResponseWriter, r *http.Request) {
	if s.theaters == nil {
		s.unavailableResponse(w, r, "Theater lookup is not configured")
		return
	}
	var req nearestTheatersRequest
	if err := readJSON(w, r, &req); err != nil {
		s.badRequestResponse(w, r, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.failedValidationResponse(w, r, err)
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultNearestLimit
	}

	found, err := s.theaters.Nearest(r.Context(), *req.Lat, *req.Lon, req.Limit)
	if err != nil {
		s.serverErrorResponse(w, r, "Failed to find nearest theaters", err)
		return
	}
	s.respond(w, r, map[string][]theaters.Theater{"theaters": found})
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, data any) {
	if err := writeJSON(w, http.StatusOK, data, nil); err != nil {
		s.logError(r, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any, headers http.Header) error {
	js, err := json.Marshal(data)
	if err != nil {
		return err
	}
	for key, value := range headers {
		w.Header()[key] = value
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(append(js, '\n'))
	return err
}

// readJSON decodes a single JSON object from the request body into dst.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)

	if err := dec.Decode(dst); err != nil {
		var (
			syntaxErr   *json.SyntaxError
			typeErr     *json.UnmarshalTypeError
			maxBytesErr *http.MaxBytesError
		)
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("body must not be empty")
		case errors.As(err, &syntaxErr):
			return fmt.Errorf("body contains badly-formed JSON (at character %d)", syntaxErr.Offset)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return errors.New("body contains badly-formed JSON")
		case errors.As(err, &typeErr):
			if typeErr.Field != "" {
				return fmt.Errorf("body contains incorrect JSON type for field %q", typeErr.Field)
			}
			return fmt.Errorf("body contains incorrect JSON type (at character %d)", typeErr.Offset)
		case errors.As(err, &maxBytesErr):
			return fmt.Errorf("body must not be larger than %d bytes", maxBytesErr.Limit)
		default:
			return err
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("body must only contain a single JSON value")
	}
	return nil
}
