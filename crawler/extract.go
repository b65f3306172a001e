package crawler

import (
	"encoding/json"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const (
	movieBlockSelector = `div[class^="showtimeMovieBlock"]`
	showtimeSelector   = ".showtimeMovieTimes .showtime a.showtime-link"
	seatSelector       = "button.seatBlock"
	unknownFormat      = "Unknown"
)

// posterModel is the JSON the trailer link carries in data-json-model.
type posterModel struct {
	Medium string `json:"posterMediumImageUrl"`
	Large  string `json:"posterLargeImageUrl"`
	Small  string `json:"posterSmallImageUrl"`
}

// ExtractMovies returns every movie listed on a theater page.
func ExtractMovies(doc *goquery.Document) []MovieInfo {
	blocks := doc.Find(movieBlockSelector)
	slog.Debug("found movie blocks", "nblocks", blocks.Length())

	movies := make([]MovieInfo, 0, blocks.Length())
	blocks.Each(func(_ int, block *goquery.Selection) {
		movie := MovieInfo{
			Name:     strings.TrimSpace(block.Find("h3").Text()),
			Rating:   strings.TrimSpace(block.Find(".showtimeMovieRating").Text()),
			Runtime:  strings.TrimSpace(block.Find(".showtimeMovieRuntime").Text()),
			ImageURL: posterURL(block),
		}
		slog.Debug("found movie", "name", movie.Name, "rating", movie.Rating, "runtime", movie.Runtime)
		movies = append(movies, movie)
	})
	return movies
}

// posterURL tries, in order, the trailer link's JSON model, a <picture>
// source, and finally the block's <img>.
func posterURL(block *goquery.Selection) string {
	if raw, ok := block.Find("a.showtimeMovieTrailerLink").Attr("data-json-model"); ok && raw != "" {
		var model posterModel
		if err := json.Unmarshal([]byte(html.UnescapeString(raw)), &model); err != nil {
			slog.Debug("failed to parse trailer model", "err", err)
		} else if url := firstNonEmpty(model.Medium, model.Large, model.Small); url != "" {
			return url
		}
	}

	if source := block.Find("picture source"); source.Length() > 0 {
		if srcset := source.AttrOr("srcset", ""); srcset != "" {
			return srcset
		}
	}

	img := block.Find("img")
	return firstNonEmpty(img.AttrOr("srcset", ""), img.AttrOr("data-srcset", ""), img.AttrOr("src", ""))
}

func firstNonEmpty(vals ...string) string {
	for _, val := range vals {
		if val != "" {
			return val
		}
	}
	return ""
}

// ExtractShowtimes returns the showtimes of the movie titled exactly
// movieName. Booking links are made absolute against origin. A movie that
// isn't listed yields no showtimes.
func ExtractShowtimes(doc *goquery.Document, movieName, origin string) []Showtime {
	movieName = strings.TrimSpace(movieName)
	origin = strings.TrimRight(origin, "/")

	var showtimes []Showtime
	doc.Find(movieBlockSelector).EachWithBreak(func(_ int, block *goquery.Selection) bool {
		if strings.TrimSpace(block.Find("h3").Text()) != movieName {
			return true
		}
		block.Find(showtimeSelector).Each(func(_ int, link *goquery.Selection) {
			href := strings.TrimSpace(link.AttrOr("href", ""))
			if href == "" {
				slog.Debug("skipping showtime without link", "movie", movieName)
				return
			}
			if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
				href = origin + href
			}
			format := strings.TrimSpace(link.AttrOr("data-print-type-name", ""))
			if format == "" {
				format = unknownFormat
			}
			showtimes = append(showtimes, Showtime{
				Time:   strings.TrimSpace(link.Text()),
				Format: format,
				URL:    href,
			})
		})
		return false
	})

	if len(showtimes) == 0 {
		slog.Info("no showtimes found", "movie", movieName)
	}
	return showtimes
}

// ExtractSeats returns every seat in a showtime's seat map, available or not.
// Seats whose designation can't be parsed are skipped.
func ExtractSeats(doc *goquery.Document, showtime Showtime) []Seat {
	buttons := doc.Find(seatSelector)
	seats := make([]Seat, 0, buttons.Length())
	buttons.Each(func(_ int, button *goquery.Selection) {
		designation := strings.TrimSpace(button.Find("span.seatDesignation").Text())
		row, column, ok := parseDesignation(designation)
		if !ok {
			if designation != "" {
				slog.Debug("skipping seat with bad designation", "designation", designation, "showtime", showtime.Time)
			}
			return
		}
		seats = append(seats, Seat{
			Row:         row,
			Column:      column,
			Time:        showtime.Time,
			IsAvailable: button.HasClass("seatAvailable"),
			URL:         showtime.URL,
		})
	})
	return seats
}

// parseDesignation splits a designation like "F12" into row "F" and column 12.
func parseDesignation(designation string) (string, int, bool) {
	r, size := utf8.DecodeRuneInString(designation)
	if r == utf8.RuneError {
		return "", 0, false
	}
	column, err := strconv.Atoi(strings.TrimSpace(designation[size:]))
	if err != nil {
		return "", 0, false
	}
	return string(r), column, true
}
