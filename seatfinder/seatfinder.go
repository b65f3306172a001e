// Package seatfinder finds and ranks contiguous blocks of available seats.
package seatfinder

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/kevinGC/seatseeker/crawler"
)

// ErrInvalidGroupSize means fewer than one seat was asked for.
var ErrInvalidGroupSize = errors.New("group size must be at least 1")

// A Block is a run of adjacent available seats in one row.
type Block struct {
	Showtime string `json:"showtime"`
	Row      string `json:"row"`
	// Score is how well the block fits the preference. Lower is better.
	Score float64 `json:"score"`
	// Seats have strictly consecutive columns.
	Seats []crawler.Seat `json:"seats"`
	URL   string         `json:"url"`
}

// Find returns every block of groupSize adjacent available seats, best
// first. Finding nothing is not an error.
func Find(seats []crawler.Seat, groupSize int, pref Preference) ([]Block, error) {
	if groupSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidGroupSize, groupSize)
	}
	slog.Debug("finding seats", "nseats", len(seats), "groupSize", groupSize, "preference", pref)

	layouts := BuildLayouts(seats)
	blocks := []Block{}
	for _, group := range GroupAvailable(seats) {
		found := Scan(layouts[group.Time], group, groupSize, pref)
		if len(found) > 0 {
			slog.Debug("found contiguous blocks", "showtime", group.Time, "row", group.Row, "nblocks", len(found))
		}
		blocks = append(blocks, found...)
	}

	Rank(blocks)
	slog.Debug("ranked blocks", "nblocks", len(blocks))
	return blocks, nil
}

// Scan returns the scored blocks of groupSize adjacent seats in group.
// Rows too close to the screen are skipped unless pref is Front.
func Scan(layout *Layout, group Group, groupSize int, pref Preference) []Block {
	if layout == nil || groupSize < 1 {
		return nil
	}
	rowIndex := layout.RowIndex(group.Row)
	rowsToOmit := layout.RowsToOmit()
	if pref != Front && rowIndex < rowsToOmit {
		return nil
	}
	columns := group.Columns
	if len(columns) < groupSize {
		return nil
	}

	var blocks []Block
	for i := 0; i+groupSize <= len(columns); i++ {
		if !contiguous(columns[i : i+groupSize]) {
			continue
		}
		start := columns[i]
		center := float64(start) + float64(groupSize-1)/2
		seats := make([]crawler.Seat, groupSize)
		for j := range seats {
			seats[j] = crawler.Seat{
				Row:         group.Row,
				Column:      start + j,
				Time:        group.Time,
				IsAvailable: true,
				URL:         group.URL,
			}
		}
		blocks = append(blocks, Block{
			Showtime: group.Time,
			Row:      group.Row,
			Score:    Score(pref, rowIndex, len(layout.Rows), rowsToOmit, center, layout.Middle()),
			Seats:    seats,
			URL:      group.URL,
		})
	}
	return blocks
}

// contiguous reports whether columns are consecutive seat numbers.
func contiguous(columns []int) bool {
	for j, column := range columns {
		if column != columns[0]+j {
			return false
		}
	}
	return true
}

// Rank sorts blocks best first. Blocks with equal scores keep the order they
// were found in.
func Rank(blocks []Block) {
	slices.SortStableFunc(blocks, func(a, b Block) int {
		return cmp.Compare(a.Score, b.Score)
	})
}

// A ShowtimeBlocks is the best blocks of one showtime.
type ShowtimeBlocks struct {
	Showtime string  `json:"showtime"`
	Blocks   []Block `json:"blocks"`
}

// BestPerRow reduces ranked blocks to the best block in each row, keeping at
// most limit rows per showtime. Showtimes are in the order their best block
// ranks. A limit below 1 keeps every row.
func BestPerRow(ranked []Block, limit int) []ShowtimeBlocks {
	var (
		out      []ShowtimeBlocks
		showings = make(map[string]int)
		seenRows = make(map[[2]string]bool)
	)
	for _, block := range ranked {
		i, ok := showings[block.Showtime]
		if !ok {
			i = len(out)
			showings[block.Showtime] = i
			out = append(out, ShowtimeBlocks{Showtime: block.Showtime})
		}
		key := [2]string{block.Showtime, block.Row}
		if seenRows[key] {
			continue
		}
		seenRows[key] = true
		if limit > 0 && len(out[i].Blocks) >= limit {
			continue
		}
		out[i].Blocks = append(out[i].Blocks, block)
	}
	return out
}
