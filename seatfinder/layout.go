package seatfinder

import (
	"slices"

	"github.com/kevinGC/seatseeker/crawler"
)

// A Layout is the geometry of one showtime's theater.
type Layout struct {
	MinColumn int
	MaxColumn int
	// Rows are the distinct row labels, front to back.
	Rows []string
}

// BuildLayouts returns the layout of each showtime, keyed by showtime label.
// Every seat counts, taken or not, so that availability doesn't skew where
// the middle and back of the theater are.
//
// Rows are ordered by sorting their labels, which assumes rows are lettered
// alphabetically from the screen back.
func BuildLayouts(seats []crawler.Seat) map[string]*Layout {
	layouts := make(map[string]*Layout)
	for _, seat := range seats {
		layout, ok := layouts[seat.Time]
		if !ok {
			layout = &Layout{MinColumn: seat.Column, MaxColumn: seat.Column}
			layouts[seat.Time] = layout
		}
		if !slices.Contains(layout.Rows, seat.Row) {
			layout.Rows = append(layout.Rows, seat.Row)
		}
		layout.MinColumn = min(layout.MinColumn, seat.Column)
		layout.MaxColumn = max(layout.MaxColumn, seat.Column)
	}
	for _, layout := range layouts {
		slices.Sort(layout.Rows)
	}
	return layouts
}

// RowIndex returns row's position from the front, or -1 if the theater has
// no such row.
func (l *Layout) RowIndex(row string) int {
	return slices.Index(l.Rows, row)
}

// Middle returns the center column.
func (l *Layout) Middle() float64 {
	return float64(l.MinColumn+l.MaxColumn) / 2
}

// RowsToOmit returns how many front rows are too close to the screen to
// recommend.
func (l *Layout) RowsToOmit() int {
	if len(l.Rows) == 9 {
		return 3
	}
	return 2
}

// A Group is the available seats in one row of one showtime.
type Group struct {
	Time string
	Row  string
	// Columns are the available seat numbers, ascending.
	Columns []int
	URL     string
}

type groupKey struct {
	time string
	row  string
}

// GroupAvailable groups the available seats by showtime and row. Groups are
// returned in the order their first available seat appears.
func GroupAvailable(seats []crawler.Seat) []Group {
	index := make(map[groupKey]int)
	var groups []Group
	for _, seat := range seats {
		if !seat.IsAvailable {
			continue
		}
		key := groupKey{time: seat.Time, row: seat.Row}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Time: seat.Time, Row: seat.Row, URL: seat.URL})
		}
		groups[i].Columns = append(groups[i].Columns, seat.Column)
	}
	for i := range groups {
		slices.Sort(groups[i].Columns)
	}
	return groups
}
