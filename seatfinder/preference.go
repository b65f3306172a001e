package seatfinder

import (
	"fmt"
	"math"
)

// A Preference is a seating taste that blocks are scored against.
type Preference int

const (
	// Middles favors seats closest to the center column, in any row.
	Middles Preference = iota
	// Crosshair favors the center of the theater both ways.
	Crosshair
	// BackTriangle favors rear rows, tolerating off-center seats more the
	// further back they are.
	BackTriangle
	// Back favors the rearmost rows, then the center.
	Back
	// Front favors the frontmost rows, then the center. It is the only
	// preference that considers the rows closest to the screen.
	Front
	// BackBack wants the very last row above all else.
	BackBack
)

var preferenceNames = [...]string{
	Middles:      "middles",
	Crosshair:    "crosshair",
	BackTriangle: "back-triangle",
	Back:         "back",
	Front:        "front",
	BackBack:     "back-back",
}

// Preferences returns every preference.
func Preferences() []Preference {
	return []Preference{Middles, Crosshair, BackTriangle, Back, Front, BackBack}
}

// ParsePreference parses a preference name such as "back-triangle". An empty
// name is Middles.
func ParsePreference(name string) (Preference, error) {
	if name == "" {
		return Middles, nil
	}
	for pref, prefName := range preferenceNames {
		if prefName == name {
			return Preference(pref), nil
		}
	}
	return 0, fmt.Errorf("unknown heatmap preference %q", name)
}

func (p Preference) String() string {
	if p < 0 || int(p) >= len(preferenceNames) {
		return fmt.Sprintf("Preference(%d)", int(p))
	}
	return preferenceNames[p]
}

// MarshalText implements encoding.TextMarshaler.
func (p Preference) MarshalText() ([]byte, error) {
	if p < 0 || int(p) >= len(preferenceNames) {
		return nil, fmt.Errorf("unknown heatmap preference %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Preference) UnmarshalText(text []byte) error {
	pref, err := ParsePreference(string(text))
	if err != nil {
		return err
	}
	*p = pref
	return nil
}

// Score rates a block under pref. Lower is better.
//
// Rows are indexed front to back. The first rowsToOmit rows are excluded
// from "available" rows, so normalized row position runs from 0 at the first
// usable row to 1 at the back. The heavy weights on Back, Front, and BackBack
// make row position dominate column position.
func Score(pref Preference, rowIndex, totalRows, rowsToOmit int, blockCenter, theaterMiddle float64) float64 {
	availableRows := totalRows - rowsToOmit
	var normalizedRow float64
	if availableRows > 1 {
		normalizedRow = float64(rowIndex-rowsToOmit) / float64(availableRows-1)
	}
	distanceFromBack := float64((availableRows - 1) - (rowIndex - rowsToOmit))
	middleRow := (totalRows - 1) / 2
	distanceFromMiddleRow := math.Abs(float64(rowIndex - middleRow))
	distanceFromMiddleCol := math.Abs(theaterMiddle - blockCenter)

	switch pref {
	case Middles:
		return distanceFromMiddleCol
	case Crosshair:
		return distanceFromMiddleRow + distanceFromMiddleCol
	case BackTriangle:
		return distanceFromBack*5 + distanceFromMiddleCol*(1+normalizedRow)
	case Back:
		return distanceFromBack*100 + distanceFromMiddleCol
	case Front:
		return float64(rowIndex)*100 + distanceFromMiddleCol
	case BackBack:
		return distanceFromBack*1000 + distanceFromMiddleCol*0.1
	default:
		panic(fmt.Sprintf("unknown heatmap preference %d", int(pref)))
	}
}
