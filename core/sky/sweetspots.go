package sky

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const (
	// MinSeparation is the exclusive lower bound between chosen pointings.
	MinSeparation = 10.0
	// MaxPointings caps the number of pointings per request.
	MaxPointings = 4
)

// SweetSpot is a precomputed pointing of the telescope.
type SweetSpot struct {
	ID     int
	Dir    Horizontal
	Delays string
}

// SweetSpots is the pointing database of a telescope.
type SweetSpots []SweetSpot

// LoadSweetSpots reads a sweet spot database file.
func LoadSweetSpots(path string) (SweetSpots, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sweet spots: %w", err)
	}
	defer f.Close()
	return ParseSweetSpots(f)
}

// ParseSweetSpots reads the database format: two header lines followed by
// "ID | Azimuth | Elevation | Delays" rows.
func ParseSweetSpots(r io.Reader) (SweetSpots, error) {
	sc := bufio.NewScanner(r)
	var out SweetSpots
	line := 0
	for sc.Scan() {
		line++
		if line <= 2 {
			continue
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		cols := strings.Split(text, "|")
		if len(cols) < 3 {
			return nil, fmt.Errorf("sweet spots line %d: expected 4 columns", line)
		}
		id, err := strconv.Atoi(strings.TrimSpace(cols[0]))
		if err != nil {
			return nil, fmt.Errorf("sweet spots line %d: id: %w", line, err)
		}
		az, err := strconv.ParseFloat(strings.TrimSpace(cols[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("sweet spots line %d: azimuth: %w", line, err)
		}
		el, err := strconv.ParseFloat(strings.TrimSpace(cols[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("sweet spots line %d: elevation: %w", line, err)
		}
		s := SweetSpot{ID: id, Dir: Horizontal{Alt: el, Az: az}}
		if len(cols) > 3 {
			s.Delays = strings.TrimSpace(cols[3])
		}
		out = append(out, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read sweet spots: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("sweet spots database is empty")
	}
	return out, nil
}

// Nearest returns the sweet spot closest to dir. Ties keep the first entry.
func (s SweetSpots) Nearest(dir Horizontal) SweetSpot {
	best, bestSep := 0, math.Inf(1)
	for i, spot := range s {
		if sep := Separation(spot.Dir, dir); sep < bestSep {
			best, bestSep = i, sep
		}
	}
	return s[best]
}

// SelectPointings walks targets in order and keeps the nearest sweet spot of
// each one when it lies more than MinSeparation from every spot already
// chosen. It stops after MaxPointings.
func (s SweetSpots) SelectPointings(targets []Horizontal) []SweetSpot {
	if len(s) == 0 {
		return nil
	}
	var chosen []SweetSpot
	for _, target := range targets {
		spot := s.Nearest(target)
		closest := 180.0
		for _, c := range chosen {
			closest = math.Min(closest, Separation(spot.Dir, c.Dir))
		}
		if closest > MinSeparation {
			chosen = append(chosen, spot)
		}
		if len(chosen) >= MaxPointings {
			break
		}
	}
	return chosen
}
