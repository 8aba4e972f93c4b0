package interval

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MinutesPerDay is the exclusive upper bound for a time of day.
const MinutesPerDay = 24 * 60

var (
	ErrEmptyInterval = errors.New("interval start must be before end")
	ErrInvalidClock  = errors.New("time of day must be HH:MM")
)

// Interval is a half-open range [Start, End) in minutes since midnight.
type Interval struct {
	Start int
	End   int
}

// New builds an interval, rejecting empty or inverted ranges.
func New(start, end int) (Interval, error) {
	if start >= end {
		return Interval{}, fmt.Errorf("%w: [%d, %d)", ErrEmptyInterval, start, end)
	}
	return Interval{Start: start, End: end}, nil
}

// FromClock builds an interval from an HH:MM start and a length in minutes.
func FromClock(start string, minutes int) (Interval, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Interval{}, err
	}
	return New(s, s+minutes)
}

// Between builds an interval from two HH:MM values.
func Between(start, end string) (Interval, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Interval{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Interval{}, err
	}
	return New(s, e)
}

func (i Interval) Len() int {
	return i.End - i.Start
}

func (i Interval) String() string {
	return FormatClock(i.Start) + "-" + FormatClock(i.End)
}

// Overlaps reports whether a and b share any minute. Back-to-back intervals do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start < b.End && b.Start < a.End
}

// Contains reports whether inner lies entirely within outer.
func Contains(outer, inner Interval) bool {
	return outer.Start <= inner.Start && inner.End <= outer.End
}

// Subtract returns what remains of base once cut is removed: zero, one or two fragments.
func Subtract(base, cut Interval) []Interval {
	if !Overlaps(base, cut) {
		return []Interval{base}
	}
	var out []Interval
	if base.Start < cut.Start {
		out = append(out, Interval{Start: base.Start, End: cut.Start})
	}
	if cut.End < base.End {
		out = append(out, Interval{Start: cut.End, End: base.End})
	}
	return out
}

// PeakDepth returns the largest number of intervals in ivs that are simultaneously
// active at some minute inside window.
func PeakDepth(window Interval, ivs []Interval) int {
	type edge struct {
		at    int
		delta int
	}
	var edges []edge
	for _, iv := range ivs {
		if !Overlaps(window, iv) {
			continue
		}
		edges = append(edges, edge{max(iv.Start, window.Start), 1}, edge{min(iv.End, window.End), -1})
	}
	// An interval ending at t frees its minute before one starting at t takes it.
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].at != edges[j].at {
			return edges[i].at < edges[j].at
		}
		return edges[i].delta < edges[j].delta
	})
	depth, peak := 0, 0
	for _, e := range edges {
		depth += e.delta
		peak = max(peak, depth)
	}
	return peak
}

// ParseClock parses HH:MM into minutes since midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return h*60 + m, nil
}

// FormatClock renders minutes since midnight as HH:MM. 1440 renders as 24:00.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
