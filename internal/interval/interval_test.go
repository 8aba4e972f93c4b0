package interval

import (
	"errors"
	"testing"
)

func mustNew(t *testing.T, start, end int) Interval {
	t.Helper()
	i, err := New(start, end)
	if err != nil {
		t.Fatalf("New(%d, %d): %v", start, end, err)
	}
	return i
}

func TestNew_RejectsEmpty(t *testing.T) {
	if _, err := New(600, 600); !errors.Is(err, ErrEmptyInterval) {
		t.Fatalf("expected ErrEmptyInterval, got %v", err)
	}
	if _, err := New(610, 600); !errors.Is(err, ErrEmptyInterval) {
		t.Fatalf("expected ErrEmptyInterval, got %v", err)
	}
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b [2]int
		want bool
	}{
		{"back to back", [2]int{600, 630}, [2]int{630, 660}, false},
		{"back to back reversed", [2]int{630, 660}, [2]int{600, 630}, false},
		{"partial", [2]int{600, 630}, [2]int{615, 645}, true},
		{"nested", [2]int{540, 1020}, [2]int{720, 780}, true},
		{"identical", [2]int{600, 630}, [2]int{600, 630}, true},
		{"disjoint", [2]int{540, 570}, [2]int{600, 630}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := mustNew(t, tt.a[0], tt.a[1])
			b := mustNew(t, tt.b[0], tt.b[1])
			if got := Overlaps(a, b); got != tt.want {
				t.Fatalf("Overlaps(%s, %s) = %v, want %v", a, b, got, tt.want)
			}
		})
	}
}

func TestContains(t *testing.T) {
	work := mustNew(t, 540, 1020)
	if !Contains(work, mustNew(t, 540, 570)) {
		t.Fatal("expected interval starting at window start to be contained")
	}
	if !Contains(work, mustNew(t, 990, 1020)) {
		t.Fatal("expected interval ending at window end to be contained")
	}
	if Contains(work, mustNew(t, 1000, 1030)) {
		t.Fatal("expected interval past window end not to be contained")
	}
	if Contains(work, mustNew(t, 500, 560)) {
		t.Fatal("expected interval before window start not to be contained")
	}
}

func TestSubtract(t *testing.T) {
	base := mustNew(t, 540, 1020)

	got := Subtract(base, mustNew(t, 720, 780))
	if len(got) != 2 || got[0] != (Interval{540, 720}) || got[1] != (Interval{780, 1020}) {
		t.Fatalf("middle cut: got %v", got)
	}

	got = Subtract(base, mustNew(t, 500, 600))
	if len(got) != 1 || got[0] != (Interval{600, 1020}) {
		t.Fatalf("leading cut: got %v", got)
	}

	got = Subtract(base, mustNew(t, 500, 1100))
	if len(got) != 0 {
		t.Fatalf("full cut: got %v", got)
	}

	got = Subtract(base, mustNew(t, 1020, 1080))
	if len(got) != 1 || got[0] != base {
		t.Fatalf("adjacent cut: got %v", got)
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"09:00", 540, false},
		{"9:30", 570, false},
		{"23:59", 1439, false},
		{"00:00", 0, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"1200", 0, true},
		{"ab:cd", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidClock) {
				t.Fatalf("ParseClock(%q): expected ErrInvalidClock, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseClock(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseClock(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFormatClock(t *testing.T) {
	if got := FormatClock(570); got != "09:30" {
		t.Fatalf("FormatClock(570) = %q", got)
	}
	if got := FormatClock(0); got != "00:00" {
		t.Fatalf("FormatClock(0) = %q", got)
	}
}

func TestPeakDepth(t *testing.T) {
	window := Interval{Start: 540, End: 600}
	tests := []struct {
		name string
		ivs  []Interval
		want int
	}{
		{"empty", nil, 0},
		{"back to back inside window", []Interval{{540, 570}, {570, 600}}, 1},
		{"stacked", []Interval{{540, 570}, {550, 580}}, 2},
		{"stacked outside window", []Interval{{480, 540}, {500, 540}, {560, 570}}, 1},
		{"three with two stacked", []Interval{{540, 570}, {570, 600}, {560, 590}}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PeakDepth(window, tt.ivs); got != tt.want {
				t.Fatalf("PeakDepth = %d, want %d", got, tt.want)
			}
		})
	}
}
