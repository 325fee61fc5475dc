package helpers

import (
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	cases := map[string][2]int{
		"15:30":  {15, 30},
		" 9:05 ": {9, 5},
		"09.45":  {9, 45},
		"00:00":  {0, 0},
		"23 59":  {23, 59},
	}
	for in, want := range cases {
		h, m, ok := ParseClock(in)
		if !ok || h != want[0] || m != want[1] {
			t.Fatalf("ParseClock(%q) = %d:%d ok=%v, want %d:%d", in, h, m, ok, want[0], want[1])
		}
	}
	for _, in := range []string{"", "24:00", "7", "7:3", "seven"} {
		if _, _, ok := ParseClock(in); ok {
			t.Fatalf("ParseClock(%q) accepted", in)
		}
	}
}

func TestNextOccurrence(t *testing.T) {
	loc := time.FixedZone("MSK", 3*60*60)
	now := time.Date(2025, 5, 31, 15, 45, 0, 0, loc)

	if got, want := NextOccurrence(15, 30, now, loc), time.Date(2025, 6, 1, 15, 30, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("past time = %s, want %s", got, want)
	}
	if got, want := NextOccurrence(16, 0, now, loc), time.Date(2025, 5, 31, 16, 0, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("future time = %s, want %s", got, want)
	}
	if got := NextOccurrence(15, 45, now, loc); !got.After(now) {
		t.Fatalf("same minute must roll over, got %s", got)
	}
	// now given in UTC is read in loc.
	utc := time.Date(2025, 5, 31, 21, 30, 0, 0, time.UTC) // 00:30 MSK on June 1st
	if got, want := NextOccurrence(1, 0, utc, loc), time.Date(2025, 6, 1, 1, 0, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("zone conversion = %s, want %s", got, want)
	}
}
