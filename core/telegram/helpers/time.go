package helpers

import (
	"strings"
	"time"
)

var clockLayouts = []string{
	"15:04",
	"15.04",
	"15 04",
}

// ParseClock parses a time of day typed by an operator, such as "15:30",
// "9:05" or "09.45". Minutes must have two digits.
func ParseClock(input string) (hour, minute int, ok bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, 0, false
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour(), t.Minute(), true
		}
	}
	return 0, 0, false
}

// NextOccurrence returns the first hour:minute in loc strictly after now:
// today when still ahead, otherwise tomorrow.
func NextOccurrence(hour, minute int, now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	at := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !at.After(local) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}
