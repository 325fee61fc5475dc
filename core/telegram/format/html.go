// Package format renders user-supplied values into Telegram HTML messages.
package format

import (
	"html"
	"strconv"
	"strings"
)

// EscapeHTML escapes <, >, & and quotes for ParseMode HTML.
func EscapeHTML(s string) string {
	return html.EscapeString(s)
}

// Or returns s, or def when s is blank.
func Or(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// Deref returns *s, or def when s is nil or blank.
func Deref(s *string, def string) string {
	if s == nil {
		return def
	}
	return Or(*s, def)
}

// Username renders "@name", or "-" when empty.
func Username(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "@")
	if name == "" {
		return "-"
	}
	return "@" + EscapeHTML(name)
}

// Amount prints a money amount without trailing zeros.
func Amount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Truncate keeps at most max runes and marks the cut with "…".
func Truncate(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
