package normalize

import (
	"strconv"
	"strings"
	"time"
)

// Release years at or beyond these bounds are placeholders from upstream
// catalogs, not real dates.
var (
	MinYear = 1970
	MaxYear = 2026
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006.01.02",
	"2006/01/02",
	"2006-01",
	"2006",
}

// ParseDate accepts YYYY, YYYY-MM-DD (and a few separator variants, plus
// compact YYYYMMDD), and epoch timestamps in seconds or milliseconds. Timestamps longer than ten
// digits are treated as milliseconds.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return time.Time{}, false
	}
	if isDigits(s) && len(s) == 8 {
		if t, err := time.Parse("20060102", s); err == nil {
			return t.UTC(), true
		}
	}
	if isDigits(s) && len(s) > 4 {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n <= 0 {
			return time.Time{}, false
		}
		if len(s) > 10 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if len(s) >= 4 && isDigits(s[:4]) {
		if t, err := time.Parse("2006", s[:4]); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseEpochMillis converts a millisecond timestamp, returning false for
// zero or negative values.
func ParseEpochMillis(ms int64) (time.Time, bool) {
	if ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// ValidYear reports whether t falls strictly inside (MinYear, MaxYear).
func ValidYear(t time.Time) bool {
	y := t.Year()
	return y > MinYear && y < MaxYear
}

// ValidDate is ValidYear for an optional date.
func ValidDate(t *time.Time) bool {
	return t != nil && !t.IsZero() && ValidYear(*t)
}

// AcceptDate decides whether candidate should replace current. The
// candidate must have a valid year; it wins when current is missing or
// invalid, or when the two differ by more than one day.
func AcceptDate(current *time.Time, candidate time.Time) bool {
	if candidate.IsZero() || !ValidYear(candidate) {
		return false
	}
	if !ValidDate(current) {
		return true
	}
	diff := candidate.Sub(*current)
	if diff < 0 {
		diff = -diff
	}
	return diff > 24*time.Hour
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
