// Package dates parses event timestamps and walks calendar-day ranges.
package dates

import (
	"fmt"
	"strings"
	"time"
)

const DayLayout = "2006-01-02"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	DayLayout,
}

// ParseTimestamp accepts ISO-8601 timestamps with or without an offset.
// Naive timestamps are read as UTC.
func ParseTimestamp(ts string) (time.Time, error) {
	s := strings.TrimSpace(ts)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", ts)
}

// DateOf returns the calendar date of ts in its own offset, falling back to
// the first ten characters when ts does not parse.
func DateOf(ts string) string {
	if t, err := ParseTimestamp(ts); err == nil {
		return t.Format(DayLayout)
	}
	if len(ts) <= len(DayLayout) {
		return ts
	}
	return ts[:len(DayLayout)]
}

func ParseDay(day string) (time.Time, error) {
	t, err := time.Parse(DayLayout, strings.TrimSpace(day))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", day)
	}
	return t, nil
}

// Days lists every calendar day in [start, end] inclusive. It returns an
// empty slice when end precedes start.
func Days(start, end time.Time) []string {
	start = truncateDay(start)
	end = truncateDay(end)
	if end.Before(start) {
		return []string{}
	}
	out := make([]string, 0, int(end.Sub(start).Hours()/24)+1)
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 0, 1) {
		out = append(out, cur.Format(DayLayout))
	}
	return out
}

// Window returns [now-days, now] as dates.
func Window(now time.Time, days int) (string, string) {
	return now.AddDate(0, 0, -days).Format(DayLayout), now.Format(DayLayout)
}

// NextDay returns the date after day, or day unchanged when it does not parse.
func NextDay(day string) string {
	t, err := ParseDay(day)
	if err != nil {
		return day
	}
	return t.AddDate(0, 0, 1).Format(DayLayout)
}

// Compare is a total order over timestamps: parseable ones first, in
// chronological order with the raw text breaking ties, then unparseable
// ones lexically.
func Compare(a, b string) int {
	ta, errA := ParseTimestamp(a)
	tb, errB := ParseTimestamp(b)
	switch {
	case errA == nil && errB == nil:
		if c := ta.Compare(tb); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
