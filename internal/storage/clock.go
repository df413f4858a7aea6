package storage

import (
	"fmt"
	"strings"
	"time"
)

// dayBoundaryHour partitions days at 04:00 local time rather than
// midnight, so late-night activity stays on the preceding day.
const dayBoundaryHour = 4

var clockLayouts = []string{
	"3:04 PM",
	"3:04PM",
	"15:04",
	"3:04:05 PM",
	"15:04:05",
}

// ParseClock parses a wall-clock string such as "2:30 PM" or "14:30"
// into an hour and minute.
func ParseClock(s string) (hour, minute int, err error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, layout := range clockLayouts {
		if t, perr := time.Parse(layout, s); perr == nil {
			return t.Hour(), t.Minute(), nil
		}
	}
	return 0, 0, fmt.Errorf("unparseable clock string %q", s)
}

// DayString returns the 4AM-boundary day label for a unix timestamp:
// a "day" runs 04:00 local to 04:00 local the next calendar date.
func DayString(ts int64) string {
	return time.Unix(ts, 0).Add(-dayBoundaryHour * time.Hour).Format("2006-01-02")
}

// DayRange returns the half-open [start, end) unix range covered by a
// 4AM-boundary day label.
func DayRange(day string) (int64, int64, error) {
	t, err := time.ParseInLocation("2006-01-02", day, time.Local)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid day %q: %w", day, err)
	}
	start := t.Add(dayBoundaryHour * time.Hour)
	return start.Unix(), start.Add(24 * time.Hour).Unix(), nil
}

// resolveBatchAnchored resolves a start/end clock pair against a batch
// anchor timestamp. Early-morning clocks (before the 4AM boundary) that
// fall before the anchor are ambiguous: they may describe activity that
// crossed midnight. The same-day and next-day interpretations are
// compared by distance to the anchor and the closer one wins. An end
// earlier than the resolved start advances one day.
func resolveBatchAnchored(startClock, endClock string, anchorTs int64) (int64, int64, error) {
	anchor := time.Unix(anchorTs, 0)

	start, err := resolveNearAnchor(startClock, anchor)
	if err != nil {
		return 0, 0, err
	}
	end, err := resolveNearAnchor(endClock, anchor)
	if err != nil {
		return 0, 0, err
	}
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return start.Unix(), end.Unix(), nil
}

func resolveNearAnchor(clock string, anchor time.Time) (time.Time, error) {
	hour, minute, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := anchor.Date()
	sameDay := time.Date(y, m, d, hour, minute, 0, 0, anchor.Location())
	if hour < dayBoundaryHour && sameDay.Before(anchor) {
		nextDay := sameDay.AddDate(0, 0, 1)
		if absDuration(nextDay.Sub(anchor)) < absDuration(anchor.Sub(sameDay)) {
			return nextDay, nil
		}
	}
	return sameDay, nil
}

// resolveMidpointAnchored resolves a start/end clock pair against the
// midpoint of a replacement window. Each clock tries the previous,
// same, and next calendar day and keeps whichever timestamp lands
// closest to the midpoint.
func resolveMidpointAnchored(startClock, endClock string, fromTs, toTs int64) (int64, int64, error) {
	mid := time.Unix(fromTs+(toTs-fromTs)/2, 0)

	start, err := resolveNearMidpoint(startClock, mid)
	if err != nil {
		return 0, 0, err
	}
	end, err := resolveNearMidpoint(endClock, mid)
	if err != nil {
		return 0, 0, err
	}
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return start.Unix(), end.Unix(), nil
}

func resolveNearMidpoint(clock string, mid time.Time) (time.Time, error) {
	hour, minute, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := mid.Date()
	best := time.Time{}
	for offset := -1; offset <= 1; offset++ {
		candidate := time.Date(y, m, d+offset, hour, minute, 0, 0, mid.Location())
		if best.IsZero() || absDuration(candidate.Sub(mid)) < absDuration(best.Sub(mid)) {
			best = candidate
		}
	}
	return best, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
