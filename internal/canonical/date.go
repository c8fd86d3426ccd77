package canonical

import (
	"errors"
	"strings"
	"time"
)

// ErrUnparsableDate is returned when a raw date matches none of the known
// formats. Callers keep the raw string as a degraded document id instead of
// aborting extraction.
var ErrUnparsableDate = errors.New("unparsable date")

// dateLayouts is the bounded set of formats the remote source emits.
// Day-first layouts come before month-first so ambiguous numeric dates
// resolve the way the source intends.
var dateLayouts = []string{
	"2006-01-02",
	"02-Jan-2006",
	"2-Jan-2006",
	"02-01-2006",
	"02/01/2006",
	"02 Jan 2006",
}

// Date converts a raw date string into the canonical YYYY-MM-DD key.
// Timestamps are truncated to day granularity. On failure the original
// string is returned together with ErrUnparsableDate.
func Date(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return raw, ErrUnparsableDate
	}

	if t, ok := parseDate(s); ok {
		return t.Format("2006-01-02"), nil
	}

	// Broadcast timestamps carry a time component after the date; only the
	// first field participates in the canonical id.
	if fields := strings.Fields(s); len(fields) > 1 {
		if t, ok := parseDate(fields[0]); ok {
			return t.Format("2006-01-02"), nil
		}
	}

	return raw, ErrUnparsableDate
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DayKey formats a capture instant as the canonical per-day snapshot id.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
