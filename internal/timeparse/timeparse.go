// Package timeparse parses the handful of timestamp encodings the
// supported providers emit: RFC3339 with or without fractional seconds,
// Unix seconds, Unix milliseconds, and the legacy "YYYY-MM-DD HH:MM:SS[ UTC]"
// form some older exports use.
package timeparse

import (
	"strconv"
	"strings"
	"time"
)

var legacyFormats = []string{
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05 UTC",
	"2006-01-02 15:04:05",
}

// Parse tries, in order: the fixed legacy format list, RFC3339, then an
// integer epoch (seconds if it fits a reasonable range, else milliseconds).
// It returns false rather than an error so callers can fall back to a
// session-relative default without threading an error through parsers that
// tolerate missing timestamps.
func Parse(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range legacyFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromEpoch(n), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(int64(f)), true
	}

	return time.Time{}, false
}

// fromEpoch disambiguates seconds from milliseconds by magnitude: a
// second-granularity Unix timestamp for any date in this millennium is
// below 10^11, while the equivalent millisecond value is above it.
func fromEpoch(n int64) time.Time {
	if n > 100_000_000_000 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// ParseOr parses s, returning fallback when s is empty or unparseable.
func ParseOr(s string, fallback time.Time) time.Time {
	if t, ok := Parse(s); ok {
		return t
	}
	return fallback
}
