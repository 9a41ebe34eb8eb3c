package telemetry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// isoLayouts are tried in order for non-epoch timestamps. Agents emit
// Python-style isoformat strings (naive, microsecond precision), some with a
// trailing Z or a numeric offset.
var isoLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the heterogeneous timestamp encodings agents send:
// a Unix epoch as a numeric string (fractional seconds allowed) or an
// ISO-8601 string with optional zone designator. The result is always UTC so
// that epoch and ISO encodings of the same instant compare equal; naive
// strings are interpreted as UTC wall time.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if isEpochString(s) {
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid epoch timestamp %q: %w", raw, err)
		}
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC(), nil
	}

	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format %q", raw)
}

// isEpochString reports whether s consists solely of digits and at most one
// decimal point.
func isEpochString(s string) bool {
	dots := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.':
			dots++
			if dots > 1 {
				return false
			}
		default:
			return false
		}
	}
	return len(s) > dots
}

// FormatEpoch renders a numeric Unix timestamp back to the string form the
// classifier stores, so epoch-encoded fields stay parseable.
func FormatEpoch(secs float64) string {
	return strconv.FormatFloat(secs, 'f', -1, 64)
}

// FormatTimestamp renders t the way agents and the original backend do:
// naive ISO-8601 with microsecond precision, in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000")
}
