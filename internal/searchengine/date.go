package searchengine

import (
	"fmt"
	"time"
)

// parseFlexDate parses a FHIR partial date/time value and returns the
// inclusive [start, end) range it denotes, per spec §4's date-granularity
// handling: a year-only value matches the whole year, a full timestamp
// matches only that instant. Grounded on the teacher's parseFlexDate in
// internal/platform/fhir/search.go, generalized to return a range instead
// of a single instant so eq-prefix day/month/year granularity can be
// expressed as a single BETWEEN-style predicate.
func parseFlexDate(s string) (time.Time, time.Time, error) {
	layouts := []struct {
		layout string
		unit   func(time.Time) time.Time
	}{
		{time.RFC3339, func(t time.Time) time.Time { return t }},
		{"2006-01-02T15:04:05", func(t time.Time) time.Time { return t }},
		{"2006-01-02", func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }},
		{"2006-01", func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }},
		{"2006", func(t time.Time) time.Time { return t.AddDate(1, 0, 0) }},
	}
	for _, l := range layouts {
		if t, err := time.Parse(l.layout, s); err == nil {
			end := l.unit(t)
			if end.Equal(t) {
				return t, t, nil
			}
			return t, end, nil
		}
	}
	return time.Time{}, time.Time{}, fmt.Errorf("searchengine: unable to parse date %q", s)
}
