// Package duetime resolves a schedule's stored due-time representation and
// declared IANA time zone into an absolute instant comparable against "now".
package duetime

import (
	"fmt"
	"strings"
	"time"
)

// ParseError reports an unrecognizable due-time value or time zone identifier.
// Schedules carrying one are skipped by the dispatcher, never treated as due.
type ParseError struct {
	Value string
	Zone  string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Zone != "" {
		return fmt.Sprintf("resolve due time %q in zone %q: %v", e.Value, e.Zone, e.Err)
	}
	return fmt.Sprintf("resolve due time %q: %v", e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Layouts accepted for absolute due times (offset or Z is part of the value).
var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
}

// Layouts accepted for zone-naive civil due times. The schedule's declared
// zone is attached during resolution; the process-local zone is never used.
var civilLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Resolve converts a stored due-time string plus a declared time zone into an
// absolute instant. Values that already carry an offset are used directly;
// zone-naive values are interpreted in the declared zone.
func Resolve(raw, zone string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, &ParseError{Value: raw, Zone: zone, Err: fmt.Errorf("empty due time")}
	}

	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}

	loc, err := time.LoadLocation(strings.TrimSpace(zone))
	if err != nil {
		return time.Time{}, &ParseError{Value: raw, Zone: zone, Err: fmt.Errorf("load location: %w", err)}
	}

	for _, layout := range civilLayouts {
		if t, parseErr := time.ParseInLocation(layout, value, loc); parseErr == nil {
			return t, nil
		}
	}

	return time.Time{}, &ParseError{Value: raw, Zone: zone, Err: fmt.Errorf("unrecognized layout")}
}

// IsDue reports whether the resolved due instant has been reached. Both sides
// are compared in UTC; a due time overdue by any amount is still due.
func IsDue(due, now time.Time) bool {
	return !due.UTC().After(now.UTC())
}
