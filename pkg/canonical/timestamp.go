package canonical

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Timestamps are UTC ISO-8601 with millisecond precision, e.g.
// "2026-08-24T11:05:30.123Z". The canonicalizer validates the format only;
// it never interprets timestamp semantics.

const TimestampLayout = "2006-01-02T15:04:05.000Z"

var (
	ErrInvalidTimestamp = errors.New("canonical: invalid timestamp (expected UTC ISO-8601 milliseconds)")

	timestampRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`)
)

// FormatTimestamp renders t in the canonical wire form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ValidateTimestamp checks that s is a well-formed UTC millisecond timestamp.
func ValidateTimestamp(s string) error {
	if !timestampRe.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	if _, err := time.Parse(TimestampLayout, s); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	return nil
}

// ParseTimestamp parses a canonical timestamp into UTC time.
func ParseTimestamp(s string) (time.Time, error) {
	if err := ValidateTimestamp(s); err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	return t.UTC(), nil
}
