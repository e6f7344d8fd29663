package api

import (
	"fmt"
	"strconv"
	"time"
)

// parseTime accepts RFC 3339 instants or YYYY-MM-DD dates, the latter read
// as local midnight in loc. An empty string yields the zero time.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", s)
	}
	return t, nil
}

// queryInt64 parses an optional non-negative integer.
func queryInt64(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%q must be a non-negative integer", s)
	}
	return n, nil
}
