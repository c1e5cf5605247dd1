package model

import (
	"errors"
	"fmt"
	"time"
)

// naiveLayout matches timestamps emitted without a zone offset.
const naiveLayout = "2006-01-02T15:04:05.999999999"

// ParseTimestamp parses an ISO 8601 timestamp. Values without a zone offset
// are taken as UTC. The result is always in UTC.
func ParseTimestamp(iso string) (time.Time, error) {
	if iso == "" {
		return time.Time{}, errors.New("empty timestamp")
	}

	t, err := time.Parse(time.RFC3339Nano, iso)
	if err == nil {
		return t.UTC(), nil
	}

	t, err = time.ParseInLocation(naiveLayout, iso, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", iso, err)
	}
	return t, nil
}
