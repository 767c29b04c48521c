package units

import (
	"fmt"
	"time"
	_ "time/tzdata" // lab machines may lack a zoneinfo database
)

// DefaultLogTimezone is where the deposition and RTP tools write their logs.
// The instruments record wall-clock time without an offset.
const DefaultLogTimezone = "Europe/Copenhagen"

// IsTimezoneValid checks if the given timezone is valid by attempting to load it from the tz database
func IsTimezoneValid(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// LoadLogLocation resolves the timezone instrument timestamps are written in.
// An empty name means UTC.
func LoadLogLocation(tz string) (*time.Location, error) {
	if tz == "" || tz == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", tz, err)
	}
	return loc, nil
}
