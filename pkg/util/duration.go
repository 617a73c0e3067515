package util

import (
	"time"

	"github.com/senseyeio/duration"
)

// ParseISODuration parses an ISO-8601 duration string such as "PT30M" into
// a time.Duration. Only the time-of-day components are meaningful for the
// configuration values this module uses (sample spacing, minimum delay), so
// calendar components (years/months/days) are folded into hours via a
// fixed 24h day, matching how config values are actually consumed.
func ParseISODuration(s string) (time.Duration, error) {
	d, err := duration.ParseISO8601(s)
	if err != nil {
		return 0, err
	}

	days := d.Y*365 + d.M*30 + d.W*7 + d.D
	total := time.Duration(days) * 24 * time.Hour
	total += time.Duration(d.TH) * time.Hour
	total += time.Duration(d.TM) * time.Minute
	total += time.Duration(d.TS) * time.Second

	return total, nil
}
