package gateway

import (
	"time"
)

// msMagnitudeThreshold is the boundary the legacy-store loader uses to
// tell seconds-since-epoch from milliseconds-since-epoch: anything at or
// above this is treated as milliseconds.
const msMagnitudeThreshold = 1e11

// parseLegacyEpoch interprets a bare integer timestamp from the legacy
// document store, which historically stored either seconds or
// milliseconds since epoch depending on which code path wrote the row.
func parseLegacyEpoch(v int64) time.Time {
	if v >= msMagnitudeThreshold {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

// formatISO8601 renders a timestamp the way the legacy mirror write
// stores it: ISO-8601, UTC, millisecond precision.
func formatISO8601(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// parseISO8601 parses a string previously written by formatISO8601, or
// anything RFC3339-compatible found in the legacy store.
func parseISO8601(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
