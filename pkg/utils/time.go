package utils

import "time"

// FormatTimestamp formats a timestamp in ISO 8601 format, the form chat
// payloads carry on the wire.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseDurationSafe parses a duration string, falling back to a default.
func ParseDurationSafe(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Now is swappable in tests.
var Now = time.Now
