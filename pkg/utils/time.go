package utils

import "time"

// Now returns current time. A variable so tests can pin the clock.
var Now = time.Now

// IsExpired checks whether the timestamp plus ttl is in the past.
func IsExpired(timestamp time.Time, ttl time.Duration) bool {
	return Now().Sub(timestamp) > ttl
}

// FormatTimestamp formats a timestamp in ISO 8601 format.
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}

// ParseTimestamp parses an ISO 8601 timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
