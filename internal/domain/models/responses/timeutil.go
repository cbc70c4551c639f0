package responses

import "time"

// rfc3339Milli is the single format used to serialize every persisted
// timestamp: RFC3339 in UTC at millisecond precision.
const rfc3339Milli = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t as the canonical persisted timestamp string.
func FormatTime(t time.Time) string {
	return t.UTC().Format(rfc3339Milli)
}

// ParseTime parses the canonical persisted timestamp string.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(rfc3339Milli, s)
}
