package record

import "time"

// TimeLayout is the canonical timestamp encoding: UTC with millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts the canonical layout and RFC 3339 with any precision.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// CanonicalTime re-encodes a timestamp given as time.Time or string. It
// reports false for values that are not timestamps.
func CanonicalTime(v any) (string, bool) {
	switch t := v.(type) {
	case time.Time:
		return FormatTime(t), true
	case *time.Time:
		if t == nil {
			return "", false
		}
		return FormatTime(*t), true
	case string:
		parsed, err := ParseTime(t)
		if err != nil {
			return "", false
		}
		return FormatTime(parsed), true
	}
	return "", false
}
