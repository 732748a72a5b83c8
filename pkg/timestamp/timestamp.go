// Package timestamp converts CMCD epoch-millisecond values and renders the
// record datetime fields.
//
// Records carry times as ISO-8601 strings in UTC with millisecond precision:
//
//	timestamp.Format(time.Now())                 // "2024-03-01T12:00:00.123Z"
//	t, ok := timestamp.FromMillis(1678886400000) // 2023-03-15T13:20:00Z
package timestamp

import (
	"math"
	"time"
)

// Layout is the record datetime layout
const Layout = "2006-01-02T15:04:05.000Z07:00"

// MaxMillis bounds the representable range: 100 million days either side
// of the epoch.
const MaxMillis = 8.64e15

// Format renders t in UTC using Layout
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// FromMillis converts an epoch-millisecond value. Fractions below one
// millisecond are truncated. ok is false for NaN, infinities and values
// beyond MaxMillis.
func FromMillis(ms float64) (time.Time, bool) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || math.Abs(ms) > MaxMillis {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)), true
}

// FormatMillis is FromMillis followed by Format
func FormatMillis(ms float64) (string, bool) {
	t, ok := FromMillis(ms)
	if !ok {
		return "", false
	}
	return Format(t), true
}

// ToMillis returns t as epoch milliseconds, or 0 for the zero time
func ToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
