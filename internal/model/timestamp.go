// Package model holds the in-memory table/partition/row containers that
// back the store: the reserved-field data model, the expiration indices
// used for eviction, and the garbage-collection result type produced by
// internal/gcplan.
package model

import (
	"strings"
	"time"
)

// Timestamp is a signed count of microseconds since the Unix epoch.
// The zero value means "unset" and serializes as JSON null rather than
// the epoch instant.
type Timestamp int64

// ZeroTimestamp is the "unset/null" sentinel.
const ZeroTimestamp Timestamp = 0

// timestampLayout matches the RFC3339-like form the store emits: no
// timezone offset, fractional seconds kept as written by the caller.
const timestampLayout = "2006-01-02T15:04:05.999999999"

// NewTimestamp converts a wall-clock instant to a Timestamp, truncating
// to microsecond resolution.
func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return ZeroTimestamp
	}
	return Timestamp(t.UnixMicro())
}

// IsZero reports whether the timestamp is the unset sentinel.
func (t Timestamp) IsZero() bool {
	return t == ZeroTimestamp
}

// Time converts the timestamp back to a UTC time.Time. The zero
// timestamp converts to the zero time.Time, not the Unix epoch.
func (t Timestamp) Time() time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return time.UnixMicro(int64(t)).UTC()
}

// String renders the RFC3339-like form truncated before any '+' offset
// marker, matching the wire/JSON representation. The zero timestamp
// renders as the empty string; callers that need "null" should check
// IsZero first.
func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	s := t.Time().Format(timestampLayout)
	if i := strings.IndexByte(s, '+'); i >= 0 {
		s = s[:i]
	}
	return s
}

// ParseTimestamp parses an RFC3339-like string into a Timestamp. A
// missing or unparsable value yields the zero timestamp rather than an
// error, matching the store's "tolerant deserialization" rule for
// reserved timestamp fields.
func ParseTimestamp(s string) Timestamp {
	s = strings.TrimSpace(s)
	if s == "" {
		return ZeroTimestamp
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		timestampLayout,
		"2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewTimestamp(t)
		}
	}
	return ZeroTimestamp
}

// Expires19 renders the fixed 19-character "YYYY-MM-DDTHH:MM:SS" form
// used when splicing an expiration value into a row's raw JSON (spec
// §4.2, "stored expiration, field present").
func (t Timestamp) Expires19() string {
	if t.IsZero() {
		return ""
	}
	return t.Time().Format("2006-01-02T15:04:05")
}
