// Package record defines the opaque record shape shared by every
// stream. Records are never strongly typed beyond the primary key and
// cursor field a stream declares (spec.md §9 "dynamic record shapes").
package record

import (
	"strconv"
	"time"
)

// Record is a single normalized entity yielded by a stream. Data holds
// the raw decoded JSON object as returned (and reshaped) by the
// Klaviyo API; callers only ever reach into it by field name.
type Record struct {
	Stream string
	Data   map[string]interface{}
}

// New wraps a decoded JSON object as a Record for the named stream.
func New(stream string, data map[string]interface{}) Record {
	return Record{Stream: stream, Data: data}
}

// PrimaryKey returns the record's primary-key value as a comparable
// string, or ok=false if the field is absent or not a scalar.
func (r Record) PrimaryKey(field string) (string, bool) {
	return scalarString(r.Data[field])
}

// Cursor returns the record's cursor-field value parsed as an RFC3339
// (or close variant) timestamp, or ok=false if absent or unparsable.
func (r Record) Cursor(field string) (time.Time, bool) {
	if field == "" {
		return time.Time{}, false
	}
	raw, ok := scalarString(r.Data[field])
	if !ok {
		return time.Time{}, false
	}
	return ParseTimestamp(raw)
}

// ParseTimestamp tries the handful of timestamp layouts Klaviyo's API
// actually returns across endpoints.
func ParseTimestamp(raw string) (time.Time, bool) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func scalarString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, t != ""
	case float64:
		return trimFloat(t), true
	default:
		return "", false
	}
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
