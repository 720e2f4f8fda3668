package database

import (
	"fmt"
	"time"
)

// timeLayouts covers what lib/pq and go-sqlite3 hand back for timestamp
// columns when they do not convert to time.Time themselves.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NullTime scans a nullable timestamp column regardless of whether the driver
// returns time.Time, string or []byte. Parsed values are normalised to UTC.
type NullTime struct {
	Time  time.Time
	Valid bool
}

func (t *NullTime) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("scanning %T into NullTime", value)
	}
}

func (t *NullTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

// Ptr returns nil for NULL.
func (t NullTime) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// TimeArg converts an optional timestamp into a query argument.
func TimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// StringArg converts the empty string into NULL.
func StringArg(s string) any {
	if s == "" {
		return nil
	}
	return s
}
